// Key-value settings storage for the reflow oven controller
//
// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"reflow-oven-go/pkg/errs"
	"reflow-oven-go/pkg/log"
)

// Store is the persistence surface for settings and profile slots.
// Missing keys return a NotFound error; write failures surface to the
// caller.
type Store interface {
	GetFloat(key string) (float64, error)
	SetFloat(key string, value float64) error
	GetUint(key string) (uint64, error)
	SetUint(key string, value uint64) error
	GetString(key string) (string, error)
	SetString(key string, value string) error
	Delete(key string) error
	Has(key string) bool
}

// FileStore persists keys to a single YAML file, rewritten atomically on
// every set. A corrupt file is wiped and re-defaulted rather than blocking
// startup.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]interface{}
	logger *log.Logger
}

// OpenFileStore loads (or creates) the YAML store at path.
func OpenFileStore(path string, logger *log.Logger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		values: make(map[string]interface{}),
		logger: logger,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindIoFailed, err, "read settings file %s", path)
	}

	if err := yaml.Unmarshal(data, &s.values); err != nil {
		// Corrupt store: wipe and start from defaults.
		logger.WithError(err).Warn("settings file corrupt, wiping %s", path)
		s.values = make(map[string]interface{})
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
	}
	if s.values == nil {
		s.values = make(map[string]interface{})
	}

	return s, nil
}

// persistLocked writes the whole map atomically. Called with the lock held.
func (s *FileStore) persistLocked() error {
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return errs.Wrap(errs.KindIoFailed, err, "marshal settings")
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errs.Wrap(errs.KindIoFailed, err, "create settings directory")
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errs.Wrap(errs.KindIoFailed, err, "write settings file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errs.Wrap(errs.KindIoFailed, err, "replace settings file")
	}
	return nil
}

func (s *FileStore) get(key string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "setting %q not found", key)
	}
	return v, nil
}

func (s *FileStore) set(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.persistLocked()
}

// GetFloat reads a float setting.
func (s *FileStore) GetFloat(key string) (float64, error) {
	v, err := s.get(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, errs.New(errs.KindIoFailed, "setting %q has type %T, want number", key, v)
	}
}

// SetFloat writes a float setting.
func (s *FileStore) SetFloat(key string, value float64) error {
	return s.set(key, value)
}

// GetUint reads an unsigned integer setting.
func (s *FileStore) GetUint(key string) (uint64, error) {
	v, err := s.get(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		if n < 0 {
			return 0, errs.New(errs.KindIoFailed, "setting %q is negative", key)
		}
		return uint64(n), nil
	case uint64:
		return n, nil
	case float64:
		return uint64(n), nil
	default:
		return 0, errs.New(errs.KindIoFailed, "setting %q has type %T, want integer", key, v)
	}
}

// SetUint writes an unsigned integer setting.
func (s *FileStore) SetUint(key string, value uint64) error {
	return s.set(key, value)
}

// GetString reads a string setting.
func (s *FileStore) GetString(key string) (string, error) {
	v, err := s.get(key)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", errs.New(errs.KindIoFailed, "setting %q has type %T, want string", key, v)
	}
	return str, nil
}

// SetString writes a string setting.
func (s *FileStore) SetString(key string, value string) error {
	return s.set(key, value)
}

// Delete removes a key. Deleting a missing key succeeds.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.persistLocked()
}

// Has reports whether a key exists.
func (s *FileStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu     sync.Mutex
	values map[string]interface{}

	// WriteError, if set, is returned by every setter.
	WriteError error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]interface{})}
}

func (s *MemStore) get(key string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "setting %q not found", key)
	}
	return v, nil
}

func (s *MemStore) set(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return s.WriteError
	}
	s.values[key] = value
	return nil
}

func (s *MemStore) GetFloat(key string) (float64, error) {
	v, err := s.get(key)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, errs.New(errs.KindIoFailed, "setting %q has type %T", key, v)
	}
	return f, nil
}

func (s *MemStore) SetFloat(key string, value float64) error { return s.set(key, value) }

func (s *MemStore) GetUint(key string) (uint64, error) {
	v, err := s.get(key)
	if err != nil {
		return 0, err
	}
	u, ok := v.(uint64)
	if !ok {
		return 0, errs.New(errs.KindIoFailed, "setting %q has type %T", key, v)
	}
	return u, nil
}

func (s *MemStore) SetUint(key string, value uint64) error { return s.set(key, value) }

func (s *MemStore) GetString(key string) (string, error) {
	v, err := s.get(key)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", errs.New(errs.KindIoFailed, "setting %q has type %T", key, v)
	}
	return str, nil
}

func (s *MemStore) SetString(key string, value string) error { return s.set(key, value) }

func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return s.WriteError
	}
	delete(s.values, key)
	return nil
}

func (s *MemStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

// Dump returns a copy of the stored values, for tests.
func (s *MemStore) Dump() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// ensure both implement Store
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemStore)(nil)
)

// keyError formats a consistent wrap for typed manager load failures.
func keyError(key string, err error) error {
	return fmt.Errorf("load %s: %w", key, err)
}
