// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package settings

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reflow-oven-go/pkg/errs"
	"reflow-oven-go/pkg/log"
)

func testLogger() *log.Logger {
	l := log.New("test")
	l.SetWriter(io.Discard)
	return l
}

func TestManagerDefaults(t *testing.T) {
	m, err := NewManager(NewMemStore(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, DefaultHeatKp, m.HeatingKp())
	assert.Equal(t, DefaultSetpointW, m.SetpointWeight())
	assert.Equal(t, DefaultInputFilterMs, m.InputFilterTimeMs())
	assert.Equal(t, DefaultInputsMask, m.InputsMask())
	assert.Equal(t, DefaultRelaysPWMMask, m.RelaysPWMMask())
	assert.Equal(t, DefaultRelaysOnMask, m.RelaysOnMask())
	assert.Equal(t, DefaultRelayWeights(), m.RelayWeights())
	assert.Equal(t, DefaultDoorOpen, m.DoorOpenAngleDeg())
	assert.Equal(t, DefaultLogIntervalMs, m.DataLogIntervalMs())
	assert.True(t, m.DataLogEnabled())
}

func TestManagerPersistsAndReloads(t *testing.T) {
	store := NewMemStore()

	m, err := NewManager(store, testLogger())
	require.NoError(t, err)

	require.NoError(t, m.SetHeatingKp(12.5))
	require.NoError(t, m.SetCoolingKd(3.25))
	require.NoError(t, m.SetInputsMask(0b0000_0110))
	weights := DefaultRelayWeights()
	weights[3] = 0.33
	require.NoError(t, m.SetRelayWeights(weights))

	// A fresh manager over the same store sees the saved values.
	m2, err := NewManager(store, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 12.5, m2.HeatingKp())
	assert.Equal(t, 3.25, m2.CoolingKd())
	assert.Equal(t, uint8(0b0000_0110), m2.InputsMask())
	assert.Equal(t, 0.33, m2.RelayWeights()[3])
}

func TestManagerWriteFailureLeavesCacheUnchanged(t *testing.T) {
	store := NewMemStore()
	m, err := NewManager(store, testLogger())
	require.NoError(t, err)

	store.WriteError = errors.New("flash worn out")
	err = m.SetHeatingKp(99)
	require.Error(t, err)
	assert.Equal(t, DefaultHeatKp, m.HeatingKp())
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	s, err := OpenFileStore(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.SetFloat("gain", 4.5))
	require.NoError(t, s.SetUint("mask", 0b101))
	require.NoError(t, s.SetString("slot0_name", "lead-free"))

	s2, err := OpenFileStore(path, testLogger())
	require.NoError(t, err)

	f, err := s2.GetFloat("gain")
	require.NoError(t, err)
	assert.Equal(t, 4.5, f)

	u, err := s2.GetUint("mask")
	require.NoError(t, err)
	assert.Equal(t, uint64(0b101), u)

	str, err := s2.GetString("slot0_name")
	require.NoError(t, err)
	assert.Equal(t, "lead-free", str)
}

func TestFileStoreNotFound(t *testing.T) {
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "settings.yaml"), testLogger())
	require.NoError(t, err)

	_, err = s.GetFloat("missing")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestFileStoreCorruptionWipes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{not yaml"), 0644))

	s, err := OpenFileStore(path, testLogger())
	require.NoError(t, err)

	// The corrupt content was replaced by an empty store.
	assert.False(t, s.Has("anything"))
	_, err = s.GetFloat("gain")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestFileStoreDelete(t *testing.T) {
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "settings.yaml"), testLogger())
	require.NoError(t, err)

	require.NoError(t, s.SetString("slot1_blob", "{}"))
	assert.True(t, s.Has("slot1_blob"))

	require.NoError(t, s.Delete("slot1_blob"))
	assert.False(t, s.Has("slot1_blob"))

	// Deleting a missing key succeeds.
	require.NoError(t, s.Delete("slot1_blob"))
}
