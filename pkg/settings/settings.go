// Typed settings manager for the reflow oven controller
//
// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package settings

import (
	"fmt"
	"sync"

	"reflow-oven-go/pkg/errs"
	"reflow-oven-go/pkg/log"
)

// Storage keys. Kept short in the NVS tradition of the original board.
const (
	keyHeatKp       = "hgain_p"
	keyHeatKi       = "hgain_i"
	keyHeatKd       = "hgain_d"
	keyCoolKp       = "cgain_p"
	keyCoolKi       = "cgain_i"
	keyCoolKd       = "cgain_d"
	keySetpointW    = "sp_weight"
	keyDerivFilter  = "dfilter_s"
	keyIntegZone    = "izone_c"
	keyIntegLeak    = "ileak_s"
	keyInputFilter  = "in_filter_ms"
	keyInputsMask   = "inputs_mask"
	keyRelaysPWM    = "relays_pwm_mask"
	keyRelaysOn     = "relays_on_mask"
	keyDoorClosed   = "door_closed_deg"
	keyDoorOpen     = "door_open_deg"
	keyDoorSpeed    = "door_speed_dps"
	keyLogInterval  = "dlog_int_ms"
	keyLogWindow    = "dlog_win_ms"
	keyLogEnabled   = "dlog_on"
)

func relayWeightKey(index int) string {
	return fmt.Sprintf("relay_w%d", index)
}

// Defaults applied when a key has never been saved.
const (
	DefaultHeatKp        = 1.0
	DefaultHeatKi        = 0.0
	DefaultHeatKd        = 0.0
	DefaultCoolKp        = 1.0
	DefaultCoolKi        = 0.0
	DefaultCoolKd        = 0.0
	DefaultSetpointW     = 1.0
	DefaultDerivFilter   = 0.0
	DefaultIntegZone     = 0.0
	DefaultIntegLeak     = 0.0
	DefaultInputFilterMs = 100.0
	DefaultInputsMask    = uint8(0b0000_0001) // channel 0 only
	DefaultRelaysPWMMask = uint8(0b0000_0011) // relays 0 and 1
	DefaultRelaysOnMask  = uint8(0b0000_0100) // relay 2 while running
	DefaultDoorClosed    = 0.0
	DefaultDoorOpen      = 90.0
	DefaultDoorSpeed     = 60.0
	DefaultLogIntervalMs = 1000
	DefaultLogWindowMs   = 30 * 60 * 1000
	DefaultLogEnabled    = true
)

// DefaultRelayWeights returns the per-relay PWM weights applied when none
// have been saved: relay 0 at full strength, relay 1 at half.
func DefaultRelayWeights() [8]float64 {
	return [8]float64{1.0, 0.5, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0}
}

// Manager caches every tunable in memory and writes through to a Store.
// Missing keys fall back to defaults; write failures surface to the caller
// and leave the cached value unchanged.
type Manager struct {
	mu     sync.Mutex
	store  Store
	logger *log.Logger

	heatKp, heatKi, heatKd float64
	coolKp, coolKi, coolKd float64
	setpointWeight         float64
	derivFilterTime        float64
	integratorZone         float64
	integratorLeakTime     float64
	inputFilterTimeMs      float64
	inputsMask             uint8
	relaysPWMMask          uint8
	relayWeights           [8]float64
	relaysOnMask           uint8
	doorClosedDeg          float64
	doorOpenDeg            float64
	doorSpeedDegPerSec     float64
	logIntervalMs          int
	logWindowMs            int
	logEnabled             bool
}

// NewManager loads all settings from the store, substituting defaults for
// keys that were never saved.
func NewManager(store Store, logger *log.Logger) (*Manager, error) {
	m := &Manager{store: store, logger: logger}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadFloat(key string, def float64) (float64, error) {
	v, err := m.store.GetFloat(key)
	if errs.IsKind(err, errs.KindNotFound) {
		return def, nil
	}
	if err != nil {
		return def, keyError(key, err)
	}
	return v, nil
}

func (m *Manager) loadMask(key string, def uint8) (uint8, error) {
	v, err := m.store.GetUint(key)
	if errs.IsKind(err, errs.KindNotFound) {
		return def, nil
	}
	if err != nil {
		return def, keyError(key, err)
	}
	return uint8(v), nil
}

func (m *Manager) load() error {
	var err error
	type floatSlot struct {
		dst *float64
		key string
		def float64
	}
	floats := []floatSlot{
		{&m.heatKp, keyHeatKp, DefaultHeatKp},
		{&m.heatKi, keyHeatKi, DefaultHeatKi},
		{&m.heatKd, keyHeatKd, DefaultHeatKd},
		{&m.coolKp, keyCoolKp, DefaultCoolKp},
		{&m.coolKi, keyCoolKi, DefaultCoolKi},
		{&m.coolKd, keyCoolKd, DefaultCoolKd},
		{&m.setpointWeight, keySetpointW, DefaultSetpointW},
		{&m.derivFilterTime, keyDerivFilter, DefaultDerivFilter},
		{&m.integratorZone, keyIntegZone, DefaultIntegZone},
		{&m.integratorLeakTime, keyIntegLeak, DefaultIntegLeak},
		{&m.inputFilterTimeMs, keyInputFilter, DefaultInputFilterMs},
		{&m.doorClosedDeg, keyDoorClosed, DefaultDoorClosed},
		{&m.doorOpenDeg, keyDoorOpen, DefaultDoorOpen},
		{&m.doorSpeedDegPerSec, keyDoorSpeed, DefaultDoorSpeed},
	}
	for _, f := range floats {
		if *f.dst, err = m.loadFloat(f.key, f.def); err != nil {
			return err
		}
	}

	if m.inputsMask, err = m.loadMask(keyInputsMask, DefaultInputsMask); err != nil {
		return err
	}
	if m.relaysPWMMask, err = m.loadMask(keyRelaysPWM, DefaultRelaysPWMMask); err != nil {
		return err
	}
	if m.relaysOnMask, err = m.loadMask(keyRelaysOn, DefaultRelaysOnMask); err != nil {
		return err
	}

	defaults := DefaultRelayWeights()
	for i := range m.relayWeights {
		if m.relayWeights[i], err = m.loadFloat(relayWeightKey(i), defaults[i]); err != nil {
			return err
		}
	}

	interval, err := m.loadFloat(keyLogInterval, DefaultLogIntervalMs)
	if err != nil {
		return err
	}
	m.logIntervalMs = int(interval)

	window, err := m.loadFloat(keyLogWindow, DefaultLogWindowMs)
	if err != nil {
		return err
	}
	m.logWindowMs = int(window)

	enabled, err := m.loadMask(keyLogEnabled, 1)
	if err != nil {
		return err
	}
	m.logEnabled = enabled != 0

	return nil
}

// setFloat persists then caches one float value.
func (m *Manager) setFloat(key string, dst *float64, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetFloat(key, value); err != nil {
		return err
	}
	*dst = value
	return nil
}

func (m *Manager) setMask(key string, dst *uint8, value uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetUint(key, uint64(value)); err != nil {
		return err
	}
	*dst = value
	return nil
}

func (m *Manager) getFloat(v *float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *v
}

// Heating gain accessors.

func (m *Manager) HeatingKp() float64 { return m.getFloat(&m.heatKp) }
func (m *Manager) HeatingKi() float64 { return m.getFloat(&m.heatKi) }
func (m *Manager) HeatingKd() float64 { return m.getFloat(&m.heatKd) }

func (m *Manager) SetHeatingKp(v float64) error { return m.setFloat(keyHeatKp, &m.heatKp, v) }
func (m *Manager) SetHeatingKi(v float64) error { return m.setFloat(keyHeatKi, &m.heatKi, v) }
func (m *Manager) SetHeatingKd(v float64) error { return m.setFloat(keyHeatKd, &m.heatKd, v) }

// Cooling gain accessors.

func (m *Manager) CoolingKp() float64 { return m.getFloat(&m.coolKp) }
func (m *Manager) CoolingKi() float64 { return m.getFloat(&m.coolKi) }
func (m *Manager) CoolingKd() float64 { return m.getFloat(&m.coolKd) }

func (m *Manager) SetCoolingKp(v float64) error { return m.setFloat(keyCoolKp, &m.coolKp, v) }
func (m *Manager) SetCoolingKi(v float64) error { return m.setFloat(keyCoolKi, &m.coolKi, v) }
func (m *Manager) SetCoolingKd(v float64) error { return m.setFloat(keyCoolKd, &m.coolKd, v) }

// Regulator shaping accessors.

func (m *Manager) SetpointWeight() float64     { return m.getFloat(&m.setpointWeight) }
func (m *Manager) DerivativeFilterTime() float64 { return m.getFloat(&m.derivFilterTime) }
func (m *Manager) IntegratorZone() float64     { return m.getFloat(&m.integratorZone) }
func (m *Manager) IntegratorLeakTime() float64 { return m.getFloat(&m.integratorLeakTime) }
func (m *Manager) InputFilterTimeMs() float64  { return m.getFloat(&m.inputFilterTimeMs) }

func (m *Manager) SetSetpointWeight(v float64) error {
	return m.setFloat(keySetpointW, &m.setpointWeight, v)
}

func (m *Manager) SetDerivativeFilterTime(v float64) error {
	return m.setFloat(keyDerivFilter, &m.derivFilterTime, v)
}

func (m *Manager) SetIntegratorZone(v float64) error {
	return m.setFloat(keyIntegZone, &m.integratorZone, v)
}

func (m *Manager) SetIntegratorLeakTime(v float64) error {
	return m.setFloat(keyIntegLeak, &m.integratorLeakTime, v)
}

func (m *Manager) SetInputFilterTimeMs(v float64) error {
	return m.setFloat(keyInputFilter, &m.inputFilterTimeMs, v)
}

// Channel and relay mask accessors.

func (m *Manager) InputsMask() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputsMask
}

func (m *Manager) SetInputsMask(v uint8) error { return m.setMask(keyInputsMask, &m.inputsMask, v) }

func (m *Manager) RelaysPWMMask() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relaysPWMMask
}

func (m *Manager) SetRelaysPWMMask(v uint8) error {
	return m.setMask(keyRelaysPWM, &m.relaysPWMMask, v)
}

func (m *Manager) RelaysOnMask() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relaysOnMask
}

func (m *Manager) SetRelaysOnMask(v uint8) error {
	return m.setMask(keyRelaysOn, &m.relaysOnMask, v)
}

// RelayWeights returns the per-relay PWM weights.
func (m *Manager) RelayWeights() [8]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relayWeights
}

// SetRelayWeights persists all per-relay PWM weights.
func (m *Manager) SetRelayWeights(weights [8]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range weights {
		if err := m.store.SetFloat(relayWeightKey(i), w); err != nil {
			return err
		}
	}
	m.relayWeights = weights
	return nil
}

// Door calibration accessors.

func (m *Manager) DoorClosedAngleDeg() float64  { return m.getFloat(&m.doorClosedDeg) }
func (m *Manager) DoorOpenAngleDeg() float64    { return m.getFloat(&m.doorOpenDeg) }
func (m *Manager) DoorMaxSpeedDegPerSec() float64 { return m.getFloat(&m.doorSpeedDegPerSec) }

func (m *Manager) SetDoorClosedAngleDeg(v float64) error {
	return m.setFloat(keyDoorClosed, &m.doorClosedDeg, v)
}

func (m *Manager) SetDoorOpenAngleDeg(v float64) error {
	return m.setFloat(keyDoorOpen, &m.doorOpenDeg, v)
}

func (m *Manager) SetDoorMaxSpeedDegPerSec(v float64) error {
	return m.setFloat(keyDoorSpeed, &m.doorSpeedDegPerSec, v)
}

// Data logger accessors.

func (m *Manager) DataLogIntervalMs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logIntervalMs
}

func (m *Manager) SetDataLogIntervalMs(v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetFloat(keyLogInterval, float64(v)); err != nil {
		return err
	}
	m.logIntervalMs = v
	return nil
}

func (m *Manager) DataLogWindowMs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logWindowMs
}

func (m *Manager) SetDataLogWindowMs(v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetFloat(keyLogWindow, float64(v)); err != nil {
		return err
	}
	m.logWindowMs = v
	return nil
}

func (m *Manager) DataLogEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logEnabled
}

func (m *Manager) SetDataLogEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var v uint64
	if enabled {
		v = 1
	}
	if err := m.store.SetUint(keyLogEnabled, v); err != nil {
		return err
	}
	m.logEnabled = enabled
	return nil
}

// Store exposes the backing store for collaborators sharing the same file
// (profile slots).
func (m *Manager) Store() Store { return m.store }
