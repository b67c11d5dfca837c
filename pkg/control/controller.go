// Chamber controller for the reflow oven
//
// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package control

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"reflow-oven-go/pkg/clock"
	"reflow-oven-go/pkg/errs"
	"reflow-oven-go/pkg/hardware"
	"reflow-oven-go/pkg/log"
	"reflow-oven-go/pkg/pid"
	"reflow-oven-go/pkg/pwm"
	"reflow-oven-go/pkg/settings"
)

const (
	// TickInterval is the fixed control period.
	TickInterval = 250 * time.Millisecond

	// PWMPeriod is the slow PWM relay period.
	PWMPeriod = 1000 * time.Millisecond

	// MinSetpoint and MaxSetpoint bound commanded setpoints, in C.
	MinSetpoint = 0.0
	MaxSetpoint = 300.0

	// MinProcessValue and MaxProcessValue bound the fused PV; values
	// outside the band raise the alarm.
	MinProcessValue = -100.0
	MaxProcessValue = 300.0
)

// Controller state names, exposed for telemetry.
const (
	StateIdle        = "Idle"
	StateSteady      = "Steady State"
	StateAlarming    = "Alarming"
	StateSensorError = "Sensor Error"
)

// Status is a consistent snapshot of the controller for telemetry.
type Status struct {
	State             string
	Running           bool
	Alarming          bool
	DoorOpen          bool
	SetpointLocked    bool
	Setpoint          float64
	ProcessValue      float64
	PIDOutput         float64
	PIDTerms          pid.Terms
	InputChannels     []int
	RelayWeights      map[int]float64
	RelaysWhenRunning []int
	InputFilterTimeMs float64
	DoorClosedDeg     float64
	DoorOpenDeg       float64
	DoorSpeedDegPerS  float64
	ServoAngle        float64
	RelayBitmask      uint8
}

// Controller orchestrates each tick: sensor fusion, low-pass filtering, the
// PID, and actuator dispatch. All mutable state lives behind a single
// mutex; the lock is never held across slow PWM start/stop or hardware
// calls.
type Controller struct {
	mu sync.Mutex

	logger   *log.Logger
	clk      clock.Clock
	io       hardware.IO
	sensors  *hardware.SensorBank
	pid      *pid.PID
	relayPWM *pwm.SlowPWM
	settings *settings.Manager

	running                 bool
	state                   string
	alarming                bool
	doorOpen                bool
	setpointLockedByProfile bool

	setPoint     float64
	processValue float64
	pidOutput    float64

	filteredPV    float64
	hasFilteredPV bool

	inputFilterTimeMs float64
	inputsBeingUsed   []int
	relaysPWM         map[int]float64
	relayAccumulators map[int]float64
	relaysWhenRunning []int

	doorClosedDeg       float64
	doorOpenDeg         float64
	doorSpeedDegPerSec  float64
	doorPreviewActive   bool
	doorPreviewAngleDeg float64

	// profileTick, when set, runs between sensor fusion and regulation so
	// a profile can rewrite the setpoint for this tick.
	profileTick func(dtSeconds float64)

	// onTick, when set, observes each completed tick (metrics).
	onTick func()
}

// toggler adapts the controller's relay dispatch to the PWM edge callbacks.
type toggler struct{ c *Controller }

func (t toggler) OnHigh() { t.c.relayEdgeOn() }
func (t toggler) OnLow()  { t.c.relayEdgeOff() }

// New creates a controller wired to its collaborators, seeding every
// tunable from the settings manager.
func New(clk clock.Clock, io hardware.IO, sensors *hardware.SensorBank,
	mgr *settings.Manager, logger *log.Logger) (*Controller, error) {

	regulator, err := pid.New(clk, pid.Config{
		Heating:              pid.Gains{Kp: mgr.HeatingKp(), Ki: mgr.HeatingKi(), Kd: mgr.HeatingKd()},
		Cooling:              pid.Gains{Kp: mgr.CoolingKp(), Ki: mgr.CoolingKi(), Kd: mgr.CoolingKd()},
		SetpointWeight:       mgr.SetpointWeight(),
		DerivativeFilterTime: mgr.DerivativeFilterTime(),
		IntegratorZone:       mgr.IntegratorZone(),
		IntegratorLeakTime:   mgr.IntegratorLeakTime(),
	})
	if err != nil {
		return nil, err
	}

	c := &Controller{
		logger:            logger,
		clk:               clk,
		io:                io,
		sensors:           sensors,
		pid:               regulator,
		settings:          mgr,
		state:             StateIdle,
		inputFilterTimeMs: mgr.InputFilterTimeMs(),
		relaysPWM:         make(map[int]float64),
		relayAccumulators: make(map[int]float64),
	}
	c.relayPWM = pwm.New(PWMPeriod, 0, toggler{c})

	c.applyInputsMask(mgr.InputsMask())
	c.applyRelaysPWMMask(mgr.RelaysPWMMask())
	weights := mgr.RelayWeights()
	for relay := range c.relaysPWM {
		if relay >= 0 && relay < len(weights) {
			c.relaysPWM[relay] = clamp(weights[relay], 0, 1)
		}
	}
	c.syncRelayAccumulatorsLocked()
	c.applyRelaysOnMask(mgr.RelaysOnMask())

	c.doorClosedDeg = clamp(mgr.DoorClosedAngleDeg(), 0, 180)
	c.doorOpenDeg = clamp(mgr.DoorOpenAngleDeg(), 0, 180)
	c.doorSpeedDegPerSec = clamp(mgr.DoorMaxSpeedDegPerSec(), 1, 360)
	c.doorPreviewAngleDeg = c.doorOpenDeg

	return c, nil
}

// SetProfileTicker installs the profile engine hook invoked once per tick.
func (c *Controller) SetProfileTicker(tick func(dtSeconds float64)) {
	c.mu.Lock()
	c.profileTick = tick
	c.mu.Unlock()
}

// SetTickObserver installs a hook invoked after every completed tick.
func (c *Controller) SetTickObserver(fn func()) {
	c.mu.Lock()
	c.onTick = fn
	c.mu.Unlock()
}

// ===== Snapshot accessors =====

func (c *Controller) SetPoint() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setPoint
}

func (c *Controller) ProcessValue() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processValue
}

func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) PIDOutput() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pidOutput
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) IsDoorOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doorOpen
}

func (c *Controller) IsAlarming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alarming
}

func (c *Controller) IsSetpointLockedByProfile() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpointLockedByProfile
}

func (c *Controller) InputChannels() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.inputsBeingUsed))
	copy(out, c.inputsBeingUsed)
	return out
}

func (c *Controller) RelayPWMWeights() map[int]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]float64, len(c.relaysPWM))
	for k, v := range c.relaysPWM {
		out[k] = v
	}
	return out
}

func (c *Controller) RelaysWhenRunning() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.relaysWhenRunning))
	copy(out, c.relaysWhenRunning)
	return out
}

func (c *Controller) PIDTerms() pid.Terms {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid.LastTerms()
}

// GetStatus returns a consistent snapshot for telemetry.
func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	weights := make(map[int]float64, len(c.relaysPWM))
	for k, v := range c.relaysPWM {
		weights[k] = v
	}
	channels := make([]int, len(c.inputsBeingUsed))
	copy(channels, c.inputsBeingUsed)
	onRelays := make([]int, len(c.relaysWhenRunning))
	copy(onRelays, c.relaysWhenRunning)

	st := Status{
		State:             c.state,
		Running:           c.running,
		Alarming:          c.alarming,
		DoorOpen:          c.doorOpen,
		SetpointLocked:    c.setpointLockedByProfile,
		Setpoint:          c.setPoint,
		ProcessValue:      c.processValue,
		PIDOutput:         c.pidOutput,
		PIDTerms:          c.pid.LastTerms(),
		InputChannels:     channels,
		RelayWeights:      weights,
		RelaysWhenRunning: onRelays,
		InputFilterTimeMs: c.inputFilterTimeMs,
		DoorClosedDeg:     c.doorClosedDeg,
		DoorOpenDeg:       c.doorOpenDeg,
		DoorSpeedDegPerS:  c.doorSpeedDegPerSec,
	}
	c.mu.Unlock()

	st.ServoAngle = c.io.ServoAngle()
	st.RelayBitmask = c.io.RelayBitmask()
	return st
}

// ===== Tick orchestration =====

// RunTick executes one control period: sensor fusion and alarm evaluation,
// the profile hook, then regulation or idle dispatch.
func (c *Controller) RunTick() error {
	err := c.perform()

	c.mu.Lock()
	profileTick := c.profileTick
	isRunning := c.running
	observer := c.onTick
	c.mu.Unlock()

	if profileTick != nil {
		profileTick(TickInterval.Seconds())
		// The profile may have stopped the controller within the hook.
		c.mu.Lock()
		isRunning = c.running
		c.mu.Unlock()
	}

	if err == nil {
		if isRunning {
			c.performOnRunning()
		} else {
			c.performOnNotRunning()
		}
	}

	if observer != nil {
		observer()
	}
	return err
}

// perform fuses the sensors and evaluates alarm conditions.
func (c *Controller) perform() error {
	err := c.updateProcessValue()
	if err != nil {
		var wasRunning bool
		c.mu.Lock()
		c.alarming = true
		c.state = StateSensorError
		wasRunning = c.running
		c.mu.Unlock()

		if wasRunning {
			if stopErr := c.Stop(); stopErr != nil {
				c.logger.WithError(stopErr).Error("stop after sensor error failed")
			}
		}
		return err
	}

	shouldAlarm := c.checkAlarmConditions()

	var wasAlarming, wasRunning bool
	c.mu.Lock()
	wasAlarming = c.alarming
	wasRunning = c.running
	if shouldAlarm {
		c.alarming = true
		c.state = StateAlarming
	} else if c.alarming {
		c.alarming = false
		if !c.running {
			c.state = StateIdle
		} else {
			c.state = StateSteady
		}
	}
	c.mu.Unlock()

	if shouldAlarm && !wasAlarming {
		c.logger.WithField("pv", c.ProcessValue()).Warn("process value out of band, alarming")
		if wasRunning {
			if stopErr := c.Stop(); stopErr != nil {
				c.logger.WithError(stopErr).Error("stop after alarm failed")
			}
		}
	}

	return nil
}

// updateProcessValue averages the enabled channels, skipping the error
// sentinel, and applies the first-order input filter.
func (c *Controller) updateProcessValue() error {
	c.mu.Lock()
	channels := make([]int, len(c.inputsBeingUsed))
	copy(channels, c.inputsBeingUsed)
	filterTimeMs := c.inputFilterTimeMs
	previous := c.filteredPV
	hasPrev := c.hasFilteredPV
	c.mu.Unlock()

	sum := 0.0
	readOK := 0
	for _, channel := range channels {
		value := c.sensors.Temperature(channel)
		if value == hardware.ThermocoupleErrorValue {
			continue
		}
		sum += value
		readOK++
	}

	if readOK == 0 {
		return errs.New(errs.KindSensorError, "no enabled input channel read successfully")
	}

	mean := sum / float64(readOK)
	dt := float64(TickInterval.Milliseconds())
	alpha := dt / (filterTimeMs + dt)
	filtered := mean
	if hasPrev {
		filtered = alpha*mean + (1-alpha)*previous
	}

	c.mu.Lock()
	c.filteredPV = filtered
	c.hasFilteredPV = true
	c.processValue = filtered
	c.mu.Unlock()

	return nil
}

func (c *Controller) checkAlarmConditions() bool {
	c.mu.Lock()
	value := c.processValue
	c.mu.Unlock()
	return value < MinProcessValue || value > MaxProcessValue
}

// performOnRunning regulates: PID then actuator dispatch.
func (c *Controller) performOnRunning() {
	c.mu.Lock()
	setPoint := c.setPoint
	processValue := c.processValue
	output := c.pid.Calculate(setPoint, processValue)
	c.pidOutput = output
	closedAngle := c.doorClosedDeg
	openAngle := c.doorOpenDeg
	c.mu.Unlock()

	dt := TickInterval.Seconds()
	switch {
	case output < 0:
		fraction := coolingDoorOpenFraction(output, processValue)
		angle := doorAngleFromFraction(fraction, closedAngle, openAngle)
		c.applyDoorTargetAngle(angle, dt)
		c.relayPWM.SetDutyCycle(0)
		c.relayPWM.ForceOff()
	case output > 0:
		duty := math.Min(output/100.0, 1.0)
		c.relayPWM.SetDutyCycle(duty)
		c.applyDoorTargetAngle(closedAngle, dt)
	default:
		c.relayPWM.SetDutyCycle(0)
		c.relayPWM.ForceOff()
		c.applyDoorTargetAngle(closedAngle, dt)
	}
}

// performOnNotRunning drives idle behavior: zero output, relays off via
// duty 0, door follows the open flag or an active preview.
func (c *Controller) performOnNotRunning() {
	c.mu.Lock()
	c.pidOutput = 0
	open := c.doorOpen
	previewActive := c.doorPreviewActive
	previewAngle := c.doorPreviewAngleDeg
	closedAngle := c.doorClosedDeg
	openAngle := c.doorOpenDeg
	c.mu.Unlock()

	c.relayPWM.SetDutyCycle(0)

	dt := TickInterval.Seconds()
	switch {
	case previewActive:
		c.applyDoorTargetAngle(previewAngle, dt)
	case open:
		c.applyDoorTargetAngle(openAngle, dt)
	default:
		c.applyDoorTargetAngle(closedAngle, dt)
	}
}

// applyDoorTargetAngle rate-limits servo motion toward the target.
func (c *Controller) applyDoorTargetAngle(targetAngle, dtSeconds float64) {
	c.mu.Lock()
	speed := c.doorSpeedDegPerSec
	c.mu.Unlock()

	current := c.io.ServoAngle()
	next := rateLimitAngle(current, targetAngle, speed, dtSeconds)
	if err := c.io.SetServoAngle(next); err != nil {
		c.logger.WithError(err).Error("servo drive failed")
	}
}

// ===== Run / stop =====

// Start moves Idle -> Steady State: always-on relays close, slow PWM arms.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.alarming || c.running {
		c.mu.Unlock()
		return errs.New(errs.KindInvalidState, "start rejected: alarming=%v running=%v", c.alarming, c.running)
	}
	c.mu.Unlock()

	if err := c.runningRelaysOn(); err != nil {
		return err
	}
	c.relayPWM.Start()

	c.mu.Lock()
	c.running = true
	c.doorPreviewActive = false
	c.state = StateSteady
	c.mu.Unlock()

	c.logger.Info("controller started")
	return nil
}

// Stop moves back to Idle: every relay opens, slow PWM disarms, the PID
// output snapshot zeroes. Safe to call from alarm paths.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return errs.New(errs.KindInvalidState, "stop rejected: not running")
	}
	c.mu.Unlock()

	if err := c.runningRelaysOff(); err != nil {
		return err
	}

	c.relayPWM.SetDutyCycle(0)
	c.relayPWM.ForceOff()
	c.relayPWM.Stop()

	c.mu.Lock()
	c.running = false
	if c.state == StateSteady {
		c.state = StateIdle
	}
	c.pidOutput = 0
	c.mu.Unlock()

	c.logger.Info("controller stopped")
	return nil
}

func (c *Controller) runningRelaysOn() error {
	c.mu.Lock()
	relays := make([]int, len(c.relaysWhenRunning))
	copy(relays, c.relaysWhenRunning)
	c.mu.Unlock()

	for _, relay := range relays {
		if err := c.io.SetRelay(relay, true); err != nil {
			return errs.Wrap(errs.KindIoFailed, err, "close always-on relay %d", relay)
		}
	}
	return nil
}

func (c *Controller) runningRelaysOff() error {
	c.mu.Lock()
	relays := make([]int, len(c.relaysWhenRunning))
	copy(relays, c.relaysWhenRunning)
	c.mu.Unlock()

	for _, relay := range relays {
		if err := c.io.SetRelay(relay, false); err != nil {
			return errs.Wrap(errs.KindIoFailed, err, "open always-on relay %d", relay)
		}
	}
	return nil
}

// ===== PWM edge dispatch =====

// relayEdgeOn runs on each PWM ON edge: full-weight relays close, partial
// weights accumulate phase and close on carry. This yields per-relay cycle
// skipping without separate timers.
func (c *Controller) relayEdgeOn() {
	type relayState struct {
		index int
		on    bool
	}
	var next []relayState

	c.mu.Lock()
	c.syncRelayAccumulatorsLocked()
	for relay, weight := range c.relaysPWM {
		w := clamp(weight, 0, 1)
		on := false
		switch {
		case w >= 1:
			on = true
		case w > 0:
			acc := c.relayAccumulators[relay] + w
			if acc >= 1 {
				on = true
				for acc >= 1 {
					acc -= 1
				}
			}
			c.relayAccumulators[relay] = acc
		}
		next = append(next, relayState{index: relay, on: on})
	}
	c.mu.Unlock()

	for _, st := range next {
		if err := c.io.SetRelay(st.index, st.on); err != nil {
			c.logger.WithError(err).Error("relay %d edge failed", st.index)
		}
	}
}

// relayEdgeOff opens every PWM-driven relay.
func (c *Controller) relayEdgeOff() {
	c.mu.Lock()
	relays := make([]int, 0, len(c.relaysPWM))
	for relay := range c.relaysPWM {
		relays = append(relays, relay)
	}
	c.mu.Unlock()

	for _, relay := range relays {
		if err := c.io.SetRelay(relay, false); err != nil {
			c.logger.WithError(err).Error("relay %d edge failed", relay)
		}
	}
}

// syncRelayAccumulatorsLocked keeps the phase accumulator set aligned with
// the configured relay set. Called with the lock held.
func (c *Controller) syncRelayAccumulatorsLocked() {
	for relay := range c.relayAccumulators {
		if _, ok := c.relaysPWM[relay]; !ok {
			delete(c.relayAccumulators, relay)
		}
	}
	for relay := range c.relaysPWM {
		if _, ok := c.relayAccumulators[relay]; !ok {
			c.relayAccumulators[relay] = 0
		}
	}
}

// ===== Door commands =====

// OpenDoor opens the vent while idle.
func (c *Controller) OpenDoor() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errs.New(errs.KindInvalidState, "door is controlled automatically while running")
	}
	c.doorOpen = true
	c.doorPreviewActive = false
	return nil
}

// CloseDoor closes the vent while idle.
func (c *Controller) CloseDoor() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errs.New(errs.KindInvalidState, "door is controlled automatically while running")
	}
	c.doorOpen = false
	c.doorPreviewActive = false
	return nil
}

// SetDoorPreviewAngle drives the door to an arbitrary angle while idle,
// for calibration preview.
func (c *Controller) SetDoorPreviewAngle(angleDeg float64) error {
	if angleDeg < 0 || angleDeg > 180 {
		return errs.New(errs.KindInvalidArgument, "preview angle %.1f outside [0,180]", angleDeg)
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errs.New(errs.KindInvalidState, "door preview unavailable while running")
	}
	c.doorPreviewActive = true
	c.doorPreviewAngleDeg = angleDeg
	c.mu.Unlock()

	c.applyDoorTargetAngle(angleDeg, TickInterval.Seconds())
	return nil
}

// ClearDoorPreview restores the door to the open/closed flag position.
func (c *Controller) ClearDoorPreview() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errs.New(errs.KindInvalidState, "door preview unavailable while running")
	}
	c.doorPreviewActive = false
	open := c.doorOpen
	closedAngle := c.doorClosedDeg
	openAngle := c.doorOpenDeg
	c.mu.Unlock()

	target := closedAngle
	if open {
		target = openAngle
	}
	c.applyDoorTargetAngle(target, TickInterval.Seconds())
	return nil
}

// ===== Setpoint =====

// SetSetPoint handles external setpoint commands. Rejected with Conflict
// while a profile holds the setpoint lock.
func (c *Controller) SetSetPoint(newSetPoint float64) error {
	if newSetPoint < MinSetpoint || newSetPoint > MaxSetpoint {
		return errs.New(errs.KindInvalidArgument, "setpoint %.1f outside [%.0f,%.0f]",
			newSetPoint, MinSetpoint, MaxSetpoint)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setpointLockedByProfile {
		return errs.New(errs.KindConflict, "setpoint is locked by the running profile")
	}
	c.setPoint = newSetPoint
	return nil
}

// SetSetPointFromProfile is the privileged write used by the profile
// engine; it bypasses the lock check.
func (c *Controller) SetSetPointFromProfile(newSetPoint float64) error {
	if newSetPoint < MinSetpoint || newSetPoint > MaxSetpoint {
		return errs.New(errs.KindInvalidArgument, "setpoint %.1f outside [%.0f,%.0f]",
			newSetPoint, MinSetpoint, MaxSetpoint)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPoint = newSetPoint
	return nil
}

// SetProfileSetpointLock marks the setpoint as owned by a running profile.
func (c *Controller) SetProfileSetpointLock(locked bool) {
	c.mu.Lock()
	c.setpointLockedByProfile = locked
	c.mu.Unlock()
}

// ===== Tuning setters (persisted) =====

// SetInputFilterTime sets the PV low-pass time constant in milliseconds.
func (c *Controller) SetInputFilterTime(newFilterTimeMs float64) error {
	if newFilterTimeMs <= 0 {
		return errs.New(errs.KindInvalidArgument, "filter time %.1f must be > 0", newFilterTimeMs)
	}

	c.mu.Lock()
	c.inputFilterTimeMs = newFilterTimeMs
	c.mu.Unlock()

	return c.settings.SetInputFilterTimeMs(newFilterTimeMs)
}

// SetHeatingGains tunes the heating gain set and persists it.
func (c *Controller) SetHeatingGains(kp, ki, kd float64) error {
	c.mu.Lock()
	c.pid.TuneHeating(pid.Gains{Kp: kp, Ki: ki, Kd: kd})
	c.mu.Unlock()

	if err := c.settings.SetHeatingKp(kp); err != nil {
		return err
	}
	if err := c.settings.SetHeatingKi(ki); err != nil {
		return err
	}
	return c.settings.SetHeatingKd(kd)
}

// SetCoolingGains tunes the cooling gain set and persists it.
func (c *Controller) SetCoolingGains(kp, ki, kd float64) error {
	c.mu.Lock()
	c.pid.TuneCooling(pid.Gains{Kp: kp, Ki: ki, Kd: kd})
	c.mu.Unlock()

	if err := c.settings.SetCoolingKp(kp); err != nil {
		return err
	}
	if err := c.settings.SetCoolingKi(ki); err != nil {
		return err
	}
	return c.settings.SetCoolingKd(kd)
}

// SetDerivativeFilterTime tunes the derivative filter and persists it.
func (c *Controller) SetDerivativeFilterTime(seconds float64) error {
	c.mu.Lock()
	err := c.pid.SetDerivativeFilterTime(seconds)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.settings.SetDerivativeFilterTime(seconds)
}

// SetSetpointWeight tunes the setpoint weight and persists it.
func (c *Controller) SetSetpointWeight(weight float64) error {
	c.mu.Lock()
	err := c.pid.SetSetpointWeight(weight)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.settings.SetSetpointWeight(weight)
}

// SetIntegratorZone tunes the I-zone and persists it.
func (c *Controller) SetIntegratorZone(zone float64) error {
	c.mu.Lock()
	err := c.pid.SetIntegratorZone(zone)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.settings.SetIntegratorZone(zone)
}

// SetIntegratorLeakTime tunes the integrator leak and persists it.
func (c *Controller) SetIntegratorLeakTime(seconds float64) error {
	c.mu.Lock()
	err := c.pid.SetIntegratorLeakTime(seconds)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.settings.SetIntegratorLeakTime(seconds)
}

// ResetPID clears the regulator's runtime state.
func (c *Controller) ResetPID() {
	c.mu.Lock()
	c.pid.Reset()
	c.mu.Unlock()
}

// ===== Input channel configuration =====

// AddInputChannel enables one thermocouple channel.
func (c *Controller) AddInputChannel(channel int) error {
	if channel < 0 || channel > 7 {
		return errs.New(errs.KindInvalidArgument, "channel %d out of range", channel)
	}

	c.mu.Lock()
	for _, existing := range c.inputsBeingUsed {
		if existing == channel {
			c.mu.Unlock()
			return errs.New(errs.KindInvalidArgument, "channel %d already enabled", channel)
		}
	}
	c.inputsBeingUsed = append(c.inputsBeingUsed, channel)
	c.mu.Unlock()

	return c.settings.SetInputsMask(c.buildInputsMask())
}

// RemoveInputChannel disables one channel. The set never goes empty;
// removing the last channel re-enables channel 0.
func (c *Controller) RemoveInputChannel(channel int) error {
	c.mu.Lock()
	found := -1
	for i, existing := range c.inputsBeingUsed {
		if existing == channel {
			found = i
			break
		}
	}
	if found < 0 {
		c.mu.Unlock()
		return errs.New(errs.KindInvalidArgument, "channel %d not enabled", channel)
	}
	c.inputsBeingUsed = append(c.inputsBeingUsed[:found], c.inputsBeingUsed[found+1:]...)
	if len(c.inputsBeingUsed) == 0 {
		c.inputsBeingUsed = append(c.inputsBeingUsed, 0)
	}
	c.mu.Unlock()

	return c.settings.SetInputsMask(c.buildInputsMask())
}

// SetInputChannels replaces the enabled channel set.
func (c *Controller) SetInputChannels(channels []int) error {
	if len(channels) == 0 {
		return errs.New(errs.KindInvalidArgument, "channel set must not be empty")
	}

	sanitized := make([]int, 0, len(channels))
	for _, channel := range channels {
		if channel < 0 || channel > 7 {
			return errs.New(errs.KindInvalidArgument, "channel %d out of range", channel)
		}
		duplicate := false
		for _, existing := range sanitized {
			if existing == channel {
				duplicate = true
				break
			}
		}
		if !duplicate {
			sanitized = append(sanitized, channel)
		}
	}

	c.mu.Lock()
	c.inputsBeingUsed = sanitized
	c.mu.Unlock()

	return c.settings.SetInputsMask(c.buildInputsMask())
}

// ===== Relay configuration =====

// AddRelayPWM adds or updates one relay in the PWM set with the given
// weight.
func (c *Controller) AddRelayPWM(relayIndex int, weight float64) error {
	if relayIndex < 0 || relayIndex > 7 {
		return errs.New(errs.KindInvalidArgument, "relay %d out of range", relayIndex)
	}
	if weight < 0 || weight > 1 {
		return errs.New(errs.KindInvalidArgument, "weight %.2f outside [0,1]", weight)
	}

	c.mu.Lock()
	c.relaysPWM[relayIndex] = weight
	c.syncRelayAccumulatorsLocked()
	c.mu.Unlock()

	return c.persistRelaysPWM()
}

// RemoveRelayPWM removes one relay from the PWM set.
func (c *Controller) RemoveRelayPWM(relayIndex int) error {
	c.mu.Lock()
	if _, ok := c.relaysPWM[relayIndex]; !ok {
		c.mu.Unlock()
		return errs.New(errs.KindInvalidArgument, "relay %d not in PWM set", relayIndex)
	}
	delete(c.relaysPWM, relayIndex)
	c.syncRelayAccumulatorsLocked()
	c.mu.Unlock()

	return c.persistRelaysPWM()
}

// SetRelaysPWM replaces the whole PWM relay map.
func (c *Controller) SetRelaysPWM(relayWeights map[int]float64) error {
	sanitized := make(map[int]float64, len(relayWeights))
	for relay, weight := range relayWeights {
		if relay < 0 || relay > 7 {
			return errs.New(errs.KindInvalidArgument, "relay %d out of range", relay)
		}
		if weight < 0 || weight > 1 {
			return errs.New(errs.KindInvalidArgument, "weight %.2f outside [0,1]", weight)
		}
		sanitized[relay] = weight
	}

	c.mu.Lock()
	c.relaysPWM = sanitized
	c.syncRelayAccumulatorsLocked()
	c.mu.Unlock()

	return c.persistRelaysPWM()
}

// AddRelayWhenRunning adds a relay to the always-on-when-running set.
func (c *Controller) AddRelayWhenRunning(relayIndex int) error {
	if relayIndex < 0 || relayIndex > 7 {
		return errs.New(errs.KindInvalidArgument, "relay %d out of range", relayIndex)
	}

	c.mu.Lock()
	for _, existing := range c.relaysWhenRunning {
		if existing == relayIndex {
			c.mu.Unlock()
			return errs.New(errs.KindInvalidArgument, "relay %d already in set", relayIndex)
		}
	}
	c.relaysWhenRunning = append(c.relaysWhenRunning, relayIndex)
	c.mu.Unlock()

	return c.settings.SetRelaysOnMask(c.buildRelaysOnMask())
}

// RemoveRelayWhenRunning removes a relay from the always-on set.
func (c *Controller) RemoveRelayWhenRunning(relayIndex int) error {
	c.mu.Lock()
	found := -1
	for i, existing := range c.relaysWhenRunning {
		if existing == relayIndex {
			found = i
			break
		}
	}
	if found < 0 {
		c.mu.Unlock()
		return errs.New(errs.KindInvalidArgument, "relay %d not in set", relayIndex)
	}
	c.relaysWhenRunning = append(c.relaysWhenRunning[:found], c.relaysWhenRunning[found+1:]...)
	c.mu.Unlock()

	return c.settings.SetRelaysOnMask(c.buildRelaysOnMask())
}

// ===== Door calibration =====

// SetDoorCalibrationAngles sets the closed and open servo angles.
func (c *Controller) SetDoorCalibrationAngles(closedDeg, openDeg float64) error {
	if closedDeg < 0 || closedDeg > 180 || openDeg < 0 || openDeg > 180 {
		return errs.New(errs.KindInvalidArgument, "door angles (%.1f, %.1f) outside [0,180]", closedDeg, openDeg)
	}

	if err := c.settings.SetDoorClosedAngleDeg(closedDeg); err != nil {
		return err
	}
	if err := c.settings.SetDoorOpenAngleDeg(openDeg); err != nil {
		return err
	}

	var running, open, previewActive bool
	var target float64
	c.mu.Lock()
	c.doorClosedDeg = closedDeg
	c.doorOpenDeg = openDeg
	running = c.running
	open = c.doorOpen
	previewActive = c.doorPreviewActive
	if previewActive {
		target = c.doorPreviewAngleDeg
	} else if open {
		target = openDeg
	} else {
		target = closedDeg
	}
	c.mu.Unlock()

	if running {
		return nil
	}
	c.applyDoorTargetAngle(target, TickInterval.Seconds())
	return nil
}

// SetDoorMaxSpeed sets the servo rate limit in degrees per second.
func (c *Controller) SetDoorMaxSpeed(speedDegPerSec float64) error {
	if speedDegPerSec < 1 || speedDegPerSec > 360 {
		return errs.New(errs.KindInvalidArgument, "door speed %.1f outside [1,360]", speedDegPerSec)
	}

	if err := c.settings.SetDoorMaxSpeedDegPerSec(speedDegPerSec); err != nil {
		return err
	}

	c.mu.Lock()
	c.doorSpeedDegPerSec = speedDegPerSec
	c.mu.Unlock()
	return nil
}

// ===== Masks =====

func (c *Controller) buildInputsMask() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var mask uint8
	for _, channel := range c.inputsBeingUsed {
		if channel >= 0 && channel <= 7 {
			mask |= 1 << uint(channel)
		}
	}
	return mask
}

func (c *Controller) buildRelaysOnMask() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var mask uint8
	for _, relay := range c.relaysWhenRunning {
		if relay >= 0 && relay <= 7 {
			mask |= 1 << uint(relay)
		}
	}
	return mask
}

func (c *Controller) applyInputsMask(mask uint8) {
	c.inputsBeingUsed = c.inputsBeingUsed[:0]
	for channel := 0; channel < 8; channel++ {
		if mask&(1<<uint(channel)) != 0 {
			c.inputsBeingUsed = append(c.inputsBeingUsed, channel)
		}
	}
	if len(c.inputsBeingUsed) == 0 {
		c.inputsBeingUsed = append(c.inputsBeingUsed, 0)
	}
}

func (c *Controller) applyRelaysPWMMask(mask uint8) {
	c.relaysPWM = make(map[int]float64)
	for relay := 0; relay < 8; relay++ {
		if mask&(1<<uint(relay)) != 0 {
			c.relaysPWM[relay] = 1.0
		}
	}
	c.syncRelayAccumulatorsLocked()
}

func (c *Controller) applyRelaysOnMask(mask uint8) {
	c.relaysWhenRunning = c.relaysWhenRunning[:0]
	for relay := 0; relay < 8; relay++ {
		if mask&(1<<uint(relay)) != 0 {
			c.relaysWhenRunning = append(c.relaysWhenRunning, relay)
		}
	}
}

func (c *Controller) persistRelaysPWM() error {
	weights := c.settings.RelayWeights()

	c.mu.Lock()
	var mask uint8
	for relay, weight := range c.relaysPWM {
		if relay >= 0 && relay <= 7 {
			mask |= 1 << uint(relay)
			weights[relay] = clamp(weight, 0, 1)
		}
	}
	c.mu.Unlock()

	if err := c.settings.SetRelaysPWMMask(mask); err != nil {
		return err
	}
	return c.settings.SetRelayWeights(weights)
}

// ===== TUI =====

// StateTUI renders a boxed status snapshot for serial consoles.
func (c *Controller) StateTUI() string {
	st := c.GetStatus()

	channels := "-"
	if len(st.InputChannels) > 0 {
		sorted := make([]int, len(st.InputChannels))
		copy(sorted, st.InputChannels)
		sort.Ints(sorted)
		parts := make([]string, len(sorted))
		for i, channel := range sorted {
			parts[i] = fmt.Sprintf("%d", channel)
		}
		channels = strings.Join(parts, ",")
	}

	runText := "STOP"
	if st.Running {
		runText = "RUN"
	}
	doorText := "CLOSED"
	if st.DoorOpen {
		doorText = "OPEN"
	}
	alarmText := "NO"
	if st.Alarming {
		alarmText = "YES"
	}
	pidMode := "HOLD"
	if st.PIDOutput > 0 {
		pidMode = "HEAT"
	} else if st.PIDOutput < 0 {
		pidMode = "VENT"
	}

	var sb strings.Builder
	line := func(format string, args ...interface{}) {
		sb.WriteString(fmt.Sprintf(format, args...))
		sb.WriteString("\n")
	}

	line("+---------------------------------------------------------------+")
	line("|                    REFLOW CONTROLLER STATUS                   |")
	line("+---------------------------------------------------------------+")
	line("| Mode:%-6s State:%-16.16s Alarm:%-3s                     |", runText, st.State, alarmText)
	line("| Door:%-6s Tick(ms):%-6.0f Filter(ms):%-7.1f              |", doorText, float64(TickInterval.Milliseconds()), st.InputFilterTimeMs)
	line("| Setpoint:%8.2f  PV:%10.2f  Error:%10.2f         |", st.Setpoint, st.ProcessValue, st.Setpoint-st.ProcessValue)
	line("| PID Out:%9.2f  PID Mode:%-8s                         |", st.PIDOutput, pidMode)
	line("| Inputs:%3d  Ch:%-47.47s |", len(st.InputChannels), channels)
	line("| RelayPWM entries:%3d  Running-relays:%3d                      |", len(st.RelayWeights), len(st.RelaysWhenRunning))
	line("| Bounds PV:[%6.1f,%6.1f] SP:[%6.1f,%6.1f]                |", MinProcessValue, MaxProcessValue, MinSetpoint, MaxSetpoint)
	line("| Legend: RUN=active HEAT=relay PWM VENT=servo HOLD=idle PID    |")
	sb.WriteString("+---------------------------------------------------------------+")
	return sb.String()
}
