// Chamber controller unit tests
//
// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package control

import (
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reflow-oven-go/pkg/clock"
	"reflow-oven-go/pkg/errs"
	"reflow-oven-go/pkg/hardware"
	"reflow-oven-go/pkg/log"
	"reflow-oven-go/pkg/settings"
)

type fixture struct {
	ctrl    *Controller
	fakeHW  *hardware.Fake
	bank    *hardware.SensorBank
	clk     *clock.Fake
	mgr     *settings.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := log.New("test")
	logger.SetWriter(io.Discard)

	fakeHW := hardware.NewFake(25)
	bank := hardware.NewSensorBank(fakeHW, hardware.DefaultReadInterval, logger)
	bank.RefreshNow()

	mgr, err := settings.NewManager(settings.NewMemStore(), logger)
	require.NoError(t, err)

	clk := clock.NewFake()
	ctrl, err := New(clk, fakeHW, bank, mgr, logger)
	require.NoError(t, err)

	return &fixture{ctrl: ctrl, fakeHW: fakeHW, bank: bank, clk: clk, mgr: mgr}
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	f.clk.Advance(TickInterval)
	_ = f.ctrl.RunTick()
}

func (f *fixture) setAllTemps(temp float64) {
	f.fakeHW.SetAllTemperatures(temp)
	f.bank.RefreshNow()
}

func TestStartStopStateMachine(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, StateIdle, f.ctrl.State())
	assert.False(t, f.ctrl.IsRunning())

	require.NoError(t, f.ctrl.Start())
	assert.True(t, f.ctrl.IsRunning())
	assert.Equal(t, StateSteady, f.ctrl.State())
	// Default always-on relay (index 2) closes on start.
	assert.True(t, f.fakeHW.RelayState(2))

	// Start while running is rejected.
	err := f.ctrl.Start()
	assert.True(t, errs.IsKind(err, errs.KindInvalidState))

	require.NoError(t, f.ctrl.Stop())
	assert.False(t, f.ctrl.IsRunning())
	assert.Equal(t, StateIdle, f.ctrl.State())
	assert.False(t, f.fakeHW.RelayState(2))
	assert.Equal(t, 0.0, f.ctrl.PIDOutput())

	// Stop while idle is rejected.
	err = f.ctrl.Stop()
	assert.True(t, errs.IsKind(err, errs.KindInvalidState))
}

func TestProcessValueFusionAndFilter(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetInputChannels([]int{0, 1}))

	f.fakeHW.SetTemperature(0, 100)
	f.fakeHW.SetTemperature(1, 110)
	f.bank.RefreshNow()

	// First sample seeds the filter with the raw mean.
	f.tick(t)
	assert.InDelta(t, 105.0, f.ctrl.ProcessValue(), 1e-9)

	// Second sample is low-passed: alpha = 250/(100+250).
	f.setAllTemps(140)
	f.tick(t)
	alpha := 250.0 / 350.0
	want := alpha*140 + (1-alpha)*105
	assert.InDelta(t, want, f.ctrl.ProcessValue(), 1e-9)
}

func TestFailedChannelSkippedInFusion(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetInputChannels([]int{0, 1}))

	f.fakeHW.SetTemperature(0, 100)
	f.fakeHW.FailChannel(1)
	f.bank.RefreshNow()

	f.tick(t)
	assert.InDelta(t, 100.0, f.ctrl.ProcessValue(), 1e-9)
}

func TestAllChannelsFailedRaisesSensorError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Start())

	f.fakeHW.FailChannel(0)
	f.bank.RefreshNow()

	err := f.ctrl.RunTick()
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindSensorError))
	assert.Equal(t, StateSensorError, f.ctrl.State())
	assert.True(t, f.ctrl.IsAlarming())
	assert.False(t, f.ctrl.IsRunning())
}

func TestOutOfBandPVAlarmsAndRecovers(t *testing.T) {
	f := newFixture(t)
	// Short filter so the PV tracks quickly.
	require.NoError(t, f.ctrl.SetInputFilterTime(1))
	require.NoError(t, f.ctrl.Start())

	f.setAllTemps(350)
	f.tick(t)
	f.tick(t)
	assert.True(t, f.ctrl.IsAlarming())
	assert.Equal(t, StateAlarming, f.ctrl.State())
	assert.False(t, f.ctrl.IsRunning(), "alarm forces a stop")

	// Start is blocked while alarming.
	err := f.ctrl.Start()
	assert.True(t, errs.IsKind(err, errs.KindInvalidState))

	// PV back in band clears the alarm.
	f.setAllTemps(25)
	f.tick(t)
	f.tick(t)
	f.tick(t)
	assert.False(t, f.ctrl.IsAlarming())
	assert.Equal(t, StateIdle, f.ctrl.State())

	require.NoError(t, f.ctrl.Start())
}

func TestSetpointRangeAndProfileLock(t *testing.T) {
	f := newFixture(t)

	assert.True(t, errs.IsKind(f.ctrl.SetSetPoint(-5), errs.KindInvalidArgument))
	assert.True(t, errs.IsKind(f.ctrl.SetSetPoint(301), errs.KindInvalidArgument))
	require.NoError(t, f.ctrl.SetSetPoint(150))
	assert.Equal(t, 150.0, f.ctrl.SetPoint())

	// Invariant 7: external writes conflict iff the profile lock is held.
	f.ctrl.SetProfileSetpointLock(true)
	err := f.ctrl.SetSetPoint(100)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
	assert.Equal(t, 150.0, f.ctrl.SetPoint())

	// The privileged profile write bypasses the lock.
	require.NoError(t, f.ctrl.SetSetPointFromProfile(180))
	assert.Equal(t, 180.0, f.ctrl.SetPoint())

	f.ctrl.SetProfileSetpointLock(false)
	require.NoError(t, f.ctrl.SetSetPoint(100))
}

// Invariant 9: a relay with weight w closes on a w share of ON edges, so its
// long-run duty is d*w.
func TestRelayWeightCycleSkipping(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetRelaysPWM(map[int]float64{
		0: 1.0,
		1: 0.5,
		3: 0.25,
	}))

	const edges = 100
	closed := map[int]int{}
	for i := 0; i < edges; i++ {
		f.ctrl.relayEdgeOn()
		for _, relay := range []int{0, 1, 3} {
			if f.fakeHW.RelayState(relay) {
				closed[relay]++
			}
		}
		f.ctrl.relayEdgeOff()
	}

	assert.Equal(t, edges, closed[0], "weight 1.0 closes every edge")
	assert.InDelta(t, edges/2, closed[1], 1, "weight 0.5 closes half the edges")
	assert.InDelta(t, edges/4, closed[3], 1, "weight 0.25 closes a quarter of the edges")
}

func TestRelayEdgeOffOpensAllConfigured(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetRelaysPWM(map[int]float64{0: 1, 1: 1}))

	f.ctrl.relayEdgeOn()
	assert.True(t, f.fakeHW.RelayState(0))
	assert.True(t, f.fakeHW.RelayState(1))

	f.ctrl.relayEdgeOff()
	assert.False(t, f.fakeHW.RelayState(0))
	assert.False(t, f.fakeHW.RelayState(1))
}

// Invariant 8: servo motion is rate-limited per tick.
func TestServoRateLimit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetDoorMaxSpeed(60))

	require.NoError(t, f.fakeHW.SetServoAngle(0))
	f.ctrl.applyDoorTargetAngle(180, TickInterval.Seconds())
	assert.InDelta(t, 15.0, f.fakeHW.ServoAngle(), 1e-9, "60 deg/s * 0.25 s = 15 deg")

	f.ctrl.applyDoorTargetAngle(180, TickInterval.Seconds())
	assert.InDelta(t, 30.0, f.fakeHW.ServoAngle(), 1e-9)
}

func TestHeatingDrivesPWMDuty(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetHeatingGains(10, 0, 0))
	require.NoError(t, f.ctrl.SetSetPoint(200))
	f.setAllTemps(25)
	require.NoError(t, f.ctrl.Start())

	f.tick(t)

	assert.Greater(t, f.ctrl.PIDOutput(), 0.0)
	assert.Equal(t, 1.0, f.ctrl.relayPWM.DutyCycle(), "saturated output saturates duty")
}

func TestCoolingDrivesDoorNotRelays(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetCoolingGains(10, 0, 0))
	require.NoError(t, f.ctrl.SetHeatingGains(10, 0, 0))
	require.NoError(t, f.ctrl.SetDoorCalibrationAngles(0, 90))
	require.NoError(t, f.ctrl.SetDoorMaxSpeed(360))
	require.NoError(t, f.ctrl.SetInputFilterTime(1))
	require.NoError(t, f.ctrl.SetSetPoint(100))
	f.setAllTemps(250)
	require.NoError(t, f.ctrl.Start())

	f.tick(t)
	f.tick(t)

	assert.Less(t, f.ctrl.PIDOutput(), 0.0)
	assert.Equal(t, 0.0, f.ctrl.relayPWM.DutyCycle())
	assert.Greater(t, f.fakeHW.ServoAngle(), 0.0, "vent opens under cooling demand")
}

func TestDoorCommandsRejectedWhileRunning(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Start())

	assert.True(t, errs.IsKind(f.ctrl.OpenDoor(), errs.KindInvalidState))
	assert.True(t, errs.IsKind(f.ctrl.CloseDoor(), errs.KindInvalidState))
	assert.True(t, errs.IsKind(f.ctrl.SetDoorPreviewAngle(45), errs.KindInvalidState))

	require.NoError(t, f.ctrl.Stop())
	require.NoError(t, f.ctrl.OpenDoor())
	assert.True(t, f.ctrl.IsDoorOpen())
}

func TestDoorFollowsFlagWhileIdle(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetDoorCalibrationAngles(10, 110))
	require.NoError(t, f.ctrl.SetDoorMaxSpeed(360))

	require.NoError(t, f.ctrl.OpenDoor())
	for i := 0; i < 5; i++ {
		f.tick(t)
	}
	assert.InDelta(t, 110.0, f.fakeHW.ServoAngle(), 1e-9)

	require.NoError(t, f.ctrl.CloseDoor())
	for i := 0; i < 5; i++ {
		f.tick(t)
	}
	assert.InDelta(t, 10.0, f.fakeHW.ServoAngle(), 1e-9)
}

func TestDoorPreviewWhileIdle(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetDoorMaxSpeed(360))

	require.NoError(t, f.ctrl.SetDoorPreviewAngle(45))
	for i := 0; i < 3; i++ {
		f.tick(t)
	}
	assert.InDelta(t, 45.0, f.fakeHW.ServoAngle(), 1e-9)

	require.NoError(t, f.ctrl.ClearDoorPreview())
	for i := 0; i < 3; i++ {
		f.tick(t)
	}
	// Door flag is closed, so the door returns to the closed angle.
	assert.InDelta(t, f.mgr.DoorClosedAngleDeg(), f.fakeHW.ServoAngle(), 1e-9)
}

func TestInputChannelConfiguration(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []int{0}, f.ctrl.InputChannels())

	require.NoError(t, f.ctrl.AddInputChannel(3))
	assert.ElementsMatch(t, []int{0, 3}, f.ctrl.InputChannels())
	assert.Equal(t, uint8(0b0000_1001), f.mgr.InputsMask())

	// Duplicates and out-of-range channels are rejected.
	assert.Error(t, f.ctrl.AddInputChannel(3))
	assert.Error(t, f.ctrl.AddInputChannel(8))

	// Removing the last channel falls back to channel 0.
	require.NoError(t, f.ctrl.RemoveInputChannel(3))
	require.NoError(t, f.ctrl.RemoveInputChannel(0))
	assert.Equal(t, []int{0}, f.ctrl.InputChannels())
}

func TestRelayConfigurationPersists(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.AddRelayPWM(4, 0.6))
	weights := f.ctrl.RelayPWMWeights()
	assert.Equal(t, 0.6, weights[4])
	assert.Equal(t, 0.6, f.mgr.RelayWeights()[4])
	assert.NotZero(t, f.mgr.RelaysPWMMask()&(1<<4))

	assert.True(t, errs.IsKind(f.ctrl.AddRelayPWM(4, 1.5), errs.KindInvalidArgument))
	assert.True(t, errs.IsKind(f.ctrl.AddRelayPWM(9, 0.5), errs.KindInvalidArgument))

	require.NoError(t, f.ctrl.RemoveRelayPWM(4))
	assert.True(t, errs.IsKind(f.ctrl.RemoveRelayPWM(4), errs.KindInvalidArgument))

	require.NoError(t, f.ctrl.AddRelayWhenRunning(5))
	assert.Contains(t, f.ctrl.RelaysWhenRunning(), 5)
	require.NoError(t, f.ctrl.RemoveRelayWhenRunning(5))
}

func TestProfileTickerRunsEachTick(t *testing.T) {
	f := newFixture(t)

	var dts []float64
	f.ctrl.SetProfileTicker(func(dt float64) { dts = append(dts, dt) })

	f.tick(t)
	f.tick(t)

	require.Len(t, dts, 2)
	assert.InDelta(t, 0.25, dts[0], 1e-9)
}

func TestStateTUIContainsCoreFields(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetSetPoint(150))

	tui := f.ctrl.StateTUI()
	assert.Contains(t, tui, "REFLOW CONTROLLER STATUS")
	assert.Contains(t, tui, "150.00")
	assert.Contains(t, tui, "STOP")
}

func TestGetStatusSnapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetSetPoint(120))
	f.setAllTemps(80)
	f.tick(t)

	st := f.ctrl.GetStatus()
	assert.Equal(t, 120.0, st.Setpoint)
	assert.False(t, st.Running)
	assert.Equal(t, StateIdle, st.State)
	assert.True(t, math.Abs(st.ProcessValue-80) < 1e-9)
	assert.Equal(t, []int{0}, st.InputChannels)
}
