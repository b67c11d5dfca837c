// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

// OvenMetrics bundles the controller's instrumented values.
type OvenMetrics struct {
	Registry *Registry

	// Ticks counts completed control ticks.
	Ticks Counter

	// Alarms counts alarm activations by kind (out_of_band, sensor_error).
	Alarms Counter

	// ProfileRuns counts ended profile runs by end reason.
	ProfileRuns Counter

	// Setpoint, ProcessValue and PIDOutput mirror the live loop values.
	Setpoint     Gauge
	ProcessValue Gauge
	PIDOutput    Gauge

	// ServoAngle mirrors the last commanded vent angle.
	ServoAngle Gauge
}

// NewOvenMetrics registers the controller metric families.
func NewOvenMetrics() *OvenMetrics {
	r := NewRegistry()
	return &OvenMetrics{
		Registry:     r,
		Ticks:        r.NewCounter("oven_ticks_total", "Completed control ticks"),
		Alarms:       r.NewCounter("oven_alarms_total", "Alarm activations by kind"),
		ProfileRuns:  r.NewCounter("oven_profile_runs_total", "Ended profile runs by reason"),
		Setpoint:     r.NewGauge("oven_setpoint_celsius", "Current setpoint"),
		ProcessValue: r.NewGauge("oven_process_value_celsius", "Fused process value"),
		PIDOutput:    r.NewGauge("oven_pid_output", "Signed PID output in [-100,100]"),
		ServoAngle:   r.NewGauge("oven_servo_angle_degrees", "Vent servo angle"),
	}
}
