// Actuator dispatch math for the reflow oven controller
//
// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package control

import "math"

const (
	// RoomTemperatureC anchors the cooling-effectiveness model.
	RoomTemperatureC = 24.0

	// MinDoorCoolingEffectiveness is the vent's relative effectiveness at
	// room temperature; effectiveness rises linearly to 1.0 at
	// MaxProcessValue.
	MinDoorCoolingEffectiveness = 0.45

	// DoorCoolingNonlinearity shapes the demand-to-opening curve. Door
	// cooling is strongly nonlinear: small openings provide most of the
	// effect.
	DoorCoolingNonlinearity = 3.0
)

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// coolingDoorOpenFraction maps a negative PID output and the current
// process value to a vent opening fraction in [0, 1]. Hotter chambers vent
// more effectively, so the same demand opens the door less at temperature.
func coolingDoorOpenFraction(pidOutput, processValueC float64) float64 {
	if pidOutput >= 0 {
		return 0
	}

	coolingDemand := clamp(-pidOutput/100.0, 0, 1)
	tempRange := math.Max(MaxProcessValue-RoomTemperatureC, 1.0)
	normalizedTemp := clamp((processValueC-RoomTemperatureC)/tempRange, 0, 1)

	effectiveness := MinDoorCoolingEffectiveness +
		(1.0-MinDoorCoolingEffectiveness)*normalizedTemp
	compensated := clamp(coolingDemand/math.Max(effectiveness, 0.05), 0, 1)

	openFraction := 1.0 - math.Pow(1.0-compensated, 1.0/DoorCoolingNonlinearity)
	return clamp(openFraction, 0, 1)
}

// doorAngleFromFraction interpolates between the calibrated closed and open
// angles.
func doorAngleFromFraction(openFraction, closedAngle, openAngle float64) float64 {
	return closedAngle + clamp(openFraction, 0, 1)*(openAngle-closedAngle)
}

// rateLimitAngle moves the current angle toward the target at no more than
// maxSpeedDegPerSec over dtSeconds.
func rateLimitAngle(current, target, maxSpeedDegPerSec, dtSeconds float64) float64 {
	target = clamp(target, 0, 180)
	speed := clamp(maxSpeedDegPerSec, 1, 360)
	maxStep := speed * math.Max(dtSeconds, 0)

	delta := target - current
	if math.Abs(delta) > maxStep {
		return current + math.Copysign(maxStep, delta)
	}
	return target
}
