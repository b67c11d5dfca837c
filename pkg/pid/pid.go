// PID regulator for the reflow oven controller
//
// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pid

import (
	"math"

	"reflow-oven-go/pkg/clock"
	"reflow-oven-go/pkg/errs"
)

const (
	// OutputMin is the lower output bound. Negative outputs request
	// cooling authority (vent door).
	OutputMin = -100.0

	// OutputMax is the upper output bound. Positive outputs request
	// heating authority (relay duty).
	OutputMax = 100.0

	// minDt is the floor applied to the time delta, in seconds.
	minDt = 1e-6
)

// Gains is one set of PID gains.
type Gains struct {
	Kp float64
	Ki float64
	Kd float64
}

// Config holds the tuning of a regulator at construction time.
type Config struct {
	Heating Gains
	Cooling Gains

	// SetpointWeight scales the setpoint's contribution to the
	// proportional term: e_w = b*sp - pv. Must be in [0, 1].
	SetpointWeight float64

	// DerivativeFilterTime is the first-order filter time constant for
	// the derivative term, in seconds. Zero disables filtering.
	DerivativeFilterTime float64

	// IntegratorZone freezes the integrator while |error| exceeds this
	// band, in degrees C. Zero disables the zone.
	IntegratorZone float64

	// IntegratorLeakTime exponentially decays the integrator with this
	// time constant, in seconds. Zero disables the leak.
	IntegratorLeakTime float64
}

// Terms is a snapshot of the last calculation for telemetry.
type Terms struct {
	P      float64
	I      float64
	D      float64
	Output float64
}

// PID regulates a process value toward a setpoint with separate heating and
// cooling gain sets, setpoint weighting, derivative-on-PV filtering, an
// integrator zone, an integrator leak, and conditional anti-windup.
//
// Calculate must be called from a single logical task; the owning
// controller serializes access.
type PID struct {
	clk clock.Clock

	heating Gains
	cooling Gains

	setpointWeight   float64
	derivFilterTime  float64
	integratorZone   float64
	integratorLeak   float64

	// Runtime state
	integral   float64
	dFiltered  float64
	previousPV float64
	lastMicros uint64
	firstRun   bool

	last Terms
}

// New creates a regulator. The clock supplies monotonic timestamps so tests
// can drive dt directly.
func New(clk clock.Clock, cfg Config) (*PID, error) {
	p := &PID{
		clk:      clk,
		heating:  cfg.Heating,
		cooling:  cfg.Cooling,
		firstRun: true,
	}

	if err := p.SetSetpointWeight(cfg.SetpointWeight); err != nil {
		return nil, err
	}
	if err := p.SetDerivativeFilterTime(cfg.DerivativeFilterTime); err != nil {
		return nil, err
	}
	if err := p.SetIntegratorZone(cfg.IntegratorZone); err != nil {
		return nil, err
	}
	if err := p.SetIntegratorLeakTime(cfg.IntegratorLeakTime); err != nil {
		return nil, err
	}

	return p, nil
}

// TuneHeating replaces the heating gain set.
func (p *PID) TuneHeating(g Gains) {
	p.heating = g
}

// TuneCooling replaces the cooling gain set.
func (p *PID) TuneCooling(g Gains) {
	p.cooling = g
}

// HeatingGains returns the heating gain set.
func (p *PID) HeatingGains() Gains { return p.heating }

// CoolingGains returns the cooling gain set.
func (p *PID) CoolingGains() Gains { return p.cooling }

// SetSetpointWeight sets the proportional setpoint weight b in [0, 1].
func (p *PID) SetSetpointWeight(b float64) error {
	if b < 0 || b > 1 {
		return errs.New(errs.KindInvalidArgument, "setpoint weight %.3f outside [0,1]", b)
	}
	p.setpointWeight = b
	return nil
}

// SetpointWeight returns the proportional setpoint weight.
func (p *PID) SetpointWeight() float64 { return p.setpointWeight }

// SetDerivativeFilterTime sets the derivative filter time constant in
// seconds. Zero disables filtering.
func (p *PID) SetDerivativeFilterTime(seconds float64) error {
	if seconds < 0 {
		return errs.New(errs.KindInvalidArgument, "derivative filter time %.3f must be >= 0", seconds)
	}
	p.derivFilterTime = seconds
	return nil
}

// DerivativeFilterTime returns the derivative filter time constant.
func (p *PID) DerivativeFilterTime() float64 { return p.derivFilterTime }

// SetIntegratorZone sets the error band outside of which the integrator is
// frozen, in degrees C. Zero disables the zone.
func (p *PID) SetIntegratorZone(zone float64) error {
	if zone < 0 {
		return errs.New(errs.KindInvalidArgument, "integrator zone %.3f must be >= 0", zone)
	}
	p.integratorZone = zone
	return nil
}

// IntegratorZone returns the integrator zone.
func (p *PID) IntegratorZone() float64 { return p.integratorZone }

// SetIntegratorLeakTime sets the integrator leak time constant in seconds.
// Zero disables the leak.
func (p *PID) SetIntegratorLeakTime(seconds float64) error {
	if seconds < 0 {
		return errs.New(errs.KindInvalidArgument, "integrator leak time %.3f must be >= 0", seconds)
	}
	p.integratorLeak = seconds
	return nil
}

// IntegratorLeakTime returns the integrator leak time constant.
func (p *PID) IntegratorLeakTime() float64 { return p.integratorLeak }

// LastTerms returns the P/I/D/output snapshot of the last Calculate call.
func (p *PID) LastTerms() Terms { return p.last }

// Reset clears all runtime state. The next Calculate re-seeds the previous
// process value and emits only a proportional term.
func (p *PID) Reset() {
	p.integral = 0
	p.dFiltered = 0
	p.previousPV = 0
	p.lastMicros = 0
	p.firstRun = true
	p.last = Terms{}
}

// clampToBand keeps the proportional term from pushing against the sign of
// the unweighted error when setpoint weighting flips its sign.
func clampToBand(x, e float64) float64 {
	if e > 0 {
		return math.Max(0, x)
	}
	if e < 0 {
		return math.Min(0, x)
	}
	return x
}

func clampOutput(x float64) float64 {
	return math.Max(OutputMin, math.Min(OutputMax, x))
}

// Calculate runs one regulation step and returns a signed output in
// [OutputMin, OutputMax].
func (p *PID) Calculate(setpoint, pv float64) float64 {
	nowMicros := p.clk.NowMicros()

	var dt float64
	if p.firstRun {
		dt = minDt
		p.previousPV = pv
	} else {
		elapsed := float64(nowMicros-p.lastMicros) / 1e6
		dt = math.Max(elapsed, minDt)
	}

	e := setpoint - pv
	eWeighted := p.setpointWeight*setpoint - pv

	// Derivative on PV, sign-flipped so rising temperature opposes heating.
	if !p.firstRun {
		dRaw := -(pv - p.previousPV) / dt
		alpha := 1.0
		if p.derivFilterTime > 0 {
			alpha = dt / (p.derivFilterTime + dt)
		}
		p.dFiltered = alpha*dRaw + (1-alpha)*p.dFiltered
	}

	pHeat := clampToBand(p.heating.Kp*eWeighted, e)
	dHeat := p.heating.Kd * p.dFiltered
	pCool := clampToBand(p.cooling.Kp*eWeighted, e)
	dCool := p.cooling.Kd * p.dFiltered

	coolingMode := (pCool + dCool) < 0

	var kiActive, pTerm, dTerm float64
	if coolingMode {
		kiActive = p.cooling.Ki
		pTerm = pCool
		dTerm = dCool
	} else {
		kiActive = p.heating.Ki
		pTerm = pHeat
		dTerm = dHeat
	}

	var iTerm float64
	if p.firstRun {
		// Seed run: proportional only, no integrator update.
		iTerm = 0
		dTerm = 0
	} else {
		if p.integratorLeak > 0 {
			p.integral *= math.Exp(-dt / p.integratorLeak)
		}

		inZone := p.integratorZone <= 0 || math.Abs(e) <= p.integratorZone
		if kiActive > 0 && inZone {
			candidate := p.integral + e*dt
			if (pTerm + dTerm) < 0 {
				// Cooling: only accept updates that shrink the
				// stored integrator.
				if math.Abs(candidate) < math.Abs(p.integral) {
					p.integral = candidate
				}
			} else {
				p.integral = candidate
			}
		}

		if kiActive > 0 {
			iTerm = kiActive * p.integral
			low := OutputMin - (pTerm + dTerm)
			high := OutputMax - (pTerm + dTerm)
			iTerm = math.Max(low, math.Min(high, iTerm))
			// Back-solve so the stored integrator matches the
			// contribution actually applied.
			p.integral = iTerm / kiActive
		}
	}

	output := clampOutput(pTerm + dTerm + iTerm)

	p.last = Terms{P: pTerm, I: iTerm, D: dTerm, Output: output}
	p.previousPV = pv
	p.lastMicros = nowMicros
	p.firstRun = false

	return output
}
