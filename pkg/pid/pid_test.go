// PID regulator unit tests
//
// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pid

import (
	"math"
	"testing"
	"time"

	"reflow-oven-go/pkg/clock"
	"reflow-oven-go/pkg/errs"
)

func newTestPID(t *testing.T, cfg Config) (*PID, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake()
	p, err := New(fc, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, fc
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "Defaults are valid",
			cfg:     Config{},
			wantErr: false,
		},
		{
			name:    "Setpoint weight above 1",
			cfg:     Config{SetpointWeight: 1.5},
			wantErr: true,
		},
		{
			name:    "Negative setpoint weight",
			cfg:     Config{SetpointWeight: -0.1},
			wantErr: true,
		},
		{
			name:    "Negative derivative filter time",
			cfg:     Config{DerivativeFilterTime: -1},
			wantErr: true,
		},
		{
			name:    "Negative integrator zone",
			cfg:     Config{IntegratorZone: -5},
			wantErr: true,
		},
		{
			name:    "Negative leak time",
			cfg:     Config{IntegratorLeakTime: -2},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(clock.NewFake(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errs.IsKind(err, errs.KindInvalidArgument) {
				t.Errorf("error kind = %v, want INVALID_ARGUMENT", errs.KindOf(err))
			}
		})
	}
}

// S1: proportional-only step response.
func TestProportionalOnlyStepResponse(t *testing.T) {
	p, fc := newTestPID(t, Config{
		Heating:        Gains{Kp: 10},
		SetpointWeight: 1,
	})

	if got := p.Calculate(50, 25); got != 100.0 {
		t.Errorf("first call = %v, want 100.0 (clamped from 250)", got)
	}

	fc.Advance(250 * time.Millisecond)
	if got := p.Calculate(50, 45); got != 50.0 {
		t.Errorf("second call = %v, want 50.0", got)
	}
}

// S2: setpoint-weight band clamp.
func TestSetpointWeightBandClamp(t *testing.T) {
	p, _ := newTestPID(t, Config{
		Heating:        Gains{Kp: 2},
		SetpointWeight: 0.5,
	})
	if got := p.Calculate(100, 0); got != 100.0 {
		t.Errorf("b=0.5 first call = %v, want 100.0", got)
	}

	p2, _ := newTestPID(t, Config{
		Heating:        Gains{Kp: 2},
		SetpointWeight: 0,
	})
	if got := p2.Calculate(100, 0); got != 0.0 {
		t.Errorf("b=0 first call = %v, want 0.0 (band keeps P >= 0)", got)
	}
}

// Invariant 1: output always within bounds.
func TestOutputAlwaysBounded(t *testing.T) {
	p, fc := newTestPID(t, Config{
		Heating:        Gains{Kp: 50, Ki: 10, Kd: 30},
		Cooling:        Gains{Kp: 50, Ki: 10, Kd: 30},
		SetpointWeight: 1,
	})

	inputs := []struct{ sp, pv float64 }{
		{300, 0}, {0, 300}, {150, 150}, {150, 149.5}, {0, -50}, {280, 281},
	}
	for _, in := range inputs {
		for i := 0; i < 20; i++ {
			out := p.Calculate(in.sp, in.pv)
			if out < OutputMin || out > OutputMax {
				t.Fatalf("Calculate(%v, %v) = %v outside [%v, %v]", in.sp, in.pv, out, OutputMin, OutputMax)
			}
			fc.Advance(250 * time.Millisecond)
		}
	}
}

// Invariant 2: the stored integrator never exceeds deliverable headroom.
func TestIntegratorHeadroom(t *testing.T) {
	p, fc := newTestPID(t, Config{
		Heating:        Gains{Kp: 5, Ki: 2},
		SetpointWeight: 1,
	})

	p.Calculate(100, 25)
	for i := 0; i < 200; i++ {
		fc.Advance(250 * time.Millisecond)
		p.Calculate(100, 25)

		terms := p.LastTerms()
		pd := terms.P + terms.D
		headroom := math.Max(math.Abs(OutputMin-pd), math.Abs(OutputMax-pd))
		iContribution := math.Abs(p.heating.Ki * p.integral)
		if iContribution > headroom+1e-9 {
			t.Fatalf("iteration %d: |Ki*I| = %v exceeds headroom %v", i, iContribution, headroom)
		}
	}
}

// Property 3: after Reset, the next call is proportional-only.
func TestResetThenProportionalOnly(t *testing.T) {
	p, fc := newTestPID(t, Config{
		Heating:              Gains{Kp: 3, Ki: 1, Kd: 2},
		SetpointWeight:       0.8,
		DerivativeFilterTime: 2,
	})

	// Accumulate some state first.
	p.Calculate(100, 20)
	for i := 0; i < 10; i++ {
		fc.Advance(250 * time.Millisecond)
		p.Calculate(100, 20+float64(i))
	}

	p.Reset()
	fc.Advance(time.Second)

	sp, pv := 80.0, 60.0
	want := clampOutput(clampToBand(3*(0.8*sp-pv), sp-pv))
	if got := p.Calculate(sp, pv); math.Abs(got-want) > 1e-9 {
		t.Errorf("post-reset call = %v, want %v", got, want)
	}
	terms := p.LastTerms()
	if terms.I != 0 || terms.D != 0 {
		t.Errorf("post-reset terms I=%v D=%v, want both 0", terms.I, terms.D)
	}
}

// Invariant 4: in cooling mode the integrator magnitude decays monotonically
// while |e| grows.
func TestCoolingIntegratorMonotoneDecay(t *testing.T) {
	p, fc := newTestPID(t, Config{
		Heating:        Gains{Kp: 2, Ki: 0.5},
		Cooling:        Gains{Kp: 2, Ki: 0.5},
		SetpointWeight: 1,
	})

	// Build positive integrator under heating demand.
	p.Calculate(120, 100)
	for i := 0; i < 20; i++ {
		fc.Advance(250 * time.Millisecond)
		p.Calculate(120, 100)
	}
	if p.integral <= 0 {
		t.Fatalf("expected positive integrator after heating, got %v", p.integral)
	}

	// Overshoot: growing negative error drives cooling mode.
	prevMag := math.Abs(p.integral)
	for i := 0; i < 40; i++ {
		fc.Advance(250 * time.Millisecond)
		p.Calculate(120, 130+float64(i))
		mag := math.Abs(p.integral)
		if mag > prevMag+1e-9 {
			t.Fatalf("iteration %d: |I| grew from %v to %v in cooling mode", i, prevMag, mag)
		}
		prevMag = mag
	}
}

func TestIntegratorZoneFreezesOutsideBand(t *testing.T) {
	p, fc := newTestPID(t, Config{
		Heating:        Gains{Kp: 0.1, Ki: 1},
		SetpointWeight: 1,
		IntegratorZone: 5,
	})

	// Large error: integrator frozen at zero.
	p.Calculate(200, 25)
	for i := 0; i < 10; i++ {
		fc.Advance(250 * time.Millisecond)
		p.Calculate(200, 25)
	}
	if p.integral != 0 {
		t.Errorf("integrator = %v with |e| = 175 outside zone 5, want 0", p.integral)
	}

	// Small error: integrator accumulates.
	fc.Advance(250 * time.Millisecond)
	p.Calculate(200, 197)
	fc.Advance(250 * time.Millisecond)
	p.Calculate(200, 197)
	if p.integral <= 0 {
		t.Errorf("integrator = %v with |e| = 3 inside zone, want > 0", p.integral)
	}
}

func TestIntegratorLeakDecays(t *testing.T) {
	p, fc := newTestPID(t, Config{
		Heating:            Gains{Kp: 0.01, Ki: 0.2},
		SetpointWeight:     1,
		IntegratorLeakTime: 10,
	})

	p.Calculate(100, 98)
	for i := 0; i < 20; i++ {
		fc.Advance(250 * time.Millisecond)
		p.Calculate(100, 98)
	}
	built := p.integral
	if built <= 0 {
		t.Fatalf("expected accumulated integrator, got %v", built)
	}

	// Error at exactly zero: no accumulation, leak dominates.
	for i := 0; i < 40; i++ {
		fc.Advance(250 * time.Millisecond)
		p.Calculate(100, 100)
	}
	if p.integral >= built {
		t.Errorf("integrator %v did not decay from %v", p.integral, built)
	}
}

func TestDerivativeFilterSmooths(t *testing.T) {
	unfiltered, fc1 := newTestPID(t, Config{
		Heating:        Gains{Kp: 0, Kd: 1},
		SetpointWeight: 1,
	})
	filtered, fc2 := newTestPID(t, Config{
		Heating:              Gains{Kp: 0, Kd: 1},
		SetpointWeight:       1,
		DerivativeFilterTime: 5,
	})

	unfiltered.Calculate(100, 25)
	filtered.Calculate(100, 25)

	// A sudden PV jump produces a large raw derivative; the filtered
	// regulator must respond with a smaller magnitude.
	fc1.Advance(250 * time.Millisecond)
	fc2.Advance(250 * time.Millisecond)
	rawOut := unfiltered.Calculate(100, 35)
	filtOut := filtered.Calculate(100, 35)

	if math.Abs(filtOut) >= math.Abs(rawOut) {
		t.Errorf("filtered derivative %v not smaller than raw %v", filtOut, rawOut)
	}
}

func TestCoolingModeSelection(t *testing.T) {
	p, fc := newTestPID(t, Config{
		Heating:        Gains{Kp: 4},
		Cooling:        Gains{Kp: 8},
		SetpointWeight: 1,
	})

	// PV above setpoint: negative error selects cooling gains.
	p.Calculate(100, 110)
	fc.Advance(250 * time.Millisecond)
	out := p.Calculate(100, 110)
	if out != -80.0 {
		t.Errorf("cooling output = %v, want -80 (Kp_c=8 * e=-10)", out)
	}
}

func TestLastTermsSnapshot(t *testing.T) {
	p, _ := newTestPID(t, Config{
		Heating:        Gains{Kp: 2},
		SetpointWeight: 1,
	})

	out := p.Calculate(50, 30)
	terms := p.LastTerms()
	if terms.Output != out {
		t.Errorf("snapshot output %v != returned %v", terms.Output, out)
	}
	if terms.P != 40 {
		t.Errorf("snapshot P = %v, want 40", terms.P)
	}
}
