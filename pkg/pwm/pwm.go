// Slow PWM edge scheduler for the reflow oven controller
//
// Time-proportional switching with a period in the seconds range, driving
// mechanical relays through on/off callbacks rather than electronic
// switching.
//
// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pwm

import (
	"math"
	"sync"
	"time"
)

// Toggler receives the PWM edges. Callbacks execute serially on the timer
// goroutine; the implementation must tolerate being invoked from there.
type Toggler interface {
	OnHigh()
	OnLow()
}

// SlowPWM schedules on/off edges with a one-shot timer that re-arms after
// each edge. Duty and period changes take effect on the next edge.
type SlowPWM struct {
	mu sync.Mutex

	period  time.Duration
	duty    float64
	toggler Toggler

	onDuration  time.Duration
	offDuration time.Duration

	running bool
	stateOn bool
	gen     uint64
	timer   *time.Timer
}

// New creates a scheduler with the given period, initial duty in [0, 1],
// and edge callbacks. A zero or negative period is raised to 1 ms.
func New(period time.Duration, duty float64, toggler Toggler) *SlowPWM {
	if period < time.Millisecond {
		period = time.Millisecond
	}
	p := &SlowPWM{
		period:  period,
		duty:    clampDuty(duty),
		toggler: toggler,
	}
	p.recomputeDurations()
	return p
}

func clampDuty(d float64) float64 {
	return math.Max(0, math.Min(1, d))
}

// recomputeDurations splits the period per the current duty, rounding the
// on time to whole milliseconds. Called with the lock held.
func (p *SlowPWM) recomputeDurations() {
	on := time.Duration(math.Round(float64(p.period)*p.duty/float64(time.Millisecond))) * time.Millisecond
	if on > p.period {
		on = p.period
	}
	p.onDuration = on
	p.offDuration = p.period - on
}

// Start arms the scheduler. The state begins OFF without firing the off
// callback; the first edge fires after the off duration.
func (p *SlowPWM) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.stateOn = false
	p.running = true
	p.gen++
	p.scheduleLocked()
}

// Stop cancels the pending edge. The current output state is left as-is;
// callers force the output low themselves if required.
func (p *SlowPWM) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// IsRunning reports whether the scheduler is armed.
func (p *SlowPWM) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// StateOn reports the current output state.
func (p *SlowPWM) StateOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateOn
}

// SetPeriod changes the PWM period. Takes effect on the next edge.
func (p *SlowPWM) SetPeriod(period time.Duration) {
	if period < time.Millisecond {
		period = time.Millisecond
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.period = period
	p.recomputeDurations()
}

// Period returns the PWM period.
func (p *SlowPWM) Period() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.period
}

// SetDutyCycle changes the duty fraction in [0, 1]. Takes effect on the
// next edge.
func (p *SlowPWM) SetDutyCycle(duty float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duty = clampDuty(duty)
	p.recomputeDurations()
}

// DutyCycle returns the current duty fraction.
func (p *SlowPWM) DutyCycle() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// ForceOn drives the output high immediately, firing the on callback if
// the state actually changes, then re-arms if running.
func (p *SlowPWM) ForceOn() {
	p.force(true)
}

// ForceOff drives the output low immediately, firing the off callback if
// the state actually changes, then re-arms if running.
func (p *SlowPWM) ForceOff() {
	p.force(false)
}

func (p *SlowPWM) force(on bool) {
	p.mu.Lock()
	changed := p.stateOn != on
	p.stateOn = on
	toggler := p.toggler
	p.mu.Unlock()

	if changed && toggler != nil {
		if on {
			toggler.OnHigh()
		} else {
			toggler.OnLow()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.gen++
		if p.timer != nil {
			p.timer.Stop()
		}
		p.scheduleLocked()
	}
}

// scheduleLocked arms the one-shot timer for the next edge. Called with the
// lock held. A zero-length segment is raised to 1 ms so duty 0 or 1 cannot
// produce a busy edge schedule.
func (p *SlowPWM) scheduleLocked() {
	delay := p.offDuration
	if p.stateOn {
		delay = p.onDuration
	}
	if delay < time.Millisecond {
		delay = time.Millisecond
	}

	gen := p.gen
	p.timer = time.AfterFunc(delay, func() {
		p.onTimer(gen)
	})
}

// onTimer handles one edge: toggles the state, fires the opposite callback,
// then re-arms. Edges are serial because the next timer is armed only after
// the callback returns.
func (p *SlowPWM) onTimer(gen uint64) {
	p.mu.Lock()
	if !p.running || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.stateOn = !p.stateOn
	on := p.stateOn
	toggler := p.toggler
	p.mu.Unlock()

	if toggler != nil {
		if on {
			toggler.OnHigh()
		} else {
			toggler.OnLow()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || gen != p.gen {
		return
	}
	p.scheduleLocked()
}
