// Telemetry ring buffer for the reflow oven controller
//
// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package datalog

import (
	"context"
	"sync"
	"time"

	"reflow-oven-go/pkg/errs"
	"reflow-oven-go/pkg/hardware"
	"reflow-oven-go/pkg/log"
)

// Sampling limits.
const (
	MinIntervalMs = 250
	MaxIntervalMs = 10_000

	MinWindowMs = 60 * 1000
	MaxWindowMs = 24 * 60 * 60 * 1000
)

// DataPoint is one fixed-size telemetry record.
type DataPoint struct {
	TimestampS   float64                               `json:"timestamp_s"`
	Setpoint     float64                               `json:"setpoint"`
	PV           float64                               `json:"pv"`
	PIDOutput    float64                               `json:"pid_output"`
	P            float64                               `json:"p"`
	I            float64                               `json:"i"`
	D            float64                               `json:"d"`
	Temps        [hardware.NumThermocouples]float64    `json:"temps"`
	RelayBitmask uint8                                 `json:"relay_bitmask"`
	ServoAngle   float64                               `json:"servo_angle"`
	Running      bool                                  `json:"running"`
}

// Source produces the current telemetry record, minus the timestamp.
type Source func() DataPoint

// Logger samples a Source on a fixed interval into a bounded ring buffer
// sized by the retention window.
type Logger struct {
	mu sync.Mutex

	source Source
	logger *log.Logger
	now    func() time.Time

	enabled    bool
	intervalMs int
	windowMs   int

	points []DataPoint

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a logger with the given sampling interval and retention
// window. Sampling does not start until Start.
func New(source Source, intervalMs, windowMs int, logger *log.Logger) (*Logger, error) {
	if intervalMs < MinIntervalMs || intervalMs > MaxIntervalMs {
		return nil, errs.New(errs.KindInvalidArgument, "log interval %d ms outside [%d,%d]",
			intervalMs, MinIntervalMs, MaxIntervalMs)
	}
	if windowMs < MinWindowMs || windowMs > MaxWindowMs {
		return nil, errs.New(errs.KindInvalidArgument, "log window %d ms outside [%d,%d]",
			windowMs, MinWindowMs, MaxWindowMs)
	}

	return &Logger{
		source:     source,
		logger:     logger,
		now:        time.Now,
		intervalMs: intervalMs,
		windowMs:   windowMs,
	}, nil
}

// SetNowFunc overrides the wall clock, for tests.
func (l *Logger) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

func (l *Logger) maxPointsLocked() int {
	n := l.windowMs / l.intervalMs
	if n < 1 {
		n = 1
	}
	return n
}

// Start enables sampling. Starting while enabled is an error.
func (l *Logger) Start() error {
	l.mu.Lock()
	if l.enabled {
		l.mu.Unlock()
		return errs.New(errs.KindInvalidState, "data logging already enabled")
	}
	l.enabled = true
	interval := time.Duration(l.intervalMs) * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	done := make(chan struct{})
	l.done = done
	l.mu.Unlock()

	go l.loop(ctx, interval, done)
	return nil
}

// Stop disables sampling. Stopping while disabled is an error.
func (l *Logger) Stop() error {
	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return errs.New(errs.KindInvalidState, "data logging already disabled")
	}
	l.enabled = false
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// IsLogging reports whether sampling is enabled.
func (l *Logger) IsLogging() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

func (l *Logger) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.Record()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Record()
		}
	}
}

// Record samples the source once and appends to the ring. Exposed so tests
// and the tick path can log synchronously.
func (l *Logger) Record() {
	point := l.source()

	l.mu.Lock()
	defer l.mu.Unlock()

	point.TimestampS = float64(l.now().UnixMilli()) / 1000.0
	l.points = append(l.points, point)
	if max := l.maxPointsLocked(); len(l.points) > max {
		l.points = l.points[len(l.points)-max:]
	}
}

// Points returns a copy of the buffered records, oldest first.
func (l *Logger) Points() []DataPoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]DataPoint, len(l.points))
	copy(out, l.points)
	return out
}

// Clear drops all buffered records.
func (l *Logger) Clear() {
	l.mu.Lock()
	l.points = nil
	l.mu.Unlock()
}

// IntervalMs returns the sampling interval.
func (l *Logger) IntervalMs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.intervalMs
}

// SetIntervalMs changes the sampling interval. Takes effect on restart.
func (l *Logger) SetIntervalMs(intervalMs int) error {
	if intervalMs < MinIntervalMs || intervalMs > MaxIntervalMs {
		return errs.New(errs.KindInvalidArgument, "log interval %d ms outside [%d,%d]",
			intervalMs, MinIntervalMs, MaxIntervalMs)
	}
	l.mu.Lock()
	l.intervalMs = intervalMs
	l.mu.Unlock()
	return nil
}

// WindowMs returns the retention window.
func (l *Logger) WindowMs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windowMs
}

// SetWindowMs changes the retention window and trims the ring if needed.
func (l *Logger) SetWindowMs(windowMs int) error {
	if windowMs < MinWindowMs || windowMs > MaxWindowMs {
		return errs.New(errs.KindInvalidArgument, "log window %d ms outside [%d,%d]",
			windowMs, MinWindowMs, MaxWindowMs)
	}
	l.mu.Lock()
	l.windowMs = windowMs
	if max := l.maxPointsLocked(); len(l.points) > max {
		l.points = l.points[len(l.points)-max:]
	}
	l.mu.Unlock()
	return nil
}
