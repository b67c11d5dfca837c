// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package datalog

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reflow-oven-go/pkg/log"
)

func testLogger() *log.Logger {
	l := log.New("test")
	l.SetWriter(io.Discard)
	return l
}

func staticSource(sp, pv float64) Source {
	return func() DataPoint {
		return DataPoint{Setpoint: sp, PV: pv, Running: true}
	}
}

func TestNewValidatesBounds(t *testing.T) {
	tests := []struct {
		name       string
		intervalMs int
		windowMs   int
		wantErr    bool
	}{
		{"Valid", 1000, MinWindowMs, false},
		{"Interval too small", 100, MinWindowMs, true},
		{"Interval too large", 20_000, MinWindowMs, true},
		{"Window too small", 1000, 1000, true},
		{"Window too large", 1000, MaxWindowMs + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(staticSource(0, 0), tt.intervalMs, tt.windowMs, testLogger())
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecordStampsAndStores(t *testing.T) {
	l, err := New(staticSource(150, 140), 1000, MinWindowMs, testLogger())
	require.NoError(t, err)

	fixed := time.UnixMilli(1_700_000_123_456)
	l.SetNowFunc(func() time.Time { return fixed })

	l.Record()
	points := l.Points()
	require.Len(t, points, 1)
	assert.InDelta(t, 1_700_000_123.456, points[0].TimestampS, 1e-6)
	assert.Equal(t, 150.0, points[0].Setpoint)
	assert.True(t, points[0].Running)
}

func TestRingDropsOldest(t *testing.T) {
	// Window of 60 s at 1 s interval: 60 points max.
	l, err := New(staticSource(0, 0), 1000, MinWindowMs, testLogger())
	require.NoError(t, err)

	n := 0
	l.source = func() DataPoint {
		n++
		return DataPoint{Setpoint: float64(n)}
	}

	for i := 0; i < 70; i++ {
		l.Record()
	}

	points := l.Points()
	assert.Len(t, points, 60)
	assert.Equal(t, 11.0, points[0].Setpoint, "oldest records dropped")
	assert.Equal(t, 70.0, points[len(points)-1].Setpoint)
}

func TestStartStopLifecycle(t *testing.T) {
	l, err := New(staticSource(1, 2), 1000, MinWindowMs, testLogger())
	require.NoError(t, err)

	require.NoError(t, l.Start())
	assert.True(t, l.IsLogging())
	assert.Error(t, l.Start(), "double start is InvalidState")

	// The loop records once immediately on start.
	require.Eventually(t, func() bool { return len(l.Points()) >= 1 }, time.Second, time.Millisecond)

	require.NoError(t, l.Stop())
	assert.False(t, l.IsLogging())
	assert.Error(t, l.Stop(), "double stop is InvalidState")
}

func TestSetWindowTrims(t *testing.T) {
	l, err := New(staticSource(0, 0), 1000, MaxWindowMs, testLogger())
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		l.Record()
	}
	require.Len(t, l.Points(), 100)

	// 60 s window at 1 s interval keeps the newest 60.
	require.NoError(t, l.SetWindowMs(MinWindowMs))
	assert.Len(t, l.Points(), 60)
}

func TestWriteCSV(t *testing.T) {
	l, err := New(func() DataPoint {
		return DataPoint{
			Setpoint:     150,
			PV:           147.25,
			PIDOutput:    42.5,
			P:            40,
			I:            2,
			D:            0.5,
			Temps:        [4]float64{147, 148, 146.5, 147.5},
			RelayBitmask: 0b101,
			ServoAngle:   12.5,
			Running:      true,
		}
	}, 1000, MinWindowMs, testLogger())
	require.NoError(t, err)

	l.SetNowFunc(func() time.Time { return time.UnixMilli(5_000) })
	l.Record()

	var buf bytes.Buffer
	require.NoError(t, l.WriteCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(csvHeader, ","), lines[0])
	assert.Equal(t, "5.000,150.00,147.25,42.50,40.000,2.000,0.500,147.00,148.00,146.50,147.50,5,12.5,true", lines[1])
}

func TestClear(t *testing.T) {
	l, err := New(staticSource(0, 0), 1000, MinWindowMs, testLogger())
	require.NoError(t, err)

	l.Record()
	l.Clear()
	assert.Empty(t, l.Points())
}
