// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{"INFO", INFO},
		{"WARN", WARN},
		{"WARNING", WARN},
		{"ERROR", ERROR},
		{"garbage", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New("test")
	l.SetWriter(&buf)
	l.SetColorize(false)
	l.SetLevel(WARN)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below WARN should be filtered, got: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("WARN and ERROR messages missing, got: %s", out)
	}
}

func TestTextFormatContainsPrefixAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("controller")
	l.SetWriter(&buf)
	l.SetColorize(false)

	l.WithFields(Fields{"setpoint": 150.0, "pv": 25.5}).Info("tick")

	out := buf.String()
	for _, want := range []string{"controller:", "tick", "pv=25.5", "setpoint=150"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("pwm")
	l.SetWriter(&buf)
	l.SetFormat(FormatJSON)

	l.WithField("duty", 0.5).Warn("edge late")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["logger"] != "pwm" {
		t.Errorf("logger = %v, want pwm", entry["logger"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	fields, ok := entry["fields"].(map[string]interface{})
	if !ok || fields["duty"] != 0.5 {
		t.Errorf("fields = %v, want duty=0.5", entry["fields"])
	}
}

func TestWithPrefixInheritsSettings(t *testing.T) {
	var buf bytes.Buffer
	parent := New("root")
	parent.SetWriter(&buf)
	parent.SetColorize(false)
	parent.SetLevel(ERROR)

	child := parent.WithPrefix("child")
	child.Info("should be filtered")
	child.Error("should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Errorf("child logger did not inherit level: %s", out)
	}
	if !strings.Contains(out, "child: should appear") {
		t.Errorf("child prefix missing: %s", out)
	}
}
