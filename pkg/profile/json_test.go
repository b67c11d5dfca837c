// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leadFreeJSON = `{
	"schema_version": 1,
	"name": "lead-free",
	"description": "SAC305 reflow",
	"steps": [
		{"type": "ramp_time", "setpoint_c": 150, "ramp_time_s": 90},
		{"type": "soak", "setpoint_c": 175, "soak_time_s": 60, "guaranteed": true, "deviation_c": 5},
		{"type": "ramp_rate", "setpoint_c": 245, "ramp_rate_c_per_s": 2},
		{"type": "wait", "wait_time_s": 30, "pv_target_c": 245},
		{"type": "direct", "setpoint_c": 0}
	]
}`

func TestParseJSONFullProfile(t *testing.T) {
	def, verrs, err := ParseJSON([]byte(leadFreeJSON))
	require.NoError(t, err)
	assert.Empty(t, verrs)

	assert.Equal(t, "lead-free", def.Name)
	assert.Equal(t, 1, def.SchemaVersion)
	require.Len(t, def.Steps, 5)

	assert.Equal(t, StepRampTime, def.Steps[0].Type)
	assert.Equal(t, 150.0, def.Steps[0].SetpointC)
	assert.Equal(t, 90.0, def.Steps[0].RampTimeS)

	assert.Equal(t, StepSoak, def.Steps[1].Type)
	assert.True(t, def.Steps[1].Guaranteed)
	assert.Equal(t, 5.0, def.Steps[1].DeviationC)

	assert.Equal(t, StepWait, def.Steps[3].Type)
	assert.True(t, def.Steps[3].HasWaitTime)
	assert.True(t, def.Steps[3].HasPVTarget)
	assert.Equal(t, 245.0, def.Steps[3].PVTargetC)
}

func TestParseJSONErrors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantField string
	}{
		{"Invalid JSON", `{{{`, "json"},
		{"Unknown step type", `{"name":"p","steps":[{"type":"bake"}]}`, "type"},
		{"Direct missing setpoint", `{"name":"p","steps":[{"type":"direct"}]}`, "setpoint_c"},
		{"Jump missing repeat", `{"name":"p","steps":[{"type":"direct","setpoint_c":1},{"type":"jump","target_step_number":1}]}`, "repeat_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, verrs, err := ParseJSON([]byte(tt.input))
			require.Error(t, err)
			require.NotEmpty(t, verrs)
			assert.Equal(t, tt.wantField, verrs[0].Field)
		})
	}
}

func TestParseJSONRunsValidation(t *testing.T) {
	// Parses cleanly but fails validation (jump to itself).
	input := `{"name":"p","steps":[{"type":"jump","target_step_number":1,"repeat_count":2}]}`
	_, verrs, err := ParseJSON([]byte(input))
	require.Error(t, err)
	assert.NotEmpty(t, verrs)
}

func TestSerializeRoundTrip(t *testing.T) {
	def, _, err := ParseJSON([]byte(leadFreeJSON))
	require.NoError(t, err)

	data, err := SerializeJSON(def)
	require.NoError(t, err)

	again, verrs, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Empty(t, verrs)
	assert.Equal(t, def, again)
}

func TestSerializeOmitsIrrelevantFields(t *testing.T) {
	def := Definition{
		SchemaVersion: 1,
		Name:          "simple",
		Steps:         []Step{{Type: StepWait, HasWaitTime: true, WaitTimeS: 10}},
	}

	data, err := SerializeJSON(def)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "pv_target_c")
	assert.NotContains(t, string(data), "setpoint_c")
	assert.Contains(t, string(data), `"wait_time_s":10`)
}
