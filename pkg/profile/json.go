package profile

import (
	"encoding/json"

	"reflow-oven-go/pkg/errs"
)

// jsonStep is the wire shape of one step. Optional fields are pointers so
// presence can be distinguished from zero.
type jsonStep struct {
	Type string `json:"type"`

	SetpointC *float64 `json:"setpoint_c,omitempty"`

	WaitTimeS *float64 `json:"wait_time_s,omitempty"`
	PVTargetC *float64 `json:"pv_target_c,omitempty"`

	SoakTimeS  *float64 `json:"soak_time_s,omitempty"`
	Guaranteed *bool    `json:"guaranteed,omitempty"`
	DeviationC *float64 `json:"deviation_c,omitempty"`

	RampTimeS *float64 `json:"ramp_time_s,omitempty"`

	RampRateCPerS *float64 `json:"ramp_rate_c_per_s,omitempty"`

	TargetStepNumber *int `json:"target_step_number,omitempty"`
	RepeatCount      *int `json:"repeat_count,omitempty"`
}

type jsonProfile struct {
	SchemaVersion *int       `json:"schema_version,omitempty"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Steps         []jsonStep `json:"steps"`
}

// ParseJSON parses and fully validates a profile document. On failure the
// error list locates every problem found before parsing stopped.
func ParseJSON(data []byte) (Definition, []ValidationError, error) {
	var raw jsonProfile
	if err := json.Unmarshal(data, &raw); err != nil {
		verrs := []ValidationError{{StepIndex: -1, Field: "json", Message: "invalid JSON"}}
		return Definition{}, verrs, errs.Wrap(errs.KindInvalidArgument, err, "parse profile")
	}

	parsed := Definition{
		SchemaVersion: SchemaVersion,
		Name:          raw.Name,
		Description:   raw.Description,
	}
	if raw.SchemaVersion != nil {
		parsed.SchemaVersion = *raw.SchemaVersion
	}

	for i, rawStep := range raw.Steps {
		stepType, ok := stepTypeFromString(rawStep.Type)
		if !ok {
			verrs := []ValidationError{{StepIndex: i, Field: "type", Message: "unknown step type"}}
			return Definition{}, verrs, errs.New(errs.KindInvalidArgument, "step %d: unknown type %q", i, rawStep.Type)
		}

		step := Step{Type: stepType}
		missing := func(field string) (Definition, []ValidationError, error) {
			verrs := []ValidationError{{StepIndex: i, Field: field, Message: "required field missing"}}
			return Definition{}, verrs, errs.New(errs.KindInvalidArgument, "step %d: missing %s", i, field)
		}

		switch stepType {
		case StepDirect:
			if rawStep.SetpointC == nil {
				return missing("setpoint_c")
			}
			step.SetpointC = *rawStep.SetpointC

		case StepWait:
			if rawStep.WaitTimeS != nil {
				step.HasWaitTime = true
				step.WaitTimeS = *rawStep.WaitTimeS
			}
			if rawStep.PVTargetC != nil {
				step.HasPVTarget = true
				step.PVTargetC = *rawStep.PVTargetC
			}

		case StepSoak:
			if rawStep.SetpointC == nil {
				return missing("setpoint_c")
			}
			if rawStep.SoakTimeS == nil {
				return missing("soak_time_s")
			}
			step.SetpointC = *rawStep.SetpointC
			step.SoakTimeS = *rawStep.SoakTimeS
			if rawStep.Guaranteed != nil {
				step.Guaranteed = *rawStep.Guaranteed
			}
			if rawStep.DeviationC != nil {
				step.DeviationC = *rawStep.DeviationC
			}

		case StepRampTime:
			if rawStep.SetpointC == nil {
				return missing("setpoint_c")
			}
			if rawStep.RampTimeS == nil {
				return missing("ramp_time_s")
			}
			step.SetpointC = *rawStep.SetpointC
			step.RampTimeS = *rawStep.RampTimeS

		case StepRampRate:
			if rawStep.SetpointC == nil {
				return missing("setpoint_c")
			}
			if rawStep.RampRateCPerS == nil {
				return missing("ramp_rate_c_per_s")
			}
			step.SetpointC = *rawStep.SetpointC
			step.RampRateCPerS = *rawStep.RampRateCPerS

		case StepJump:
			if rawStep.TargetStepNumber == nil {
				return missing("target_step_number")
			}
			if rawStep.RepeatCount == nil {
				return missing("repeat_count")
			}
			step.TargetStepNumber = *rawStep.TargetStepNumber
			step.RepeatCount = *rawStep.RepeatCount
		}

		parsed.Steps = append(parsed.Steps, step)
	}

	if verrs := Validate(parsed); len(verrs) > 0 {
		return Definition{}, verrs, errs.New(errs.KindInvalidArgument, "profile failed validation")
	}

	return parsed, nil, nil
}

// SerializeJSON renders a definition back into the wire schema.
func SerializeJSON(def Definition) ([]byte, error) {
	out := jsonProfile{
		SchemaVersion: &def.SchemaVersion,
		Name:          def.Name,
		Description:   def.Description,
		Steps:         make([]jsonStep, 0, len(def.Steps)),
	}

	for i := range def.Steps {
		step := def.Steps[i]
		raw := jsonStep{Type: step.Type.String()}

		switch step.Type {
		case StepDirect:
			raw.SetpointC = &def.Steps[i].SetpointC
		case StepWait:
			if step.HasWaitTime {
				raw.WaitTimeS = &def.Steps[i].WaitTimeS
			}
			if step.HasPVTarget {
				raw.PVTargetC = &def.Steps[i].PVTargetC
			}
		case StepSoak:
			raw.SetpointC = &def.Steps[i].SetpointC
			raw.SoakTimeS = &def.Steps[i].SoakTimeS
			if step.Guaranteed {
				raw.Guaranteed = &def.Steps[i].Guaranteed
				raw.DeviationC = &def.Steps[i].DeviationC
			}
		case StepRampTime:
			raw.SetpointC = &def.Steps[i].SetpointC
			raw.RampTimeS = &def.Steps[i].RampTimeS
		case StepRampRate:
			raw.SetpointC = &def.Steps[i].SetpointC
			raw.RampRateCPerS = &def.Steps[i].RampRateCPerS
		case StepJump:
			raw.TargetStepNumber = &def.Steps[i].TargetStepNumber
			raw.RepeatCount = &def.Steps[i].RepeatCount
		}

		out.Steps = append(out.Steps, raw)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, errs.Wrap(errs.KindIoFailed, err, "serialize profile")
	}
	return data, nil
}
