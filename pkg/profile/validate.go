package profile

const (
	minSetpointC = 0.0
	maxSetpointC = 300.0
)

func addError(errors []ValidationError, stepIndex int, field, message string) []ValidationError {
	return append(errors, ValidationError{StepIndex: stepIndex, Field: field, Message: message})
}

// Validate checks a definition exhaustively and returns every failure.
// Validation is total: a definition with a non-empty error list never
// enters the running set.
func Validate(def Definition) []ValidationError {
	var errors []ValidationError

	if def.Name == "" {
		errors = addError(errors, -1, "name", "name is required")
	}

	if len(def.Steps) == 0 {
		errors = addError(errors, -1, "steps", "steps must not be empty")
		return errors
	}

	if len(def.Steps) > MaxSteps {
		errors = addError(errors, -1, "steps", "too many steps")
	}

	stepCount := len(def.Steps)
	for stepIndex, step := range def.Steps {
		switch step.Type {
		case StepDirect:
			if step.SetpointC < minSetpointC || step.SetpointC > maxSetpointC {
				errors = addError(errors, stepIndex, "setpoint_c", "direct setpoint must be within [0,300]")
			}

		case StepWait:
			if !step.HasWaitTime && !step.HasPVTarget {
				errors = addError(errors, stepIndex, "wait", "wait requires wait_time_s and/or pv_target_c")
			}
			if step.HasWaitTime && step.WaitTimeS <= 0 {
				errors = addError(errors, stepIndex, "wait_time_s", "wait_time_s must be > 0")
			}

		case StepSoak:
			if step.SetpointC < minSetpointC || step.SetpointC > maxSetpointC {
				errors = addError(errors, stepIndex, "setpoint_c", "soak setpoint must be within [0,300]")
			}
			if step.SoakTimeS <= 0 {
				errors = addError(errors, stepIndex, "soak_time_s", "soak_time_s must be > 0")
			}
			if step.Guaranteed && step.DeviationC <= 0 {
				errors = addError(errors, stepIndex, "deviation_c", "deviation_c must be > 0 when guaranteed is true")
			}

		case StepRampTime:
			if step.SetpointC < minSetpointC || step.SetpointC > maxSetpointC {
				errors = addError(errors, stepIndex, "setpoint_c", "ramp_time setpoint must be within [0,300]")
			}
			if step.RampTimeS <= 0 {
				errors = addError(errors, stepIndex, "ramp_time_s", "ramp_time_s must be > 0")
			}

		case StepRampRate:
			if step.SetpointC < minSetpointC || step.SetpointC > maxSetpointC {
				errors = addError(errors, stepIndex, "setpoint_c", "ramp_rate setpoint must be within [0,300]")
			}
			if step.RampRateCPerS <= 0 {
				errors = addError(errors, stepIndex, "ramp_rate_c_per_s", "ramp_rate_c_per_s must be > 0")
			}

		case StepJump:
			if step.TargetStepNumber < 1 || step.TargetStepNumber > stepCount {
				errors = addError(errors, stepIndex, "target_step_number", "target_step_number out of range")
			} else if step.TargetStepNumber >= stepIndex+1 {
				errors = addError(errors, stepIndex, "target_step_number", "jump target must be backward")
			}
			if step.RepeatCount < 0 {
				errors = addError(errors, stepIndex, "repeat_count", "repeat_count must be >= 0")
			}
		}
	}

	return errors
}
