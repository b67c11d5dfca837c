// Profile execution engine for the reflow oven controller
//
// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package profile

import (
	"math"
	"sync"

	"reflow-oven-go/pkg/errs"
	"reflow-oven-go/pkg/log"
)

// Engine holds at most one uploaded (volatile) profile plus the persisted
// slots, and runs the per-step state machine. The engine lock is taken
// before any chamber call; the chamber never calls back into the engine
// while holding its own lock, so the ordering cannot deadlock.
type Engine struct {
	mu sync.Mutex

	chamber Chamber
	slots   SlotStore
	logger  *log.Logger

	hasUploaded bool
	uploaded    Definition

	running          bool
	active           Definition
	activeSource     string // none | uploaded | slot
	activeSlotIndex  int
	currentStepIndex int
	stepElapsedS     float64
	profileElapsedS  float64
	stepStartSPC     float64
	waitTimeLatched  bool
	waitPVLatched    bool
	soakAccumS       float64
	jumpRemaining    map[int]int
	lastEndReason    EndReason

	// onRunEnd, when set, observes every run end (metrics).
	onRunEnd func(reason EndReason)
}

// NewEngine creates an idle engine bound to a chamber and slot storage.
func NewEngine(chamber Chamber, slots SlotStore, logger *log.Logger) *Engine {
	return &Engine{
		chamber:         chamber,
		slots:           slots,
		logger:          logger,
		activeSource:    "none",
		activeSlotIndex: -1,
		jumpRemaining:   make(map[int]int),
		lastEndReason:   EndNone,
	}
}

// SetRunEndObserver installs a hook invoked whenever a run ends.
func (e *Engine) SetRunEndObserver(fn func(reason EndReason)) {
	e.mu.Lock()
	e.onRunEnd = fn
	e.mu.Unlock()
}

// ===== Uploaded profile =====

// SetUploadedProfile validates and stores the volatile uploaded profile.
func (e *Engine) SetUploadedProfile(def Definition) []ValidationError {
	if verrs := Validate(def); len(verrs) > 0 {
		return verrs
	}

	e.mu.Lock()
	e.uploaded = def
	e.hasUploaded = true
	e.mu.Unlock()
	return nil
}

// UploadedProfile returns the uploaded profile, if any.
func (e *Engine) UploadedProfile() (Definition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uploaded, e.hasUploaded
}

// ClearUploadedProfile drops the uploaded profile.
func (e *Engine) ClearUploadedProfile() {
	e.mu.Lock()
	e.hasUploaded = false
	e.uploaded = Definition{}
	e.mu.Unlock()
}

// ===== Slots =====

// SlotSummaries describes every persisted slot.
func (e *Engine) SlotSummaries() [MaxSlots]SlotSummary {
	var out [MaxSlots]SlotSummary
	for slot := 0; slot < MaxSlots; slot++ {
		out[slot].SlotIndex = slot
		def, err := e.SlotProfile(slot)
		if err != nil {
			continue
		}
		out[slot].Occupied = true
		out[slot].Name = def.Name
		out[slot].StepCount = len(def.Steps)
	}
	return out
}

// SlotProfile loads and re-validates one slot. A stored blob that fails to
// parse or validate surfaces as an InvalidArgument error.
func (e *Engine) SlotProfile(slot int) (Definition, error) {
	blob, err := e.slots.Load(slot)
	if err != nil {
		return Definition{}, err
	}

	def, _, err := ParseJSON([]byte(blob))
	if err != nil {
		return Definition{}, errs.Wrap(errs.KindInvalidArgument, err, "slot %d holds an invalid profile", slot)
	}
	return def, nil
}

// SaveProfileToSlot persists a validated profile into an empty slot.
// Occupied slots must be deleted explicitly first.
func (e *Engine) SaveProfileToSlot(slot int, def Definition) error {
	if verrs := Validate(def); len(verrs) > 0 {
		return errs.New(errs.KindInvalidArgument, "profile failed validation")
	}
	if err := validSlot(slot); err != nil {
		return err
	}

	if e.slots.Exists(slot) {
		return errs.New(errs.KindConflict, "slot %d is occupied; delete it first", slot)
	}

	blob, err := SerializeJSON(def)
	if err != nil {
		return err
	}
	return e.slots.Save(slot, def.Name, string(blob))
}

// DeleteSlotProfile empties one slot.
func (e *Engine) DeleteSlotProfile(slot int) error {
	return e.slots.Delete(slot)
}

// ===== Run control =====

// StartFromUploaded starts the uploaded profile.
func (e *Engine) StartFromUploaded() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errs.New(errs.KindInvalidState, "a profile is already running")
	}
	if !e.hasUploaded {
		return errs.New(errs.KindNotFound, "no uploaded profile")
	}

	return e.startLocked(e.uploaded, "uploaded", -1)
}

// StartFromSlot starts a persisted profile.
func (e *Engine) StartFromSlot(slot int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errs.New(errs.KindInvalidState, "a profile is already running")
	}

	blob, err := e.slots.Load(slot)
	if err != nil {
		return err
	}
	def, _, err := ParseJSON([]byte(blob))
	if err != nil {
		e.lastEndReason = EndInvalidProfile
		return errs.Wrap(errs.KindInvalidArgument, err, "slot %d holds an invalid profile", slot)
	}

	return e.startLocked(def, "slot", slot)
}

// startLocked arms the run, starts the chamber if needed, and drains any
// zero-duration lead-in steps. Called with the engine lock held.
func (e *Engine) startLocked(def Definition, source string, slotIndex int) error {
	if verrs := Validate(def); len(verrs) > 0 {
		e.lastEndReason = EndInvalidProfile
		return errs.New(errs.KindInvalidArgument, "profile failed validation")
	}

	e.active = def
	e.activeSource = source
	e.activeSlotIndex = slotIndex

	e.jumpRemaining = make(map[int]int)
	for idx, step := range e.active.Steps {
		if step.Type == StepJump {
			e.jumpRemaining[idx] = step.RepeatCount
		}
	}

	e.running = true
	e.lastEndReason = EndNone
	e.profileElapsedS = 0
	e.enterStepLocked(0)
	e.chamber.SetProfileSetpointLock(true)

	if !e.chamber.IsRunning() {
		if err := e.chamber.Start(); err != nil {
			e.endRunLocked(EndStartFailed, false)
			return errs.Wrap(errs.KindInvalidState, err, "chamber start failed")
		}
	}

	e.logger.WithField("profile", def.Name).Info("profile run started from %s", source)

	// Immediate tick with dt=0 processes any zero-duration lead-in.
	e.advanceLocked(0)
	return nil
}

// CancelRunning synchronously ends the active run.
func (e *Engine) CancelRunning(reason EndReason) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return errs.New(errs.KindInvalidState, "no profile is running")
	}

	e.endRunLocked(reason, true)
	return nil
}

// Tick advances the run by dtSeconds. Invoked from the controller tick.
func (e *Engine) Tick(dtSeconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	if !e.chamber.IsRunning() {
		e.endRunLocked(EndControllerStopped, false)
		return
	}

	e.advanceLocked(dtSeconds)
}

// advanceLocked executes the current step, consuming dt on the first
// iteration, and follows zero-duration transitions until the step index
// stops moving or the run ends.
func (e *Engine) advanceLocked(dtSeconds float64) {
	transitions := 0
	for e.running {
		before := e.currentStepIndex
		keepRunning := e.executeStepLocked(dtSeconds, &transitions)
		dtSeconds = 0
		if !keepRunning {
			break
		}
		if e.currentStepIndex == before {
			break
		}
	}
}

// enterStepLocked resets per-step state. Returns false for an out-of-range
// index.
func (e *Engine) enterStepLocked(stepIndex int) bool {
	if stepIndex < 0 || stepIndex >= len(e.active.Steps) {
		return false
	}

	e.currentStepIndex = stepIndex
	e.stepElapsedS = 0
	e.waitTimeLatched = false
	e.waitPVLatched = false
	e.soakAccumS = 0
	e.stepStartSPC = e.chamber.SetPoint()
	return true
}

// resetJumpCountersLocked restores the remaining counters of every jump
// step in [start, end), supporting nested loops.
func (e *Engine) resetJumpCountersLocked(startInclusive, endExclusive int) {
	start := startInclusive
	if start < 0 {
		start = 0
	}
	end := endExclusive
	if end > len(e.active.Steps) {
		end = len(e.active.Steps)
	}
	for idx := start; idx < end; idx++ {
		if e.active.Steps[idx].Type == StepJump {
			e.jumpRemaining[idx] = e.active.Steps[idx].RepeatCount
		}
	}
}

// executeStepLocked runs one evaluation of the current step. Returns false
// when the run ended.
func (e *Engine) executeStepLocked(dtSeconds float64, transitions *int) bool {
	if e.currentStepIndex < 0 || e.currentStepIndex >= len(e.active.Steps) {
		return false
	}

	step := e.active.Steps[e.currentStepIndex]
	dt := math.Max(0, dtSeconds)
	e.stepElapsedS += dt
	e.profileElapsedS += dt

	advance := false
	nextStepIndex := e.currentStepIndex + 1

	switch step.Type {
	case StepDirect:
		e.chamber.SetSetPointFromProfile(step.SetpointC)
		advance = true

	case StepWait:
		if step.HasWaitTime && !e.waitTimeLatched && e.stepElapsedS >= step.WaitTimeS {
			e.waitTimeLatched = true
		}
		if step.HasPVTarget && !e.waitPVLatched {
			pv := e.chamber.ProcessValue()
			if math.Abs(pv-step.PVTargetC) <= PVToleranceC {
				e.waitPVLatched = true
			}
		}

		timeSatisfied := !step.HasWaitTime || e.waitTimeLatched
		pvSatisfied := !step.HasPVTarget || e.waitPVLatched
		advance = timeSatisfied && pvSatisfied

	case StepSoak:
		e.chamber.SetSetPointFromProfile(step.SetpointC)
		if !step.Guaranteed {
			e.soakAccumS += dt
		} else {
			pv := e.chamber.ProcessValue()
			if math.Abs(pv-step.SetpointC) <= step.DeviationC {
				e.soakAccumS += dt
			}
		}
		advance = e.soakAccumS >= step.SoakTimeS

	case StepRampTime:
		duration := math.Max(0.001, step.RampTimeS)
		progress := math.Min(math.Max(e.stepElapsedS/duration, 0), 1)
		setpoint := e.stepStartSPC + (step.SetpointC-e.stepStartSPC)*progress
		e.chamber.SetSetPointFromProfile(setpoint)
		advance = e.stepElapsedS >= duration

	case StepRampRate:
		delta := step.SetpointC - e.stepStartSPC
		duration := math.Max(math.Abs(delta)/math.Max(step.RampRateCPerS, 0.001), 0.001)
		progress := math.Min(math.Max(e.stepElapsedS/duration, 0), 1)
		e.chamber.SetSetPointFromProfile(e.stepStartSPC + delta*progress)
		advance = e.stepElapsedS >= duration

	case StepJump:
		remaining := e.jumpRemaining[e.currentStepIndex]
		if remaining > 0 {
			e.jumpRemaining[e.currentStepIndex] = remaining - 1
			nextStepIndex = step.TargetStepNumber - 1
			e.resetJumpCountersLocked(nextStepIndex, e.currentStepIndex)
		} else {
			// Restore for re-entry from an outer loop, then fall
			// through to the next step.
			e.jumpRemaining[e.currentStepIndex] = step.RepeatCount
		}
		advance = true
	}

	if !advance {
		return true
	}

	*transitions++
	if *transitions > MaxTransitionsPerTick {
		e.logger.Warn("profile exceeded %d transitions in one tick, aborting", MaxTransitionsPerTick)
		e.endRunLocked(EndTransitionGuard, true)
		return false
	}

	if nextStepIndex >= len(e.active.Steps) {
		e.endRunLocked(EndCompleted, true)
		return false
	}

	if !e.enterStepLocked(nextStepIndex) {
		e.endRunLocked(EndInvalidProfile, true)
		return false
	}

	return true
}

// endRunLocked clears run state, releases the setpoint lock, and for
// safety-relevant end reasons stops the chamber.
func (e *Engine) endRunLocked(reason EndReason, stopChamber bool) {
	wasRunning := e.running
	e.running = false
	e.lastEndReason = reason

	e.active = Definition{}
	e.activeSource = "none"
	e.activeSlotIndex = -1
	e.currentStepIndex = 0
	e.stepElapsedS = 0
	e.profileElapsedS = 0
	e.stepStartSPC = 0
	e.waitTimeLatched = false
	e.waitPVLatched = false
	e.soakAccumS = 0
	e.jumpRemaining = make(map[int]int)

	e.chamber.SetProfileSetpointLock(false)

	if stopChamber && wasRunning && e.chamber.IsRunning() {
		if err := e.chamber.Stop(); err != nil {
			e.logger.WithError(err).Error("chamber stop at run end failed")
		}
	}

	if wasRunning {
		e.logger.Info("profile run ended: %s", reason)
		if e.onRunEnd != nil {
			e.onRunEnd(reason)
		}
	}
}

// ===== Status =====

// IsRunning reports whether a profile is executing.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// RuntimeStatus returns the externally visible run state.
func (e *Engine) RuntimeStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := Status{
		Running:       e.running,
		Source:        "none",
		SlotIndex:     -1,
		LastEndReason: e.lastEndReason.String(),
	}

	if !e.running {
		return status
	}

	status.Name = e.active.Name
	status.Source = e.activeSource
	status.SlotIndex = e.activeSlotIndex
	status.CurrentStepNumber = e.currentStepIndex + 1
	if e.currentStepIndex >= 0 && e.currentStepIndex < len(e.active.Steps) {
		status.CurrentStepType = e.active.Steps[e.currentStepIndex].Type.String()
	}
	status.StepElapsedS = e.stepElapsedS
	status.ProfileElapsedS = e.profileElapsedS

	return status
}
