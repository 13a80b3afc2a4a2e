package service

import (
	"time"

	"github.com/mgarrido/evsun/internal/core/domain"
	"github.com/mgarrido/evsun/internal/core/port"
)

const (
	// externalDriftAmps is how far the reported current may drift from the
	// commanded step before the state is resynced to the charger.
	externalDriftAmps = 2.0
	// adoptToleranceAmps is the widest gap between a reported current and a
	// ladder step that still allows adopting/resyncing to that step.
	adoptToleranceAmps = 3.0
)

// Evaluator is the deterministic rule evaluator. Given one snapshot and the
// prior control state it selects exactly one rule, in strict priority order,
// and returns its Decision. It is a pure function: no I/O, no clock, no
// mutation of its inputs.
type Evaluator struct {
	Config domain.ControllerConfig
}

func NewEvaluator(cfg domain.ControllerConfig) *Evaluator {
	return &Evaluator{Config: cfg}
}

func (e *Evaluator) Evaluate(snap domain.Snapshot, state domain.ControlState) domain.Decision {
	cfg := e.Config
	d := Derive(cfg, snap, state)

	// Mode collapse: retag the mode when the regime no longer matches the
	// battery SoC, so the per-regime rules below apply to the right region.
	state.Mode = collapseMode(state.Mode, d.Region)

	ws := nextWaitingSince(snap, state)

	// Fault and waiting-timeout keep the waiting latch so the condition can
	// be observed across ticks; unplug and auto-disable clear it.
	if snap.ChargerStatus == domain.StatusFault {
		return forceOff(ws, domain.ReasonFault)
	}
	if d.WaitingTimedOut {
		return forceOff(ws, domain.ReasonWaitingTimeout)
	}
	if snap.ChargerStatus == domain.StatusAvailable {
		return forceOff(time.Time{}, domain.ReasonUnplugged)
	}
	if !snap.AutoEnabled {
		return forceOff(time.Time{}, domain.ReasonAutoDisabled)
	}

	if state.Mode.IsCooldown() {
		// Cooldown gate: the only transition out of a COOLDOWN state is to
		// the matching READY state, regardless of power conditions.
		if d.CooldownElapsed {
			return hold(state, ws, domain.ModeFor(d.Region, false), domain.ReasonCooldownClear)
		}
		return hold(state, ws, state.Mode, domain.ReasonCooldown)
	}

	if state.Mode == domain.ModeOff {
		// Starts are gated on cooldown too: a force-off stamps the change
		// timestamp, so a restart cannot happen inside the window.
		if !d.CooldownElapsed {
			return hold(state, ws, domain.ModeOff, domain.ReasonIdle)
		}
		if d.Region == domain.RegionMain {
			return e.mainStart(snap, d, ws)
		}
		return e.probeStart(snap, d, ws)
	}

	// READY with an active step from here on.
	if d.InverterOver {
		return e.emergencyDownstep(state, d, ws)
	}

	if d.Region == domain.RegionMain {
		return e.mainReady(snap, state, d, ws)
	}
	return e.probeReady(snap, state, d, ws)
}

func (e *Evaluator) mainStart(snap domain.Snapshot, d Derived, ws time.Time) domain.Decision {
	cfg := e.Config
	if d.Excess >= cfg.StartCost() && snap.InverterPower+cfg.StartCost() <= d.SafeCeiling {
		return setStep(cfg, cfg.MinActiveIndex(), d.Region, ws, domain.ReasonMainStart)
	}
	return hold(domain.ControlState{}, ws, domain.ModeOff, domain.ReasonIdle)
}

func (e *Evaluator) probeStart(snap domain.Snapshot, d Derived, ws time.Time) domain.Decision {
	cfg := e.Config
	if snap.BatteryPower <= 0 && snap.InverterPower+cfg.StartCost() <= d.SafeCeiling {
		return setStep(cfg, cfg.MinActiveIndex(), d.Region, ws, domain.ReasonProbeStart)
	}
	return hold(domain.ControlState{}, ws, domain.ModeOff, domain.ReasonIdle)
}

func (e *Evaluator) emergencyDownstep(state domain.ControlState, d Derived, ws time.Time) domain.Decision {
	cfg := e.Config
	if state.StepIndex <= cfg.MinActiveIndex() {
		return forceOff(ws, domain.ReasonInverterOverlimit)
	}
	return setStep(cfg, state.StepIndex-1, d.Region, ws, domain.ReasonInverterOverlimit)
}

func (e *Evaluator) mainReady(snap domain.Snapshot, state domain.ControlState, d Derived, ws time.Time) domain.Decision {
	cfg := e.Config
	if state.StepIndex < cfg.TopIndex() &&
		d.Excess >= cfg.StepUpCost(state.StepIndex) &&
		inverterSafe(cfg, snap, state.StepIndex) {
		return setStep(cfg, state.StepIndex+1, d.Region, ws, domain.ReasonMainStepUp)
	}
	if d.Excess >= -cfg.SmallDischargeMargin {
		return hold(state, ws, state.Mode, domain.ReasonMainHold)
	}
	// Discharging beyond the tolerated margin: shed one step.
	if state.StepIndex <= cfg.MinActiveIndex() {
		return forceOff(ws, domain.ReasonMainStepDown)
	}
	return setStep(cfg, state.StepIndex-1, d.Region, ws, domain.ReasonMainStepDown)
}

func (e *Evaluator) probeReady(snap domain.Snapshot, state domain.ControlState, d Derived, ws time.Time) domain.Decision {
	cfg := e.Config
	if snap.BatteryPower <= 0 {
		if state.StepIndex < cfg.TopIndex() && inverterSafe(cfg, snap, state.StepIndex) {
			return setStep(cfg, state.StepIndex+1, d.Region, ws, domain.ReasonProbeStepUp)
		}
		return hold(state, ws, state.Mode, domain.ReasonProbeHold)
	}
	if snap.BatteryPower <= cfg.ProbeMaxDischarge {
		return hold(state, ws, state.Mode, domain.ReasonProbeHold)
	}
	if state.StepIndex <= cfg.MinActiveIndex() {
		return forceOff(ws, domain.ReasonProbeOverdischarge)
	}
	return setStep(cfg, state.StepIndex-1, d.Region, ws, domain.ReasonProbeOverdischarge)
}

// SeedState adopts a charging session already in progress at startup: when
// the charger is delivering at least 1A with status "charging", the state is
// seeded at the nearest ladder step instead of forcing OFF. Adoption stamps
// the change timestamp and enters the COOLDOWN state, so the first
// adjustment after the adoption waits out a full cooldown window.
func SeedState(cfg domain.ControllerConfig, snap domain.Snapshot) domain.ControlState {
	if snap.ChargerStatus != domain.StatusCharging || snap.ChargerCurrent < 1 {
		return domain.InitialControlState()
	}
	idx, diff := cfg.NearestActiveIndex(float64(snap.ChargerCurrent))
	if diff > adoptToleranceAmps {
		return domain.InitialControlState()
	}
	return domain.ControlState{
		Mode:       domain.ModeFor(RegionForSoC(cfg, snap.BatterySoC), true),
		StepIndex:  idx,
		LastChange: snap.At,
	}
}

// ResyncExternal detects a charger current changed behind the controller's
// back and resyncs the step index to the nearest ladder step. A current
// nearest the 0A rung means someone stopped the charger, and the state
// follows it to OFF. Either way the change timestamp is stamped and the
// resynced state enters COOLDOWN, so the next adjustment waits out a full
// window. Drift inside the cooldown window is ignored: right after a
// committed command the reported current lags the command, and chasing it
// would undo our own change.
func ResyncExternal(cfg domain.ControllerConfig, snap domain.Snapshot, state domain.ControlState) (domain.ControlState, bool) {
	if !state.LastChange.IsZero() && snap.At.Sub(state.LastChange) < cfg.Cooldown {
		return state, false
	}
	expected := float64(cfg.LadderAmps[state.StepIndex])
	actual := float64(snap.ChargerCurrent)
	diff := expected - actual
	if diff < 0 {
		diff = -diff
	}
	if diff <= externalDriftAmps {
		return state, false
	}
	idx, nearest := cfg.NearestLadderIndex(actual)
	if nearest > adoptToleranceAmps {
		return state, false
	}
	if idx == 0 {
		// A near-zero current is only an external stop while the charger
		// claims to be charging. In the waiting and charged states zero
		// current is the expected reading and the status rules own it.
		if snap.ChargerStatus != domain.StatusCharging {
			return state, false
		}
		state.Mode = domain.ModeOff
	} else {
		state.Mode = domain.ModeFor(RegionForSoC(cfg, snap.BatterySoC), true)
	}
	state.StepIndex = idx
	state.LastChange = snap.At
	return state, true
}

func collapseMode(mode domain.Mode, region domain.Region) domain.Mode {
	if mode == domain.ModeOff || mode.Region() == region {
		return mode
	}
	return domain.ModeFor(region, mode.IsCooldown())
}

// nextWaitingSince latches the waiting timer when the status becomes
// "waiting" and clears it when it leaves.
func nextWaitingSince(snap domain.Snapshot, state domain.ControlState) time.Time {
	if snap.ChargerStatus != domain.StatusWaiting {
		return time.Time{}
	}
	if state.WaitingSince.IsZero() {
		return snap.At
	}
	return state.WaitingSince
}

func forceOff(ws time.Time, reason string) domain.Decision {
	off := false
	return domain.Decision{
		Mode:         domain.ModeOff,
		StepIndex:    0,
		Switch:       &off,
		WaitingSince: ws,
		Reason:       reason,
	}
}

func hold(state domain.ControlState, ws time.Time, mode domain.Mode, reason string) domain.Decision {
	return domain.Decision{
		Mode:         mode,
		StepIndex:    state.StepIndex,
		WaitingSince: ws,
		Reason:       reason,
	}
}

func setStep(cfg domain.ControllerConfig, index int, region domain.Region, ws time.Time, reason string) domain.Decision {
	on := true
	amps := cfg.LadderAmps[index]
	return domain.Decision{
		Mode:         domain.ModeFor(region, true),
		StepIndex:    index,
		Switch:       &on,
		CurrentAmps:  &amps,
		WaitingSince: ws,
		Reason:       reason,
	}
}

// ensure interface compliance
var _ port.ControlLogic = (*Evaluator)(nil)
