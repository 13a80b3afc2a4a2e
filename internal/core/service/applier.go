package service

import (
	"errors"
	"fmt"

	"github.com/mgarrido/evsun/internal/core/domain"
)

// Defect-class errors. A decision violating these indicates a broken
// evaluator; the tick must abort without actuation.
var (
	ErrLadderViolation = errors.New("desired step outside the current ladder")
	ErrStepJump        = errors.New("step change exceeds one ladder index")
	ErrCommandMismatch = errors.New("actuator command inconsistent with desired step")
)

// CommandPlan is the minimal set of actuator calls needed to converge on a
// decision, plus the control state to commit once those calls succeed.
type CommandPlan struct {
	Switch      *bool
	CurrentAmps *int
	Next        domain.ControlState
	// Changed marks a real step or switch change; only then does Next carry
	// a refreshed LastChange timestamp.
	Changed bool
}

func (p CommandPlan) HasCommands() bool {
	return p.Switch != nil || p.CurrentAmps != nil
}

// Applier turns decisions into command plans. It validates every decision
// against the ladder invariants before allowing any actuation, enforces
// idempotency against the charger-reported actuals, and is the only
// component that produces the next committed ControlState.
type Applier struct {
	Config domain.ControllerConfig
}

func NewApplier(cfg domain.ControllerConfig) *Applier {
	return &Applier{Config: cfg}
}

func (a *Applier) Plan(snap domain.Snapshot, state domain.ControlState, dec domain.Decision) (*CommandPlan, error) {
	cfg := a.Config

	if dec.StepIndex < 0 || dec.StepIndex > cfg.TopIndex() {
		return nil, fmt.Errorf("%w: index %d", ErrLadderViolation, dec.StepIndex)
	}
	// Steps walk the ladder one index at a time; only a force-off may drop
	// straight to 0 from any index.
	if dec.StepIndex != 0 {
		if delta := dec.StepIndex - state.StepIndex; delta > 1 || delta < -1 {
			return nil, fmt.Errorf("%w: %d -> %d", ErrStepJump, state.StepIndex, dec.StepIndex)
		}
	}
	if err := a.validateCommands(dec); err != nil {
		return nil, err
	}

	plan := &CommandPlan{}

	if dec.Switch != nil && *dec.Switch != snap.ChargerSwitchOn {
		v := *dec.Switch
		plan.Switch = &v
	}
	if dec.CurrentAmps != nil && *dec.CurrentAmps != snap.ChargerCurrent {
		v := *dec.CurrentAmps
		plan.CurrentAmps = &v
	}

	plan.Changed = plan.HasCommands() || dec.StepIndex != state.StepIndex

	plan.Next = domain.ControlState{
		Mode:         dec.Mode,
		StepIndex:    dec.StepIndex,
		LastChange:   state.LastChange,
		WaitingSince: dec.WaitingSince,
	}
	if plan.Changed {
		plan.Next.LastChange = snap.At
	}

	return plan, nil
}

func (a *Applier) validateCommands(dec domain.Decision) error {
	if dec.StepIndex == 0 {
		if dec.CurrentAmps != nil {
			return fmt.Errorf("%w: set-current paired with step 0", ErrCommandMismatch)
		}
		if dec.Switch != nil && *dec.Switch {
			return fmt.Errorf("%w: switch on at step 0", ErrCommandMismatch)
		}
		return nil
	}
	if dec.Switch != nil && !*dec.Switch {
		return fmt.Errorf("%w: switch off at active step %d", ErrCommandMismatch, dec.StepIndex)
	}
	if dec.CurrentAmps != nil && *dec.CurrentAmps != a.Config.LadderAmps[dec.StepIndex] {
		return fmt.Errorf("%w: %dA is not ladder step %d", ErrCommandMismatch, *dec.CurrentAmps, dec.StepIndex)
	}
	return nil
}
