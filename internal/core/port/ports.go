package port

import (
	"context"
	"time"

	"github.com/mgarrido/evsun/internal/core/domain"
)

// SnapshotSource produces one complete, validated sensor snapshot per tick.
// Implementations must return an error instead of a partial snapshot.
type SnapshotSource interface {
	ReadSnapshot(ctx context.Context, now time.Time) (*domain.Snapshot, error)
}

// ChargerActuator translates desired switch/current values into platform
// calls. SetCurrent is never called while the switch is commanded off.
type ChargerActuator interface {
	SetSwitch(ctx context.Context, on bool) error
	SetCurrent(ctx context.Context, amps int) error
}

// PowerReader reads the power/battery side of the snapshot straight from an
// inverter, bypassing the automation platform.
type PowerReader interface {
	Open() error
	Close() error
	ReadPowerValues(ctx context.Context) (*domain.PowerValues, error)
}

// ControlLogic is the deterministic rule evaluator.
type ControlLogic interface {
	Evaluate(snap domain.Snapshot, state domain.ControlState) domain.Decision
}
