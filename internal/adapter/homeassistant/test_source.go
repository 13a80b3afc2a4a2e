package homeassistant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mgarrido/evsun/internal/core/domain"
	"github.com/mgarrido/evsun/internal/core/port"
)

func CreateTestSource(snapshots ...domain.Snapshot) *TestSource {
	return &TestSource{Snapshots: snapshots}
}

// TestSource is a scripted snapshot source and charger actuator. Each read
// consumes the next scripted snapshot (sticking at the last one) and mirrors
// the actuator state into the charger fields, emulating a compliant charger.
type TestSource struct {
	mu        sync.Mutex
	Snapshots []domain.Snapshot
	ReadErr   error

	idx          int
	switchOn     bool
	currentAmps  int
	SwitchCalls  []bool
	CurrentCalls []int
}

func (s *TestSource) ReadSnapshot(_ context.Context, now time.Time) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	if len(s.Snapshots) == 0 {
		return nil, errors.New("no scripted snapshots")
	}
	snap := s.Snapshots[s.idx]
	if s.idx < len(s.Snapshots)-1 {
		s.idx++
	}
	snap.At = now
	snap.ChargerSwitchOn = s.switchOn
	snap.ChargerCurrent = s.currentAmps
	return &snap, nil
}

func (s *TestSource) SetSwitch(_ context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SwitchCalls = append(s.SwitchCalls, on)
	s.switchOn = on
	if !on {
		s.currentAmps = 0
	}
	return nil
}

func (s *TestSource) SetCurrent(_ context.Context, amps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CurrentCalls = append(s.CurrentCalls, amps)
	s.currentAmps = amps
	return nil
}

// SeedCharger presets the mirrored charger state, for adoption tests.
func (s *TestSource) SeedCharger(on bool, amps int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.switchOn = on
	s.currentAmps = amps
}

var _ port.SnapshotSource = (*TestSource)(nil)
var _ port.ChargerActuator = (*TestSource)(nil)
