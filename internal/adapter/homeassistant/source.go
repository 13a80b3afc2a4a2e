package homeassistant

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mgarrido/evsun/internal/config"
	"github.com/mgarrido/evsun/internal/core/domain"
	"github.com/mgarrido/evsun/internal/core/port"
)

// Source reads the per-tick snapshot from Home Assistant entities and
// actuates the charger through Home Assistant services. When a PowerReader
// is set, the battery/inverter/PV side of the snapshot comes from the
// inverter directly and the corresponding entities are not queried.
type Source struct {
	client   *Client
	entities config.HAEntitiesConfig
	power    port.PowerReader
}

func NewSource(client *Client, entities config.HAEntitiesConfig, power port.PowerReader) *Source {
	return &Source{
		client:   client,
		entities: entities,
		power:    power,
	}
}

// ReadSnapshot assembles one complete snapshot. Any unreadable value fails
// the whole read; a partial snapshot is never returned.
func (s *Source) ReadSnapshot(ctx context.Context, now time.Time) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{At: now}

	pv, err := s.readPowerValues(ctx)
	if err != nil {
		return nil, err
	}
	snap.BatterySoC = pv.BatterySoC
	snap.BatteryPower = pv.BatteryPower
	snap.InverterPower = pv.InverterPower
	snap.PVPower = pv.PVPower

	statusState, err := s.client.GetState(ctx, s.entities.ChargerStatus)
	if err != nil {
		return nil, err
	}
	status, err := domain.ParseChargerStatus(statusState.State)
	if err != nil {
		return nil, err
	}
	snap.ChargerStatus = status

	switchState, err := s.client.GetState(ctx, s.entities.ChargerSwitch)
	if err != nil {
		return nil, err
	}
	switch switchState.State {
	case "on":
		snap.ChargerSwitchOn = true
	case "off":
		snap.ChargerSwitchOn = false
	default:
		return nil, fmt.Errorf("entity %s state %q is not a switch state",
			s.entities.ChargerSwitch, switchState.State)
	}

	amps, err := s.client.GetFloatState(ctx, s.entities.ChargerCurrent)
	if err != nil {
		return nil, err
	}
	snap.ChargerCurrent = int(math.Round(amps))

	return snap, nil
}

func (s *Source) readPowerValues(ctx context.Context) (*domain.PowerValues, error) {
	if s.power != nil {
		return s.power.ReadPowerValues(ctx)
	}

	var pv domain.PowerValues
	var err error
	if pv.BatterySoC, err = s.client.GetFloatState(ctx, s.entities.BatterySoC); err != nil {
		return nil, err
	}
	if pv.BatteryPower, err = s.client.GetFloatState(ctx, s.entities.BatteryPower); err != nil {
		return nil, err
	}
	if pv.InverterPower, err = s.client.GetFloatState(ctx, s.entities.InverterPower); err != nil {
		return nil, err
	}
	if pv.PVPower, err = s.client.GetFloatState(ctx, s.entities.PVPower); err != nil {
		return nil, err
	}
	return &pv, nil
}

func (s *Source) SetSwitch(ctx context.Context, on bool) error {
	if on {
		return s.client.TurnOnSwitch(ctx, s.entities.ChargerSwitch)
	}
	return s.client.TurnOffSwitch(ctx, s.entities.ChargerSwitch)
}

func (s *Source) SetCurrent(ctx context.Context, amps int) error {
	return s.client.SetNumber(ctx, s.entities.ChargerCurrent, float64(amps))
}

var _ port.SnapshotSource = (*Source)(nil)
var _ port.ChargerActuator = (*Source)(nil)
