package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the FSM macro state of the charge controller.
type Mode int

const (
	ModeOff Mode = iota
	ModeMainReady
	ModeMainCooldown
	ModeProbeReady
	ModeProbeCooldown
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "OFF"
	case ModeMainReady:
		return "MAIN_READY"
	case ModeMainCooldown:
		return "MAIN_COOLDOWN"
	case ModeProbeReady:
		return "PROBE_READY"
	case ModeProbeCooldown:
		return "PROBE_COOLDOWN"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Region is the battery-SoC-gated control strategy. MAIN tracks PV excess
// while the house battery is still filling; PROBE tracks battery discharge
// once the battery is full and PV readings are curtailed.
type Region int

const (
	RegionMain Region = iota
	RegionProbe
)

func (r Region) String() string {
	if r == RegionProbe {
		return "PROBE"
	}
	return "MAIN"
}

func (m Mode) Region() Region {
	switch m {
	case ModeProbeReady, ModeProbeCooldown:
		return RegionProbe
	default:
		return RegionMain
	}
}

func (m Mode) IsCooldown() bool {
	return m == ModeMainCooldown || m == ModeProbeCooldown
}

func (m Mode) IsReady() bool {
	return m == ModeMainReady || m == ModeProbeReady
}

// ModeFor returns the READY or COOLDOWN mode of a region.
func ModeFor(region Region, cooldown bool) Mode {
	if region == RegionProbe {
		if cooldown {
			return ModeProbeCooldown
		}
		return ModeProbeReady
	}
	if cooldown {
		return ModeMainCooldown
	}
	return ModeMainReady
}

// ChargerStatus is the charger status enumeration reported by the EVSE.
type ChargerStatus string

const (
	StatusAvailable ChargerStatus = "available"
	StatusWaiting   ChargerStatus = "waiting"
	StatusCharging  ChargerStatus = "charging"
	StatusCharged   ChargerStatus = "charged"
	StatusFault     ChargerStatus = "fault"
)

func ParseChargerStatus(s string) (ChargerStatus, error) {
	switch ChargerStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusAvailable:
		return StatusAvailable, nil
	case StatusWaiting:
		return StatusWaiting, nil
	case StatusCharging:
		return StatusCharging, nil
	case StatusCharged:
		return StatusCharged, nil
	case StatusFault:
		return StatusFault, nil
	default:
		return "", fmt.Errorf("unknown charger status %q", s)
	}
}

// ControlState is the only state carried between ticks. It is owned by the
// control loop and mutated exclusively by the decision applier.
type ControlState struct {
	Mode         Mode
	StepIndex    int
	LastChange   time.Time
	WaitingSince time.Time // zero while status is not "waiting"
}

// InitialControlState is the state at process start: off, step 0.
func InitialControlState() ControlState {
	return ControlState{Mode: ModeOff, StepIndex: 0}
}
