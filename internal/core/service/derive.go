package service

import (
	"time"

	"github.com/mgarrido/evsun/internal/core/domain"
)

// Derived holds the intermediate quantities computed from one snapshot and
// the prior control state. Pure data, no side effects.
type Derived struct {
	Region          domain.Region
	SafeCeiling     float64
	Excess          float64
	ExcessValid     bool
	InverterOver    bool
	SinceLastChange time.Duration
	CooldownElapsed bool
	WaitingElapsed  time.Duration
	WaitingTimedOut bool
}

// RegionForSoC selects the control regime for a battery state of charge.
func RegionForSoC(cfg domain.ControllerConfig, soc float64) domain.Region {
	if soc >= cfg.SoCProbeThreshold {
		return domain.RegionProbe
	}
	return domain.RegionMain
}

// Derive computes the derived values for one tick. Excess power is only
// valid in the MAIN regime: once the battery is full it absorbs or curtails
// PV production and the PV reading stops tracking real availability.
func Derive(cfg domain.ControllerConfig, snap domain.Snapshot, state domain.ControlState) Derived {
	d := Derived{
		Region:      RegionForSoC(cfg, snap.BatterySoC),
		SafeCeiling: cfg.SafeInverterCeiling(),
	}

	if d.Region == domain.RegionMain {
		d.Excess = snap.PVPower - snap.InverterPower
		d.ExcessValid = true
	}

	d.InverterOver = snap.InverterPower > d.SafeCeiling

	since := snap.At.Sub(state.LastChange)
	if since < 0 {
		since = 0
	}
	d.SinceLastChange = since
	d.CooldownElapsed = since >= cfg.Cooldown

	if snap.ChargerStatus == domain.StatusWaiting && !state.WaitingSince.IsZero() {
		d.WaitingElapsed = snap.At.Sub(state.WaitingSince)
		d.WaitingTimedOut = d.WaitingElapsed > cfg.WaitingTimeout
	}

	return d
}

// inverterSafe reports whether stepping up from index would keep the
// projected inverter power under the safe ceiling.
func inverterSafe(cfg domain.ControllerConfig, snap domain.Snapshot, index int) bool {
	projected := snap.InverterPower + cfg.StepUpCost(index)
	return projected <= cfg.SafeInverterCeiling()
}
