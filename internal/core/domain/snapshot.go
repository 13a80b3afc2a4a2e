package domain

import "time"

// Snapshot is one validated reading of every sensor consumed per tick.
// Readers must withhold the snapshot entirely when a value is unavailable;
// the evaluator only ever sees complete snapshots.
type Snapshot struct {
	BatterySoC      float64 // percent, 0-100
	BatteryPower    float64 // watts, positive = discharging
	InverterPower   float64 // inverter AC power, watts
	PVPower         float64 // photovoltaic production, watts
	ChargerStatus   ChargerStatus
	ChargerSwitchOn bool
	ChargerCurrent  int // amps as reported by the charger
	AutoEnabled     bool
	At              time.Time
}

// PowerValues is the inverter-side subset of a snapshot, for sources that
// read power data over Modbus instead of the automation platform.
type PowerValues struct {
	BatterySoC    float64
	BatteryPower  float64 // watts, positive = discharging
	InverterPower float64
	PVPower       float64
}

// Decision is the pure output of one rule evaluation. It is advisory:
// ControlState advances only when the applier commits it.
type Decision struct {
	Mode      Mode
	StepIndex int

	// Desired actuator outputs. Nil means no command wanted this tick.
	Switch      *bool
	CurrentAmps *int

	// WaitingSince is the waiting-timer value the committed state must
	// carry (latched while status is "waiting", cleared otherwise).
	WaitingSince time.Time

	Reason string
}

// Reason codes, one per rule. Stable strings used for logs, the MQTT reason
// sensor and replay-based regression tests.
const (
	ReasonFault              = "fault"
	ReasonWaitingTimeout     = "waiting-timeout"
	ReasonUnplugged          = "unplugged"
	ReasonAutoDisabled       = "auto-disabled"
	ReasonCooldown           = "cooldown"
	ReasonCooldownClear      = "cooldown-clear"
	ReasonInverterOverlimit  = "inverter-overlimit"
	ReasonMainStart          = "main-start"
	ReasonMainStepUp         = "main-step-up"
	ReasonMainHold           = "main-hold"
	ReasonMainStepDown       = "main-step-down"
	ReasonProbeStart         = "probe-start"
	ReasonProbeStepUp        = "probe-step-up"
	ReasonProbeHold          = "probe-hold"
	ReasonProbeOverdischarge = "probe-overdischarge"
	ReasonIdle               = "idle"
	ReasonSessionAdopted     = "session-adopted"
	ReasonExternalResync     = "external-resync"
)

// TickReport is the observability record emitted after every tick, enough to
// reconstruct the decision offline.
type TickReport struct {
	OldMode       Mode
	NewMode       Mode
	OldStep       int
	NewStep       int
	ChargerAmps   int
	BatterySoC    float64
	BatteryPower  float64
	InverterPower float64
	Excess        float64
	ExcessValid   bool
	Reason        string
	Committed     bool
	At            time.Time
}
