package service

import (
	"testing"
	"time"

	"github.com/mgarrido/evsun/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxLoopIter = 100

var t0 = time.Unix(1_700_000_000, 0)

func testSnapshot(at time.Time) domain.Snapshot {
	return domain.Snapshot{
		BatterySoC:      40,
		BatteryPower:    -500,
		InverterPower:   500,
		PVPower:         5000,
		ChargerStatus:   domain.StatusCharging,
		ChargerSwitchOn: true,
		AutoEnabled:     true,
		At:              at,
	}
}

func readyState(mode domain.Mode, step int, lastChange time.Time) domain.ControlState {
	return domain.ControlState{Mode: mode, StepIndex: step, LastChange: lastChange}
}

func TestMainStartFromOff(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.ChargerStatus = domain.StatusWaiting
	snap.ChargerSwitchOn = false
	// excess = 5000 - 500 = 4500 >= 6A * 230V = 1380

	dec := ev.Evaluate(snap, domain.InitialControlState())

	assert.Equal(domain.ReasonMainStart, dec.Reason)
	assert.Equal(domain.ModeMainCooldown, dec.Mode)
	assert.Equal(1, dec.StepIndex)
	if assert.NotNil(dec.Switch) {
		assert.True(*dec.Switch)
	}
	if assert.NotNil(dec.CurrentAmps) {
		assert.Equal(6, *dec.CurrentAmps)
	}
}

func TestFaultOverridesEverything(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.ChargerStatus = domain.StatusFault

	dec := ev.Evaluate(snap, domain.InitialControlState())

	assert.Equal(domain.ReasonFault, dec.Reason)
	assert.Equal(domain.ModeOff, dec.Mode)
	assert.Equal(0, dec.StepIndex)
	if assert.NotNil(dec.Switch) {
		assert.False(*dec.Switch)
	}
	assert.Nil(dec.CurrentAmps)
}

func TestProbeOverdischargeStepDown(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.BatterySoC = 97
	snap.BatteryPower = 1200
	snap.ChargerCurrent = 10

	dec := ev.Evaluate(snap, readyState(domain.ModeProbeReady, 3, t0.Add(-time.Minute)))

	assert.Equal(domain.ReasonProbeOverdischarge, dec.Reason)
	assert.Equal(domain.ModeProbeCooldown, dec.Mode)
	assert.Equal(2, dec.StepIndex)
	if assert.NotNil(dec.CurrentAmps) {
		assert.Equal(8, *dec.CurrentAmps)
	}
}

func TestCooldownGate(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.ChargerCurrent = 6

	// 3s since last change, cooldown is 5s: hold regardless of power values
	dec := ev.Evaluate(snap, readyState(domain.ModeMainCooldown, 1, t0.Add(-3*time.Second)))
	assert.Equal(domain.ReasonCooldown, dec.Reason)
	assert.Equal(domain.ModeMainCooldown, dec.Mode)
	assert.Equal(1, dec.StepIndex)
	assert.Nil(dec.Switch)
	assert.Nil(dec.CurrentAmps)

	// once elapsed, the only transition is COOLDOWN -> READY, no step change
	dec = ev.Evaluate(snap, readyState(domain.ModeMainCooldown, 1, t0.Add(-6*time.Second)))
	assert.Equal(domain.ReasonCooldownClear, dec.Reason)
	assert.Equal(domain.ModeMainReady, dec.Mode)
	assert.Equal(1, dec.StepIndex)
	assert.Nil(dec.Switch)
}

func TestInverterEmergencyDownstep(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.InverterPower = 7800 // over the 7500 ceiling
	snap.PVPower = 20000      // excess would favor a step-up
	snap.ChargerCurrent = 8

	dec := ev.Evaluate(snap, readyState(domain.ModeMainReady, 2, t0.Add(-time.Minute)))

	assert.Equal(domain.ReasonInverterOverlimit, dec.Reason)
	assert.Equal(domain.ModeMainCooldown, dec.Mode)
	assert.Equal(1, dec.StepIndex)
}

func TestInverterEmergencyAtMinStepForcesOff(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.InverterPower = 7800
	snap.ChargerCurrent = 6

	dec := ev.Evaluate(snap, readyState(domain.ModeMainReady, 1, t0.Add(-time.Minute)))

	assert.Equal(domain.ReasonInverterOverlimit, dec.Reason)
	assert.Equal(domain.ModeOff, dec.Mode)
	assert.Equal(0, dec.StepIndex)
	if assert.NotNil(dec.Switch) {
		assert.False(*dec.Switch)
	}
}

func TestUnpluggedForcesOff(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.ChargerStatus = domain.StatusAvailable
	snap.ChargerCurrent = 13

	st := readyState(domain.ModeMainReady, 4, t0.Add(-time.Minute))
	st.WaitingSince = t0.Add(-30 * time.Second)

	dec := ev.Evaluate(snap, st)

	assert.Equal(domain.ReasonUnplugged, dec.Reason)
	assert.Equal(domain.ModeOff, dec.Mode)
	assert.Equal(0, dec.StepIndex)
	assert.True(dec.WaitingSince.IsZero(), "unplug clears the waiting latch")
}

func TestAutoDisabledForcesOff(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.AutoEnabled = false

	dec := ev.Evaluate(snap, readyState(domain.ModeMainReady, 2, t0.Add(-time.Minute)))

	assert.Equal(domain.ReasonAutoDisabled, dec.Reason)
	assert.Equal(domain.ModeOff, dec.Mode)
	assert.Equal(0, dec.StepIndex)
}

func TestWaitingTimeout(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.ChargerStatus = domain.StatusWaiting

	st := readyState(domain.ModeMainReady, 1, t0.Add(-time.Minute))
	st.WaitingSince = t0.Add(-61 * time.Second)

	dec := ev.Evaluate(snap, st)

	assert.Equal(domain.ReasonWaitingTimeout, dec.Reason)
	assert.Equal(domain.ModeOff, dec.Mode)
	assert.Equal(st.WaitingSince, dec.WaitingSince, "timeout keeps the latch")

	// exactly at the limit the timeout has not fired yet
	st.WaitingSince = t0.Add(-60 * time.Second)
	dec = ev.Evaluate(snap, st)
	assert.NotEqual(domain.ReasonWaitingTimeout, dec.Reason)
}

func TestWaitingLatchAndClear(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	// status waiting with no latch yet: latch now
	snap := testSnapshot(t0)
	snap.ChargerStatus = domain.StatusWaiting
	snap.PVPower = 0 // no start condition

	dec := ev.Evaluate(snap, domain.InitialControlState())
	assert.Equal(t0, dec.WaitingSince)

	// status leaves waiting: latch cleared
	snap.ChargerStatus = domain.StatusCharging
	st := domain.InitialControlState()
	st.WaitingSince = t0.Add(-10 * time.Second)
	dec = ev.Evaluate(snap, st)
	assert.True(dec.WaitingSince.IsZero())
}

func TestChargedStatusHolds(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.ChargerStatus = domain.StatusCharged
	snap.PVPower = 500
	snap.InverterPower = 400
	snap.ChargerCurrent = 6

	dec := ev.Evaluate(snap, readyState(domain.ModeMainReady, 1, t0.Add(-time.Minute)))

	assert.Equal(domain.ReasonMainHold, dec.Reason)
	assert.Equal(1, dec.StepIndex)
}

func TestModeCollapse(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	// MAIN state but SoC now in PROBE territory: probe rules must apply
	snap := testSnapshot(t0)
	snap.BatterySoC = 97
	snap.BatteryPower = 1500
	snap.ChargerCurrent = 8

	dec := ev.Evaluate(snap, readyState(domain.ModeMainReady, 2, t0.Add(-time.Minute)))
	assert.Equal(domain.ReasonProbeOverdischarge, dec.Reason)
	assert.Equal(domain.ModeProbeCooldown, dec.Mode)

	// PROBE cooldown collapses to MAIN cooldown when SoC drops
	snap = testSnapshot(t0)
	snap.BatterySoC = 50
	snap.ChargerCurrent = 8

	dec = ev.Evaluate(snap, readyState(domain.ModeProbeCooldown, 2, t0.Add(-time.Second)))
	assert.Equal(domain.ReasonCooldown, dec.Reason)
	assert.Equal(domain.ModeMainCooldown, dec.Mode)
	assert.Equal(2, dec.StepIndex)
}

func TestMainHoldWithinDischargeMargin(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.PVPower = 1000
	snap.InverterPower = 1100 // excess -100, within the 200W margin
	snap.ChargerCurrent = 6

	dec := ev.Evaluate(snap, readyState(domain.ModeMainReady, 1, t0.Add(-time.Minute)))

	assert.Equal(domain.ReasonMainHold, dec.Reason)
	assert.Equal(1, dec.StepIndex)
	assert.Nil(dec.Switch)
	assert.Nil(dec.CurrentAmps)
}

func TestMainStepDownBeyondDischargeMargin(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.PVPower = 1000
	snap.InverterPower = 1500 // excess -500
	snap.ChargerCurrent = 8

	dec := ev.Evaluate(snap, readyState(domain.ModeMainReady, 2, t0.Add(-time.Minute)))

	assert.Equal(domain.ReasonMainStepDown, dec.Reason)
	assert.Equal(1, dec.StepIndex)
	assert.Equal(domain.ModeMainCooldown, dec.Mode)

	// at the minimum active step a further step-down is a force-off
	snap.ChargerCurrent = 6
	dec = ev.Evaluate(snap, readyState(domain.ModeMainReady, 1, t0.Add(-time.Minute)))
	assert.Equal(domain.ReasonMainStepDown, dec.Reason)
	assert.Equal(0, dec.StepIndex)
	assert.Equal(domain.ModeOff, dec.Mode)
}

func TestMainStartInsufficientExcess(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.PVPower = 1500
	snap.InverterPower = 500 // excess 1000 < 1380
	snap.ChargerSwitchOn = false

	dec := ev.Evaluate(snap, domain.InitialControlState())

	assert.Equal(domain.ReasonIdle, dec.Reason)
	assert.Equal(domain.ModeOff, dec.Mode)
	assert.Equal(0, dec.StepIndex)
	assert.Nil(dec.Switch)
}

func TestStartBlockedByInverterCeiling(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.PVPower = 12000
	snap.InverterPower = 6500 // 6500 + 1380 > 7500
	snap.ChargerSwitchOn = false

	dec := ev.Evaluate(snap, domain.InitialControlState())

	assert.Equal(domain.ReasonIdle, dec.Reason)
	assert.Equal(0, dec.StepIndex)
}

func TestProbeStartWhenNotDischarging(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.BatterySoC = 97
	snap.BatteryPower = -200
	snap.ChargerSwitchOn = false

	dec := ev.Evaluate(snap, domain.InitialControlState())

	assert.Equal(domain.ReasonProbeStart, dec.Reason)
	assert.Equal(domain.ModeProbeCooldown, dec.Mode)
	assert.Equal(1, dec.StepIndex)
}

func TestStartGatedOnCooldown(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snap := testSnapshot(t0)
	snap.ChargerSwitchOn = false

	st := domain.InitialControlState()
	st.LastChange = t0.Add(-2 * time.Second) // a force-off 2s ago

	dec := ev.Evaluate(snap, st)

	assert.Equal(domain.ReasonIdle, dec.Reason)
	assert.Equal(0, dec.StepIndex)
}

func TestPriorityPrecedence(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	// fault beats waiting-timeout
	snap := testSnapshot(t0)
	snap.ChargerStatus = domain.StatusFault
	st := readyState(domain.ModeMainReady, 2, t0.Add(-time.Minute))
	st.WaitingSince = t0.Add(-2 * time.Minute)
	dec := ev.Evaluate(snap, st)
	assert.Equal(domain.ReasonFault, dec.Reason)

	// unplugged beats any optimization rule
	snap = testSnapshot(t0)
	snap.ChargerStatus = domain.StatusAvailable
	snap.PVPower = 20000
	dec = ev.Evaluate(snap, readyState(domain.ModeMainReady, 2, t0.Add(-time.Minute)))
	assert.Equal(domain.ReasonUnplugged, dec.Reason)

	// cooldown gate beats the emergency downstep
	snap = testSnapshot(t0)
	snap.InverterPower = 7800
	dec = ev.Evaluate(snap, readyState(domain.ModeMainCooldown, 2, t0.Add(-time.Second)))
	assert.Equal(domain.ReasonCooldown, dec.Reason)
	assert.Equal(2, dec.StepIndex)
}

func TestDeterminism(t *testing.T) {

	assert := assert.New(t)

	ev := NewEvaluator(domain.DefaultControllerConfig())

	snaps := []domain.Snapshot{testSnapshot(t0)}
	s2 := testSnapshot(t0)
	s2.ChargerStatus = domain.StatusWaiting
	s2.BatterySoC = 96
	snaps = append(snaps, s2)
	s3 := testSnapshot(t0)
	s3.InverterPower = 7900
	snaps = append(snaps, s3)

	states := []domain.ControlState{
		domain.InitialControlState(),
		readyState(domain.ModeMainReady, 3, t0.Add(-time.Minute)),
		readyState(domain.ModeProbeCooldown, 1, t0.Add(-time.Second)),
	}

	for _, snap := range snaps {
		for _, st := range states {
			first := ev.Evaluate(snap, st)
			second := ev.Evaluate(snap, st)
			assert.Equal(first, second, "identical input/state must yield identical decisions")
		}
	}
}

// TestRampUpAndLoadShed walks a full session: plenty of excess power ramps
// the charger one step per cooldown window up to the top of the ladder, then
// a load spike sheds it back down to off. The cooldown and ladder invariants
// are asserted on every committed change.
func TestRampUpAndLoadShed(t *testing.T) {

	require := require.New(t)

	cfg := domain.DefaultControllerConfig()
	ev := NewEvaluator(cfg)
	ap := NewApplier(cfg)

	state := domain.InitialControlState()
	now := t0
	var lastCommit time.Time
	var commits int

	tick := func(pv, inv float64) {
		snap := testSnapshot(now)
		snap.PVPower = pv
		snap.InverterPower = inv
		snap.ChargerSwitchOn = state.StepIndex > 0
		snap.ChargerCurrent = cfg.LadderAmps[state.StepIndex]
		if state.StepIndex == 0 {
			snap.ChargerStatus = domain.StatusWaiting
		}

		dec := ev.Evaluate(snap, state)
		plan, err := ap.Plan(snap, state, dec)
		require.NoError(err)

		delta := plan.Next.StepIndex - state.StepIndex
		require.LessOrEqual(delta, 1, "never more than one step up per tick")
		if plan.Next.StepIndex != 0 {
			require.GreaterOrEqual(delta, -1, "never more than one step down per tick")
		}

		if plan.Changed {
			if !lastCommit.IsZero() {
				require.GreaterOrEqual(now.Sub(lastCommit), cfg.Cooldown,
					"committed changes must respect the cooldown")
			}
			lastCommit = now
			commits++
		}
		state = plan.Next
		now = now.Add(2 * time.Second)
	}

	// ramp: 7kW of solar, light house load
	for i := 0; state.StepIndex < cfg.TopIndex(); i++ {
		require.LessOrEqual(i, maxLoopIter, "possible infinite loop avoided")
		tick(7000, 300)
	}
	require.Equal(cfg.TopIndex(), state.StepIndex)
	require.GreaterOrEqual(commits, cfg.TopIndex())

	// load shed: sun gone, house load up
	for i := 0; state.StepIndex > 0; i++ {
		require.LessOrEqual(i, maxLoopIter, "possible infinite loop avoided")
		tick(0, 3000)
	}
	require.Equal(domain.ModeOff, state.Mode)
	require.Equal(0, state.StepIndex)
}

func TestSeedStateAdoptsRunningSession(t *testing.T) {

	assert := assert.New(t)

	cfg := domain.DefaultControllerConfig()

	snap := testSnapshot(t0)
	snap.ChargerCurrent = 15 // nearest active step is 16A (index 5)

	st := SeedState(cfg, snap)
	assert.Equal(5, st.StepIndex)
	assert.Equal(domain.ModeMainCooldown, st.Mode, "adoption opens a cooldown window")
	assert.Equal(t0, st.LastChange)

	// PROBE regime when the battery is full
	snap.BatterySoC = 97
	st = SeedState(cfg, snap)
	assert.Equal(domain.ModeProbeCooldown, st.Mode)

	// too far from any ladder step: start from off
	snap = testSnapshot(t0)
	snap.ChargerCurrent = 30
	st = SeedState(cfg, snap)
	assert.Equal(domain.InitialControlState(), st)

	// not charging: start from off
	snap = testSnapshot(t0)
	snap.ChargerStatus = domain.StatusWaiting
	snap.ChargerCurrent = 10
	st = SeedState(cfg, snap)
	assert.Equal(domain.InitialControlState(), st)
}

func TestResyncExternalChange(t *testing.T) {

	assert := assert.New(t)

	cfg := domain.DefaultControllerConfig()

	// someone bumped the charger from 8A to 16A behind our back
	snap := testSnapshot(t0)
	snap.ChargerCurrent = 16

	st, changed := ResyncExternal(cfg, snap, readyState(domain.ModeMainCooldown, 2, t0.Add(-time.Minute)))
	assert.True(changed)
	assert.Equal(5, st.StepIndex)
	assert.Equal(domain.ModeMainCooldown, st.Mode, "resync opens a cooldown window")
	assert.Equal(t0, st.LastChange)

	// within drift tolerance: no resync
	snap.ChargerCurrent = 7
	st, changed = ResyncExternal(cfg, snap, readyState(domain.ModeMainReady, 2, t0.Add(-time.Minute)))
	assert.False(changed)
	assert.Equal(2, st.StepIndex)

	// off but delivering current: adopt the step
	snap.ChargerCurrent = 6
	st, changed = ResyncExternal(cfg, snap, domain.InitialControlState())
	assert.True(changed)
	assert.Equal(1, st.StepIndex)
	assert.Equal(domain.ModeMainCooldown, st.Mode)

	// no current at all: nothing to do
	snap.ChargerCurrent = 0
	st, changed = ResyncExternal(cfg, snap, domain.InitialControlState())
	assert.False(changed)
	assert.Equal(0, st.StepIndex)
}

func TestResyncExternalStop(t *testing.T) {

	assert := assert.New(t)

	cfg := domain.DefaultControllerConfig()

	// charger stopped behind our back: zero current at a 16A step
	snap := testSnapshot(t0)
	snap.ChargerCurrent = 0

	st, changed := ResyncExternal(cfg, snap, readyState(domain.ModeMainReady, 5, t0.Add(-time.Minute)))
	assert.True(changed)
	assert.Equal(0, st.StepIndex)
	assert.Equal(domain.ModeOff, st.Mode)
	assert.Equal(t0, st.LastChange)

	// a trickle nearer to the 0A rung than to the 6A floor counts as stopped
	snap.ChargerCurrent = 2
	st, changed = ResyncExternal(cfg, snap, readyState(domain.ModeMainReady, 5, t0.Add(-time.Minute)))
	assert.True(changed)
	assert.Equal(0, st.StepIndex)
	assert.Equal(domain.ModeOff, st.Mode)

	// zero current while waiting is the expected reading, not a stop
	snap.ChargerCurrent = 0
	snap.ChargerStatus = domain.StatusWaiting
	st, changed = ResyncExternal(cfg, snap, readyState(domain.ModeMainReady, 1, t0.Add(-time.Minute)))
	assert.False(changed)
	assert.Equal(1, st.StepIndex)
}

func TestResyncIgnoredInsideCooldown(t *testing.T) {

	assert := assert.New(t)

	cfg := domain.DefaultControllerConfig()

	// 2s after a committed change the charger has not ramped yet; the lagging
	// reading must not be mistaken for an external change
	snap := testSnapshot(t0)
	snap.ChargerCurrent = 0

	st, changed := ResyncExternal(cfg, snap, readyState(domain.ModeMainCooldown, 1, t0.Add(-2*time.Second)))
	assert.False(changed)
	assert.Equal(1, st.StepIndex)
}

// TestAdoptedStateHoldsThroughCooldown drives the evaluator right after an
// adoption or resync: the freshly stamped change timestamp must gate any
// further step change until the cooldown window elapses.
func TestAdoptedStateHoldsThroughCooldown(t *testing.T) {

	require := require.New(t)

	cfg := domain.DefaultControllerConfig()
	ev := NewEvaluator(cfg)
	ap := NewApplier(cfg)

	// charger bumped to 16A behind our back at t0
	snap := testSnapshot(t0)
	snap.ChargerCurrent = 16
	state, changed := ResyncExternal(cfg, snap, readyState(domain.ModeMainReady, 2, t0.Add(-time.Minute)))
	require.True(changed)
	require.Equal(5, state.StepIndex)

	// 2s later the sun would justify a step-up, but the resync opened a
	// cooldown window: nothing may be committed yet
	snap = testSnapshot(t0.Add(2 * time.Second))
	snap.ChargerCurrent = 16
	snap.PVPower = 20000
	snap.InverterPower = 300

	dec := ev.Evaluate(snap, state)
	require.Equal(domain.ReasonCooldown, dec.Reason)
	require.Equal(5, dec.StepIndex)

	plan, err := ap.Plan(snap, state, dec)
	require.NoError(err)
	require.False(plan.Changed)
	state = plan.Next

	// same for a seeded session
	seedSnap := testSnapshot(t0)
	seedSnap.ChargerCurrent = 16
	seeded := SeedState(cfg, seedSnap)
	dec = ev.Evaluate(snap, seeded)
	require.Equal(domain.ReasonCooldown, dec.Reason)
	require.Equal(5, dec.StepIndex)

	// once the window elapses the state unfreezes through READY first
	snap = testSnapshot(t0.Add(6 * time.Second))
	snap.ChargerCurrent = 16
	dec = ev.Evaluate(snap, state)
	require.Equal(domain.ReasonCooldownClear, dec.Reason)
	require.Equal(5, dec.StepIndex)
}
