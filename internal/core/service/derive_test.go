package service

import (
	"testing"
	"time"

	"github.com/mgarrido/evsun/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestDeriveRegionAndExcess(t *testing.T) {

	assert := assert.New(t)

	cfg := domain.DefaultControllerConfig()

	snap := testSnapshot(t0)
	snap.PVPower = 4000
	snap.InverterPower = 1500

	d := Derive(cfg, snap, domain.InitialControlState())
	assert.Equal(domain.RegionMain, d.Region)
	assert.True(d.ExcessValid)
	assert.InDelta(2500, d.Excess, 0.001)

	// excess is undefined in PROBE; the battery power signal rules there
	snap.BatterySoC = 95 // threshold is inclusive
	d = Derive(cfg, snap, domain.InitialControlState())
	assert.Equal(domain.RegionProbe, d.Region)
	assert.False(d.ExcessValid)
}

func TestDeriveCooldownElapsed(t *testing.T) {

	assert := assert.New(t)

	cfg := domain.DefaultControllerConfig() // 5s cooldown
	snap := testSnapshot(t0)

	st := readyState(domain.ModeMainCooldown, 1, t0.Add(-4*time.Second))
	assert.False(Derive(cfg, snap, st).CooldownElapsed)

	st.LastChange = t0.Add(-5 * time.Second)
	assert.True(Derive(cfg, snap, st).CooldownElapsed, "cooldown boundary is inclusive")

	// zero LastChange (never changed) counts as elapsed
	st.LastChange = time.Time{}
	assert.True(Derive(cfg, snap, st).CooldownElapsed)
}

func TestDeriveInverterOver(t *testing.T) {

	assert := assert.New(t)

	cfg := domain.DefaultControllerConfig() // ceiling 7500
	snap := testSnapshot(t0)

	snap.InverterPower = 7500
	assert.False(Derive(cfg, snap, domain.InitialControlState()).InverterOver)

	snap.InverterPower = 7501
	assert.True(Derive(cfg, snap, domain.InitialControlState()).InverterOver)
}

func TestDeriveWaitingTimeout(t *testing.T) {

	assert := assert.New(t)

	cfg := domain.DefaultControllerConfig() // 60s timeout

	snap := testSnapshot(t0)
	snap.ChargerStatus = domain.StatusWaiting

	// no latch yet: no timeout regardless of status
	st := domain.InitialControlState()
	assert.False(Derive(cfg, snap, st).WaitingTimedOut)

	st.WaitingSince = t0.Add(-60 * time.Second)
	assert.False(Derive(cfg, snap, st).WaitingTimedOut, "timeout is strict")

	st.WaitingSince = t0.Add(-61 * time.Second)
	assert.True(Derive(cfg, snap, st).WaitingTimedOut)

	// not waiting anymore: a stale latch never fires
	snap.ChargerStatus = domain.StatusCharging
	assert.False(Derive(cfg, snap, st).WaitingTimedOut)
}

func TestInverterSafe(t *testing.T) {

	assert := assert.New(t)

	cfg := domain.DefaultControllerConfig()
	snap := testSnapshot(t0)

	// step 1 -> 2 costs (8-6)*230 = 460W against a 7500W ceiling
	snap.InverterPower = 7040
	assert.True(inverterSafe(cfg, snap, 1))

	snap.InverterPower = 7041
	assert.False(inverterSafe(cfg, snap, 1))
}
