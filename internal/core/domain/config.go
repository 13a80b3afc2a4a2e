package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	MinTickPeriod = 1 * time.Second
	MaxTickPeriod = 2 * time.Second
)

// ControllerConfig holds the immutable constants that shape the FSM.
type ControllerConfig struct {
	// LadderAmps is the ordered allowed-current ladder. The first element
	// must be 0 (logical off) and the rest strictly increasing.
	LadderAmps []int

	LineVoltage          float64
	SoCProbeThreshold    float64 // battery SoC at/above which PROBE applies
	SmallDischargeMargin float64 // watts of tolerated discharge in MAIN hold
	ProbeMaxDischarge    float64 // watts of tolerated discharge in PROBE hold
	InverterLimit        float64
	InverterMargin       float64
	Cooldown             time.Duration
	WaitingTimeout       time.Duration
	MinActiveAmps        int // lowest current the charger may be asked for
	TickPeriod           time.Duration
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		LadderAmps:           []int{0, 6, 8, 10, 13, 16, 20, 24},
		LineVoltage:          230,
		SoCProbeThreshold:    95,
		SmallDischargeMargin: 200,
		ProbeMaxDischarge:    1000,
		InverterLimit:        8000,
		InverterMargin:       500,
		Cooldown:             5 * time.Second,
		WaitingTimeout:       60 * time.Second,
		MinActiveAmps:        6,
		TickPeriod:           2 * time.Second,
	}
}

func (c ControllerConfig) Validate() error {
	if len(c.LadderAmps) < 2 {
		return errors.New("current ladder needs at least one active step")
	}
	if c.LadderAmps[0] != 0 {
		return errors.New("first ladder element must be 0")
	}
	for i := 1; i < len(c.LadderAmps); i++ {
		if c.LadderAmps[i] <= c.LadderAmps[i-1] {
			return fmt.Errorf("ladder must be strictly increasing, got %d after %d", c.LadderAmps[i], c.LadderAmps[i-1])
		}
	}
	if _, ok := c.indexOfAmps(c.MinActiveAmps); !ok || c.MinActiveAmps == 0 {
		return fmt.Errorf("min active amps %d is not an active ladder step", c.MinActiveAmps)
	}
	if c.LineVoltage <= 0 {
		return errors.New("line voltage must be > 0")
	}
	if c.InverterMargin >= c.InverterLimit {
		return errors.New("inverter margin must be < inverter limit")
	}
	if c.Cooldown <= 0 {
		return errors.New("cooldown must be > 0")
	}
	if c.WaitingTimeout <= 0 {
		return errors.New("waiting timeout must be > 0")
	}
	return nil
}

// SafeInverterCeiling is the inverter power above which stepping up is
// forbidden and an emergency downstep fires.
func (c ControllerConfig) SafeInverterCeiling() float64 {
	return c.InverterLimit - c.InverterMargin
}

func (c ControllerConfig) TopIndex() int {
	return len(c.LadderAmps) - 1
}

// MinActiveIndex resolves MinActiveAmps to its ladder index. Validate
// guarantees membership.
func (c ControllerConfig) MinActiveIndex() int {
	if idx, ok := c.indexOfAmps(c.MinActiveAmps); ok {
		return idx
	}
	return 1
}

// StepUpCost is the extra power drawn by moving from ladder index i to i+1.
func (c ControllerConfig) StepUpCost(i int) float64 {
	return float64(c.LadderAmps[i+1]-c.LadderAmps[i]) * c.LineVoltage
}

// StartCost is the power needed to switch on at the minimum active step.
func (c ControllerConfig) StartCost() float64 {
	return float64(c.LadderAmps[c.MinActiveIndex()]) * c.LineVoltage
}

// NearestActiveIndex finds the active ladder step closest to amps and the
// absolute distance to it. Index 0 is never returned.
func (c ControllerConfig) NearestActiveIndex(amps float64) (int, float64) {
	best := 1
	bestDiff := math.Inf(1)
	for i := 1; i < len(c.LadderAmps); i++ {
		diff := math.Abs(float64(c.LadderAmps[i]) - amps)
		if diff < bestDiff {
			bestDiff = diff
			best = i
		}
	}
	return best, bestDiff
}

// NearestLadderIndex finds the ladder step closest to amps, the 0A rung
// included, and the absolute distance to it.
func (c ControllerConfig) NearestLadderIndex(amps float64) (int, float64) {
	best := 0
	bestDiff := math.Abs(amps)
	for i := 1; i < len(c.LadderAmps); i++ {
		diff := math.Abs(float64(c.LadderAmps[i]) - amps)
		if diff < bestDiff {
			bestDiff = diff
			best = i
		}
	}
	return best, bestDiff
}

// ClampedTickPeriod bounds the tick period to the supported window.
func (c ControllerConfig) ClampedTickPeriod() time.Duration {
	if c.TickPeriod < MinTickPeriod {
		return MinTickPeriod
	}
	if c.TickPeriod > MaxTickPeriod {
		return MaxTickPeriod
	}
	return c.TickPeriod
}

func (c ControllerConfig) indexOfAmps(amps int) (int, bool) {
	for i, a := range c.LadderAmps {
		if a == amps {
			return i, true
		}
	}
	return 0, false
}
