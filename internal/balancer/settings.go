package balancer

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

// Phase identifies one of the three supply phases (1, 2 or 3).
type Phase int

// Aggressiveness selects the fraction of the fuse rating at which overload
// management kicks in.
type Aggressiveness string

const (
	VeryLow  Aggressiveness = "very_low"
	Low      Aggressiveness = "low"
	Medium   Aggressiveness = "medium"
	High     Aggressiveness = "high"
	VeryHigh Aggressiveness = "very_high"
)

var aggressivenessFractions = map[Aggressiveness]float64{
	VeryLow:  1.00,
	Low:      0.95,
	Medium:   0.90,
	High:     0.85,
	VeryHigh: 0.80,
}

// Fraction returns the trigger fraction of the fuse rating.
func (a Aggressiveness) Fraction() (float64, bool) {
	f, ok := aggressivenessFractions[a]
	return f, ok
}

func ParseAggressiveness(s string) (Aggressiveness, error) {
	a := Aggressiveness(s)
	if _, ok := a.Fraction(); !ok {
		return "", fmt.Errorf("unknown aggressiveness level: %q", s)
	}
	return a, nil
}

// Limits accepted for the user-facing settings.
const (
	MinFuseSize    = 10.0
	MaxFuseSize    = 125.0
	MinSpikeFilter = 5 * time.Second
	MaxSpikeFilter = 300 * time.Second
)

// Defaults used when a setting is left empty.
const (
	DefaultFuseSize       = 25.0
	DefaultAggressiveness = Medium
	DefaultSpikeFilter    = 30 * time.Second
)

var ErrInvalidSettings = errors.New("invalid balancer settings")

// Settings is the immutable configuration of one run. It is replaced as a
// whole on reconfiguration.
type Settings struct {
	FuseSize       float64
	Aggressiveness Aggressiveness
	Phases         []Phase
	SpikeFilter    time.Duration

	// Charger is nil when no charging-current actuator is configured.
	Charger ChargingActuator
	// Devices lists the sheddable devices in shedding priority order.
	Devices []string

	NotifyEnabled bool
	NotifyTarget  string
}

// DefaultSettings mirrors the defaults of the setup flow.
func DefaultSettings() Settings {
	return Settings{
		FuseSize:       DefaultFuseSize,
		Aggressiveness: DefaultAggressiveness,
		Phases:         []Phase{1, 2, 3},
		SpikeFilter:    DefaultSpikeFilter,
		NotifyEnabled:  true,
	}
}

// TriggerCurrent is the instantaneous overload threshold in Amps.
func (s Settings) TriggerCurrent() float64 {
	f, ok := s.Aggressiveness.Fraction()
	if !ok {
		f = aggressivenessFractions[DefaultAggressiveness]
	}
	return s.FuseSize * f
}

// PhaseEnabled reports whether p is monitored.
func (s Settings) PhaseEnabled(p Phase) bool {
	return slices.Contains(s.Phases, p)
}

func (s Settings) Validate() error {
	if s.FuseSize < MinFuseSize || s.FuseSize > MaxFuseSize {
		return fmt.Errorf("%w: fuse size %.0fA outside %.0f-%.0fA", ErrInvalidSettings, s.FuseSize, MinFuseSize, MaxFuseSize)
	}
	if _, ok := s.Aggressiveness.Fraction(); !ok {
		return fmt.Errorf("%w: unknown aggressiveness %q", ErrInvalidSettings, s.Aggressiveness)
	}
	if len(s.Phases) == 0 {
		return fmt.Errorf("%w: no phase enabled", ErrInvalidSettings)
	}
	seen := make(map[Phase]bool, len(s.Phases))
	for _, p := range s.Phases {
		if p < 1 || p > 3 {
			return fmt.Errorf("%w: phase %d is not one of 1, 2, 3", ErrInvalidSettings, p)
		}
		if seen[p] {
			return fmt.Errorf("%w: phase %d listed twice", ErrInvalidSettings, p)
		}
		seen[p] = true
	}
	if s.SpikeFilter < MinSpikeFilter || s.SpikeFilter > MaxSpikeFilter {
		return fmt.Errorf("%w: spike filter %s outside %s-%s", ErrInvalidSettings, s.SpikeFilter, MinSpikeFilter, MaxSpikeFilter)
	}
	devices := make(map[string]bool, len(s.Devices))
	for _, d := range s.Devices {
		if d == "" {
			return fmt.Errorf("%w: empty device reference", ErrInvalidSettings)
		}
		if devices[d] {
			return fmt.Errorf("%w: device %q listed twice", ErrInvalidSettings, d)
		}
		devices[d] = true
	}
	return nil
}
