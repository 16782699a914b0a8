package balancer

import (
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ManagementState is the phase of the load management cycle.
type ManagementState string

const (
	// Monitoring: nothing is shed.
	Monitoring ManagementState = "monitoring"
	// Reducing: a sustained overload was answered by shedding load.
	Reducing ManagementState = "reducing"
	// Settling: load is shed and restoration waits for stable headroom.
	Settling ManagementState = "settling"
	// Stepping: restoration is returning load one step at a time.
	Stepping ManagementState = "stepping"
)

// Reading is the current drawn on one phase. Known is false when the sensor
// was absent, unavailable or unparsable.
type Reading struct {
	Amps  float64
	Known bool
}

type Readings map[Phase]Reading

// Amps returns the numeric reading of p, if any.
func (r Readings) Amps(p Phase) (float64, bool) {
	rd, ok := r[p]
	if !ok || !rd.Known {
		return 0, false
	}
	return rd.Amps, true
}

// Ledger records what has been shed and must eventually be restored.
type Ledger struct {
	// ChargingOriginal is the charging current before the first reduction.
	ChargingOriginal *float64
	Shed             map[string]struct{}
	HeadroomSince    time.Time
	LastStep         time.Time
	// LastAction rate-limits reductions.
	LastAction time.Time
}

// Empty reports whether nothing remains to be restored.
func (l *Ledger) Empty() bool {
	return l.ChargingOriginal == nil && len(l.Shed) == 0
}

func (l *Ledger) IsShed(device string) bool {
	_, ok := l.Shed[device]
	return ok
}

func (l *Ledger) markShed(device string) {
	if l.Shed == nil {
		l.Shed = make(map[string]struct{})
	}
	l.Shed[device] = struct{}{}
}

// ShedDevices returns the shed set in restore order.
func (l *Ledger) ShedDevices() []string {
	devices := maps.Keys(l.Shed)
	slices.Sort(devices)
	return devices
}

func (l *Ledger) clear() {
	*l = Ledger{}
}

// TriggerEvent describes the start of the last overload episode.
type TriggerEvent struct {
	Time      time.Time `json:"time"`
	Phases    []Phase   `json:"phases"`
	Peak      float64   `json:"peak_current"`
	Threshold float64   `json:"trigger_current"`
}

// State is the mutable controller state. It is owned by the Coordinator and
// only touched from within a cycle.
type State struct {
	Enabled     bool
	Mode        ManagementState
	Ledger      Ledger
	LastTrigger *TriggerEvent
}

// Managing reports whether an overload episode is in progress.
func (s *State) Managing() bool {
	return s.Mode != Monitoring
}

func (s *State) backToMonitoring() {
	s.Mode = Monitoring
	s.Ledger.HeadroomSince = time.Time{}
	s.Ledger.LastStep = time.Time{}
}
