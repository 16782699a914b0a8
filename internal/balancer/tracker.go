package balancer

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Overloads is the per-tick output of the OverloadTracker. Both lists are
// sorted by phase.
type Overloads struct {
	Instant   []Phase
	Sustained []Phase
}

// OverloadTracker debounces threshold crossings: a phase is only reported as
// sustained once it stayed above the trigger for the whole spike filter.
type OverloadTracker struct {
	logger  *logrus.Logger
	windows map[Phase]time.Time
}

func NewOverloadTracker(logger *logrus.Logger) *OverloadTracker {
	return &OverloadTracker{
		logger:  logger,
		windows: make(map[Phase]time.Time),
	}
}

// Update advances the per-phase windows with this tick's readings.
func (t *OverloadTracker) Update(now time.Time, readings Readings, phases []Phase, trigger float64, spikeFilter time.Duration) Overloads {
	var out Overloads

	for _, phase := range phases {
		amps, ok := readings.Amps(phase)
		if !ok {
			// A missing reading neither opens nor closes a window.
			continue
		}

		start, open := t.windows[phase]
		if amps <= trigger {
			if open {
				t.logger.Infof("Phase %d overload cleared: %.1fA <= %.1fA", phase, amps, trigger)
				delete(t.windows, phase)
			}
			continue
		}

		out.Instant = append(out.Instant, phase)
		if !open {
			start = now
			t.windows[phase] = start
			t.logger.Infof("Phase %d overload started: %.1fA > %.1fA", phase, amps, trigger)
		}

		duration := now.Sub(start)
		t.logger.Debugf("Phase %d overload duration: %s / %s", phase, duration, spikeFilter)
		if duration >= spikeFilter {
			out.Sustained = append(out.Sustained, phase)
			t.logger.Warnf("Phase %d sustained overload after %s", phase, duration)
		}
	}

	slices.Sort(out.Instant)
	slices.Sort(out.Sustained)
	return out
}

// WindowStart returns when the current excursion on p began.
func (t *OverloadTracker) WindowStart(p Phase) (time.Time, bool) {
	start, ok := t.windows[p]
	return start, ok
}

// Retain drops the windows of phases that are no longer monitored.
func (t *OverloadTracker) Retain(phases []Phase) {
	for p := range t.windows {
		if !slices.Contains(phases, p) {
			delete(t.windows, p)
		}
	}
}
