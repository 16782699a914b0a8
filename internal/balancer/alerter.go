package balancer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const alertTitle = "⚡ Electrical Overload Detected"

// alerter records the trigger event and dispatches the overload alert once
// per episode.
type alerter struct {
	local  AlertChannel
	user   AlertChannel
	logger *logrus.Logger
}

func (a *alerter) trigger(ctx context.Context, now time.Time, st *State, settings Settings, readings Readings, sustained []Phase, trigger float64) {
	peak := 0.0
	for _, phase := range sustained {
		if amps, ok := readings.Amps(phase); ok {
			peak = math.Max(peak, amps)
		}
	}
	st.LastTrigger = &TriggerEvent{
		Time:      now,
		Phases:    append([]Phase(nil), sustained...),
		Peak:      peak,
		Threshold: trigger,
	}

	if !settings.NotifyEnabled {
		a.logger.Debug("Notifications disabled, skipping overload alert")
		return
	}

	alert := Alert{
		Title:   alertTitle,
		Message: overloadMessage(settings.FuseSize, readings, sustained, peak, trigger),
	}
	a.send(ctx, a.local, alert)

	if settings.NotifyTarget != "" && a.user != nil {
		alert.Target = settings.NotifyTarget
		a.send(ctx, a.user, alert)
	}
}

func (a *alerter) send(ctx context.Context, ch AlertChannel, alert Alert) {
	if ch == nil {
		return
	}
	if err := ch.Send(ctx, alert); err != nil {
		a.logger.Errorf("Failed to send overload notification via %s: %v", ch.Name(), err)
		return
	}
	a.logger.Infof("Overload notification sent via %s", ch.Name())
}

func overloadMessage(fuse float64, readings Readings, phases []Phase, peak, trigger float64) string {
	parts := make([]string, 0, len(phases))
	for _, phase := range phases {
		if amps, ok := readings.Amps(phase); ok {
			parts = append(parts, fmt.Sprintf("L%d: %.1f A", phase, amps))
		}
	}
	summary := strings.Join(parts, ", ")
	if summary == "" {
		summary = fmt.Sprintf("phase(s) %v", phases)
	}
	return fmt.Sprintf(
		"Overload on %s. Peak: %.1f A, trigger threshold: %.1f A (%.0f A fuse). Dynamic Load Balancer is reducing load.",
		summary, peak, trigger, fuse,
	)
}
