package balancer

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Reduction heuristics. They are estimates, not measured values.
const (
	// ReductionInterval is the minimum spacing between two reductions.
	ReductionInterval = 10 * time.Second
	// ChargingSafetyMargin is removed from the charger on top of the overload.
	ChargingSafetyMargin = 2.0
	// DeviceLoadEstimate is the load credited for each device turned off.
	DeviceLoadEstimate = 5.0
)

// actionResult is the outcome of one actuator call as seen by the margin
// bookkeeping.
type actionResult struct {
	applied bool
	amps    float64
}

// actuators bundles what the reduction and restoration controllers drive.
type actuators struct {
	switches DeviceSwitch
	logger   *logrus.Logger
	timeout  time.Duration
}

func (a *actuators) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *actuators) chargerState(ctx context.Context, charger ChargingActuator) (ChargerState, error) {
	callCtx, cancel := a.callContext(ctx)
	defer cancel()
	st, err := charger.ChargerState(callCtx)
	if err != nil {
		return ChargerState{}, err
	}
	return st.withDefaults(), nil
}

func (a *actuators) setCharger(ctx context.Context, charger ChargingActuator, amps float64) error {
	callCtx, cancel := a.callContext(ctx)
	defer cancel()
	return charger.SetCurrent(callCtx, amps)
}

func (a *actuators) isOn(ctx context.Context, device string) (bool, error) {
	callCtx, cancel := a.callContext(ctx)
	defer cancel()
	return a.switches.IsOn(callCtx, device)
}

func (a *actuators) turnOn(ctx context.Context, device string) error {
	callCtx, cancel := a.callContext(ctx)
	defer cancel()
	return a.switches.TurnOn(callCtx, device)
}

func (a *actuators) turnOff(ctx context.Context, device string) error {
	callCtx, cancel := a.callContext(ctx)
	defer cancel()
	return a.switches.TurnOff(callCtx, device)
}

// reducer sheds load when a sustained overload is confirmed.
type reducer struct {
	*actuators
}

// reduce returns false when the rate limit suppressed the attempt.
func (r *reducer) reduce(ctx context.Context, now time.Time, st *State, settings Settings, readings Readings, sustained []Phase, trigger float64) bool {
	ledger := &st.Ledger
	if !ledger.LastAction.IsZero() && now.Sub(ledger.LastAction) < ReductionInterval {
		r.logger.Debugf("Reduction rate-limited, last action %s ago", now.Sub(ledger.LastAction))
		return false
	}

	margin := 0.0
	for _, phase := range sustained {
		if amps, ok := readings.Amps(phase); ok {
			margin = math.Max(margin, amps-trigger)
		}
	}
	r.logger.Infof("Overload on phase(s) %v, %.1fA above trigger. Taking action.", sustained, margin)

	if settings.Charger != nil && margin > 0 {
		res := r.reduceCharging(ctx, settings.Charger, ledger, margin)
		if res.applied {
			margin -= res.amps
			r.logger.Infof("Reduced charging current by %.1fA", res.amps)
		}
	}

	if margin > 0 && r.switches != nil {
		r.logger.Infof("Still overloaded by %.1fA, checking %d device(s)", margin, len(settings.Devices))
		margin = r.shedDevices(ctx, ledger, settings.Devices, margin)
	}

	st.Mode = Reducing
	ledger.HeadroomSince = time.Time{}
	ledger.LastAction = now
	return true
}

func (r *reducer) reduceCharging(ctx context.Context, charger ChargingActuator, ledger *Ledger, margin float64) actionResult {
	cs, err := r.chargerState(ctx, charger)
	if err != nil {
		r.logger.Errorf("Cannot read charging actuator: %v", err)
		return actionResult{}
	}
	r.logger.Debugf("Charger: current=%.1fA min=%.1f max=%.1f step=%.1f", cs.Value, cs.Min, cs.Max, cs.Step)

	if ledger.ChargingOriginal == nil {
		original := cs.Value
		ledger.ChargingOriginal = &original
		r.logger.Infof("Stored original charging value: %.1fA (range %.1f-%.1fA)", cs.Value, cs.Min, cs.Max)
	}

	target := math.Min(margin+ChargingSafetyMargin, cs.Value-cs.Min)
	next := snapToStep(cs.Value-target, cs.Step)
	next = math.Max(cs.Min, math.Min(cs.Max, next))

	if next >= cs.Value {
		r.logger.Debugf("Charging already at minimum (%.1fA)", cs.Value)
		return actionResult{}
	}
	if err := r.setCharger(ctx, charger, next); err != nil {
		r.logger.Errorf("Failed to set charging current: %v", err)
		return actionResult{}
	}
	r.logger.Infof("Charging reduced: %.1fA -> %.1fA", cs.Value, next)
	return actionResult{applied: true, amps: cs.Value - next}
}

func (r *reducer) shedDevices(ctx context.Context, ledger *Ledger, devices []string, margin float64) float64 {
	for _, device := range devices {
		if ledger.IsShed(device) {
			continue
		}
		log := r.logger.WithField("device", device)
		on, err := r.isOn(ctx, device)
		if err != nil {
			log.Errorf("Cannot read device state: %v", err)
			continue
		}
		if !on {
			log.Debug("Device already off, skipping")
			continue
		}
		if err := r.turnOff(ctx, device); err != nil {
			log.Errorf("Failed to turn off device: %v", err)
			continue
		}
		ledger.markShed(device)
		log.Info("Turned off device")
		margin -= DeviceLoadEstimate
		if margin <= 0 {
			break
		}
	}
	return margin
}

func snapToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Round(v/step) * step
}
