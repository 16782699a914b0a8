package balancer

import (
	"context"
	"math"
	"time"
)

// Restoration gates.
const (
	// RestoreMinHeadroom is the margin below the trigger required on every
	// phase before anything is given back.
	RestoreMinHeadroom = 3.0
	// RestoreSettle is how long that headroom must hold before the first step.
	RestoreSettle = 60 * time.Second
	// RestoreStepInterval separates two restoration steps.
	RestoreStepInterval = 60 * time.Second
)

// restorer returns shed load one step at a time once headroom is stable.
type restorer struct {
	*actuators
}

// MinHeadroom is the smallest trigger-minus-current over the phases with a
// numeric reading, or 0 when none has one.
func MinHeadroom(readings Readings, phases []Phase, trigger float64) float64 {
	headroom := math.Inf(1)
	for _, phase := range phases {
		if amps, ok := readings.Amps(phase); ok {
			headroom = math.Min(headroom, trigger-amps)
		}
	}
	if math.IsInf(headroom, 1) {
		return 0
	}
	return headroom
}

func (r *restorer) maybeRestore(ctx context.Context, now time.Time, st *State, settings Settings, readings Readings, overloads Overloads, trigger float64) {
	ledger := &st.Ledger

	if len(overloads.Instant) > 0 {
		r.logger.Debugf("Transient overload on phase(s) %v, pausing restoration", overloads.Instant)
		ledger.HeadroomSince = time.Time{}
		return
	}

	headroom := MinHeadroom(readings, settings.Phases, trigger)

	if headroom < RestoreMinHeadroom {
		if !ledger.HeadroomSince.IsZero() {
			r.logger.Debugf("Headroom %.1fA < %.1fA minimum, resetting settle timer", headroom, RestoreMinHeadroom)
			ledger.HeadroomSince = time.Time{}
		}
		return
	}

	if ledger.HeadroomSince.IsZero() {
		ledger.HeadroomSince = now
		if st.Mode == Reducing {
			st.Mode = Settling
		}
		r.logger.Infof("Headroom %.1fA detected, waiting %s before restoring", headroom, RestoreSettle)
		return
	}
	if settled := now.Sub(ledger.HeadroomSince); settled < RestoreSettle {
		r.logger.Debugf("Settle timer: %s / %s (headroom %.1fA)", settled, RestoreSettle, headroom)
		return
	}

	if !ledger.LastStep.IsZero() {
		if elapsed := now.Sub(ledger.LastStep); elapsed < RestoreStepInterval {
			r.logger.Debugf("Waiting %s more before next restore step (headroom %.1fA)", RestoreStepInterval-elapsed, headroom)
			return
		}
	}

	r.step(ctx, now, st, settings, headroom)
}

// step performs at most one restorative action.
func (r *restorer) step(ctx context.Context, now time.Time, st *State, settings Settings, headroom float64) {
	ledger := &st.Ledger

	if ledger.ChargingOriginal != nil {
		if settings.Charger == nil {
			r.logger.Warnf("Charging actuator no longer configured, dropping original value %.1fA", *ledger.ChargingOriginal)
			ledger.ChargingOriginal = nil
		} else {
			done, stop := r.stepCharging(ctx, now, st, settings.Charger, headroom)
			if done || stop {
				return
			}
		}
	}

	if len(ledger.Shed) > 0 {
		if headroom < RestoreMinHeadroom {
			r.logger.Infof("Headroom %.1fA too low to safely re-enable a device, waiting", headroom)
			return
		}
		device := ledger.ShedDevices()[0]
		log := r.logger.WithField("device", device)
		if err := r.turnOn(ctx, device); err != nil {
			log.Errorf("Failed to restore device: %v", err)
			return
		}
		delete(ledger.Shed, device)
		ledger.LastStep = now
		st.Mode = Stepping
		log.Infof("Restore: re-enabled device (headroom was %.1fA)", headroom)
		return
	}

	if !ledger.Empty() {
		return
	}
	st.backToMonitoring()
	r.logger.Info("All load restored, returning to monitoring mode")
}

// stepCharging raises the charger by one step towards its original value.
// done reports a step was taken; stop reports the tick must end without
// trying the devices.
func (r *restorer) stepCharging(ctx context.Context, now time.Time, st *State, charger ChargingActuator, headroom float64) (done, stop bool) {
	ledger := &st.Ledger
	original := *ledger.ChargingOriginal

	cs, err := r.chargerState(ctx, charger)
	if err != nil {
		r.logger.Errorf("Error reading charger state during restore: %v", err)
		return false, false
	}

	needed := cs.Step + RestoreMinHeadroom
	if headroom < needed {
		r.logger.Infof("Headroom %.1fA is not enough to safely add %.1fA charger step (need %.1fA), waiting", headroom, cs.Step, needed)
		return false, true
	}

	target := math.Min(cs.Value+cs.Step, original)
	if target <= cs.Value {
		r.logger.Infof("Charging already at %.1fA (original %.1fA), nothing to restore", cs.Value, original)
		ledger.ChargingOriginal = nil
		return false, false
	}

	if err := r.setCharger(ctx, charger, target); err != nil {
		r.logger.Errorf("Failed to restore charging current: %v", err)
		return false, true
	}
	r.logger.Infof("Restore: charging %.1fA -> %.1fA (headroom was %.1fA)", cs.Value, target, headroom)
	ledger.LastStep = now
	st.Mode = Stepping
	if target >= original {
		ledger.ChargingOriginal = nil
		r.logger.Info("Charging fully restored to original value")
	}
	return true, false
}

// forceRestore gives everything back immediately, ignoring every gate.
func (r *restorer) forceRestore(ctx context.Context, st *State, settings Settings) {
	ledger := &st.Ledger

	if ledger.ChargingOriginal != nil && settings.Charger != nil {
		original := *ledger.ChargingOriginal
		if err := r.setCharger(ctx, settings.Charger, original); err != nil {
			r.logger.Errorf("Failed to restore charging current: %v", err)
		} else {
			r.logger.Infof("Charging restored to %.1fA", original)
		}
	}

	if r.switches != nil {
		for _, device := range ledger.ShedDevices() {
			if err := r.turnOn(ctx, device); err != nil {
				r.logger.WithField("device", device).Errorf("Failed to restore device: %v", err)
				continue
			}
			r.logger.WithField("device", device).Info("Restored device")
		}
	}

	ledger.clear()
	st.Mode = Monitoring
}
