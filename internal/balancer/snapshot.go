package balancer

import "time"

// Snapshot is the state published after each completed cycle.
type Snapshot struct {
	Time    time.Time `json:"time"`
	Enabled bool      `json:"enabled"`

	FuseSize       float64 `json:"fuse_size"`
	TriggerCurrent float64 `json:"trigger_current"`

	// PhaseCurrents holds nil for phases whose reading is unknown.
	PhaseCurrents      map[Phase]*float64 `json:"phase_currents"`
	OverloadedPhases   []Phase            `json:"overloaded_phases"`
	SustainedOverloads []Phase            `json:"sustained_overloads"`

	Managing bool            `json:"is_managing_load"`
	State    ManagementState `json:"state"`

	ChargingOriginal *float64   `json:"charging_original_value"`
	ShedDevices      []string   `json:"disabled_devices"`
	HeadroomSince    *time.Time `json:"restore_headroom_since"`
	LastRestoreStep  *time.Time `json:"last_restore_step_time"`

	LastTrigger *TriggerEvent `json:"last_trigger,omitempty"`
}

// Restoring reports whether shed load is still waiting to be returned.
func (s Snapshot) Restoring() bool {
	return s.ChargingOriginal != nil || len(s.ShedDevices) > 0
}

// Status is a one-line human readable summary.
func (s Snapshot) Status() string {
	switch {
	case !s.Enabled:
		return "Disabled"
	case len(s.SustainedOverloads) > 0:
		return "Overload — reducing load"
	case s.Restoring() && s.HeadroomSince != nil:
		return "Settling — waiting to restore"
	case s.Restoring() && s.LastRestoreStep != nil:
		return "Restoring — waiting between steps"
	case s.Restoring():
		return "Waiting for headroom"
	default:
		return "Monitoring"
	}
}

func buildSnapshot(now time.Time, st *State, settings Settings, readings Readings, overloads Overloads) Snapshot {
	snap := Snapshot{
		Time:               now,
		Enabled:            st.Enabled,
		FuseSize:           settings.FuseSize,
		TriggerCurrent:     settings.TriggerCurrent(),
		PhaseCurrents:      make(map[Phase]*float64, len(readings)),
		OverloadedPhases:   append([]Phase{}, overloads.Instant...),
		SustainedOverloads: append([]Phase{}, overloads.Sustained...),
		Managing:           st.Managing(),
		State:              st.Mode,
		ShedDevices:        st.Ledger.ShedDevices(),
	}
	for phase, rd := range readings {
		if rd.Known {
			amps := rd.Amps
			snap.PhaseCurrents[phase] = &amps
		} else {
			snap.PhaseCurrents[phase] = nil
		}
	}
	if st.Ledger.ChargingOriginal != nil {
		original := *st.Ledger.ChargingOriginal
		snap.ChargingOriginal = &original
	}
	if !st.Ledger.HeadroomSince.IsZero() {
		since := st.Ledger.HeadroomSince
		snap.HeadroomSince = &since
	}
	if !st.Ledger.LastStep.IsZero() {
		step := st.Ledger.LastStep
		snap.LastRestoreStep = &step
	}
	if st.LastTrigger != nil {
		ev := *st.LastTrigger
		ev.Phases = append([]Phase{}, ev.Phases...)
		snap.LastTrigger = &ev
	}
	return snap
}
