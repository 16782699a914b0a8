package httpapi

import (
	"encoding/json"
	"net/http"

	"dynamic-load-balancer/internal/balancer"
)

type statusResponse struct {
	balancer.Snapshot
	Status string `json:"status"`
}

type settingsResponse struct {
	FuseSize        float64          `json:"fuse_size"`
	Aggressiveness  string           `json:"aggressiveness"`
	TriggerCurrent  float64          `json:"trigger_current"`
	Phases          []balancer.Phase `json:"enabled_phases"`
	SpikeFilterTime float64          `json:"spike_filter_time"`
	Charger         bool             `json:"charging_actuator"`
	Devices         []string         `json:"devices"`
	NotifyEnabled   bool             `json:"notifications_enabled"`
	NotifyTarget    string           `json:"notification_target,omitempty"`
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (a *api) getStatus(w http.ResponseWriter, _ *http.Request) {
	a.writeSnapshot(w, a.ctrl.Snapshot())
}

func (a *api) getSettings(w http.ResponseWriter, _ *http.Request) {
	s := a.ctrl.Settings()
	a.writeJSON(w, settingsResponse{
		FuseSize:        s.FuseSize,
		Aggressiveness:  string(s.Aggressiveness),
		TriggerCurrent:  s.TriggerCurrent(),
		Phases:          s.Phases,
		SpikeFilterTime: s.SpikeFilter.Seconds(),
		Charger:         s.Charger != nil,
		Devices:         s.Devices,
		NotifyEnabled:   s.NotifyEnabled,
		NotifyTarget:    s.NotifyTarget,
	})
}

func (a *api) setEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.logger.Infof("HTTP: load balancing enabled=%t", enabled)
		a.writeSnapshot(w, a.ctrl.SetEnabled(r.Context(), enabled))
	}
}

func (a *api) forceRestore(w http.ResponseWriter, r *http.Request) {
	a.logger.Info("HTTP: forcing restore of shed load")
	a.writeSnapshot(w, a.ctrl.ForceRestore(r.Context()))
}

func (a *api) writeSnapshot(w http.ResponseWriter, snap balancer.Snapshot) {
	a.writeJSON(w, statusResponse{Snapshot: snap, Status: snap.Status()})
}

func (a *api) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Errorf("HTTP: encoding response: %v", err)
	}
}
