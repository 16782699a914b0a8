package httpapi

import (
	"context"

	"dynamic-load-balancer/internal/balancer"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Controller is the part of the coordinator exposed over HTTP.
type Controller interface {
	Snapshot() balancer.Snapshot
	Settings() balancer.Settings
	SetEnabled(ctx context.Context, enabled bool) balancer.Snapshot
	ForceRestore(ctx context.Context) balancer.Snapshot
}

type api struct {
	ctrl   Controller
	logger *logrus.Logger
}

func NewRouter(ctrl Controller, gatherer prometheus.Gatherer, logger *logrus.Logger) *mux.Router {
	a := &api{ctrl: ctrl, logger: logger}
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/api/status", a.getStatus).Methods("GET")
	r.HandleFunc("/api/settings", a.getSettings).Methods("GET")
	r.HandleFunc("/api/enable", a.setEnabled(true)).Methods("POST")
	r.HandleFunc("/api/disable", a.setEnabled(false)).Methods("POST")
	r.HandleFunc("/api/restore", a.forceRestore).Methods("POST")

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r
}
