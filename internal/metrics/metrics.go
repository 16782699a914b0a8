package metrics

import (
	"strconv"
	"sync"
	"time"

	"dynamic-load-balancer/internal/balancer"

	"github.com/prometheus/client_golang/prometheus"
)

var managementStates = []balancer.ManagementState{
	balancer.Monitoring,
	balancer.Reducing,
	balancer.Settling,
	balancer.Stepping,
}

type Metrics struct {
	phaseCurrent     *prometheus.GaugeVec
	phaseOverloaded  *prometheus.GaugeVec
	triggerCurrent   prometheus.Gauge
	fuseSize         prometheus.Gauge
	enabled          prometheus.Gauge
	managing         prometheus.Gauge
	state            *prometheus.GaugeVec
	shedDevices      prometheus.Gauge
	chargingOriginal prometheus.Gauge
	overloadEvents   prometheus.Counter
	lastTrigger      prometheus.Gauge

	mu        sync.Mutex
	lastEvent time.Time
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		phaseCurrent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "load_balancer_phase_current_amps",
			Help: "Last numeric current reading per phase.",
		}, []string{"phase"}),
		phaseOverloaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "load_balancer_phase_overloaded",
			Help: "Overload status per phase (0 ok, 1 above trigger, 2 sustained).",
		}, []string{"phase"}),
		triggerCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "load_balancer_trigger_current_amps",
			Help: "Current above which a phase is overloaded.",
		}),
		fuseSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "load_balancer_fuse_size_amps",
			Help: "Configured fuse rating.",
		}),
		enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "load_balancer_enabled",
			Help: "1 when load management is enabled.",
		}),
		managing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "load_balancer_managing_load",
			Help: "1 while load is being managed.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "load_balancer_state",
			Help: "Management state, 1 for the active state.",
		}, []string{"state"}),
		shedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "load_balancer_shed_devices",
			Help: "Number of devices currently turned off by the balancer.",
		}),
		chargingOriginal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "load_balancer_charging_original_amps",
			Help: "Charging current before reduction, 0 when not reduced.",
		}),
		overloadEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "load_balancer_overload_events_total",
			Help: "Total overload episodes detected.",
		}),
		lastTrigger: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "load_balancer_last_overload_timestamp_seconds",
			Help: "Unix time of the last overload episode.",
		}),
	}

	reg.MustRegister(
		m.phaseCurrent,
		m.phaseOverloaded,
		m.triggerCurrent,
		m.fuseSize,
		m.enabled,
		m.managing,
		m.state,
		m.shedDevices,
		m.chargingOriginal,
		m.overloadEvents,
		m.lastTrigger,
	)

	return m
}

// Observe is a coordinator snapshot observer.
func (m *Metrics) Observe(snap balancer.Snapshot) {
	m.triggerCurrent.Set(snap.TriggerCurrent)
	m.fuseSize.Set(snap.FuseSize)
	m.enabled.Set(boolGauge(snap.Enabled))
	m.managing.Set(boolGauge(snap.Managing))
	m.shedDevices.Set(float64(len(snap.ShedDevices)))

	for phase, amps := range snap.PhaseCurrents {
		label := strconv.Itoa(int(phase))
		if amps == nil {
			m.phaseCurrent.DeleteLabelValues(label)
		} else {
			m.phaseCurrent.WithLabelValues(label).Set(*amps)
		}
		m.phaseOverloaded.WithLabelValues(label).Set(0)
	}
	for _, phase := range snap.OverloadedPhases {
		m.phaseOverloaded.WithLabelValues(strconv.Itoa(int(phase))).Set(1)
	}
	for _, phase := range snap.SustainedOverloads {
		m.phaseOverloaded.WithLabelValues(strconv.Itoa(int(phase))).Set(2)
	}

	for _, st := range managementStates {
		m.state.WithLabelValues(string(st)).Set(boolGauge(snap.State == st))
	}

	if snap.ChargingOriginal != nil {
		m.chargingOriginal.Set(*snap.ChargingOriginal)
	} else {
		m.chargingOriginal.Set(0)
	}

	if snap.LastTrigger != nil {
		m.mu.Lock()
		if !snap.LastTrigger.Time.Equal(m.lastEvent) {
			m.lastEvent = snap.LastTrigger.Time
			m.overloadEvents.Inc()
			m.lastTrigger.Set(float64(snap.LastTrigger.Time.Unix()))
		}
		m.mu.Unlock()
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
