package balancer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultUpdateInterval = 5 * time.Second

// Dependencies are the collaborators that live for the whole process.
type Dependencies struct {
	Reader   PhaseReader
	Switches DeviceSwitch
	// Local is the always-on alert channel, User the optional targeted one.
	Local AlertChannel
	User  AlertChannel

	UpdateInterval  time.Duration
	ActuatorTimeout time.Duration
}

// Coordinator runs the evaluation cycle: sample, track overloads, reduce or
// restore, notify, publish. Cycles never overlap; enable/disable and
// reconfiguration are serialized with them.
type Coordinator struct {
	logger   *logrus.Logger
	interval time.Duration

	cycle     sync.Mutex
	settings  Settings
	state     State
	sampler   *Sampler
	tracker   *OverloadTracker
	reducer   *reducer
	restorer  *restorer
	alerter   *alerter
	readings  Readings
	overloads Overloads
	stopped   bool

	snapMu    sync.RWMutex
	snapshot  Snapshot
	observers []func(Snapshot)

	now func() time.Time
}

func NewCoordinator(settings Settings, deps Dependencies, logger *logrus.Logger) (*Coordinator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if deps.Reader == nil {
		return nil, fmt.Errorf("%w: no phase reader", ErrInvalidSettings)
	}
	if len(settings.Devices) > 0 && deps.Switches == nil {
		return nil, fmt.Errorf("%w: devices configured without a device switch", ErrInvalidSettings)
	}

	interval := deps.UpdateInterval
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	acts := &actuators{
		switches: deps.Switches,
		logger:   logger,
		timeout:  deps.ActuatorTimeout,
	}

	c := &Coordinator{
		logger:   logger,
		interval: interval,
		settings: settings,
		state:    State{Enabled: true, Mode: Monitoring},
		sampler:  NewSampler(deps.Reader, logger),
		tracker:  NewOverloadTracker(logger),
		reducer:  &reducer{actuators: acts},
		restorer: &restorer{actuators: acts},
		alerter:  &alerter{local: deps.Local, user: deps.User, logger: logger},
		readings: Readings{},
		now:      time.Now,
	}
	c.snapshot = buildSnapshot(c.now(), &c.state, settings, c.readings, c.overloads)
	return c, nil
}

// AddSnapshotObserver registers fn to receive every published snapshot. It
// must be called before Start.
func (c *Coordinator) AddSnapshotObserver(fn func(Snapshot)) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Coordinator) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Infof("Starting load balancer (trigger %.1fA, interval %s)", c.Settings().TriggerCurrent(), c.interval)
	c.Tick(ctx, c.now())

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stopping load balancer")
			return
		case <-ticker.C:
			c.Tick(ctx, c.now())
		}
	}
}

// Tick runs one evaluation cycle at time now and returns the published
// snapshot.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) Snapshot {
	c.cycle.Lock()
	if c.stopped {
		c.cycle.Unlock()
		return c.Snapshot()
	}
	settings := c.settings
	st := &c.state
	trigger := settings.TriggerCurrent()

	readings := c.sampler.Sample(settings.Phases)
	overloads := c.tracker.Update(now, readings, settings.Phases, trigger, settings.SpikeFilter)
	c.readings, c.overloads = readings, overloads

	switch {
	case !st.Enabled:
	case len(overloads.Sustained) > 0:
		if !st.Managing() {
			c.alerter.trigger(ctx, now, st, settings, readings, overloads.Sustained, trigger)
		}
		c.reducer.reduce(ctx, now, st, settings, readings, overloads.Sustained, trigger)
		// A confirmed overload invalidates restoration progress even when
		// the reduction was rate-limited.
		st.Mode = Reducing
		st.Ledger.HeadroomSince = time.Time{}
	case st.Managing() || !st.Ledger.Empty():
		c.restorer.maybeRestore(ctx, now, st, settings, readings, overloads, trigger)
	}

	snap := buildSnapshot(now, st, settings, readings, overloads)
	c.cycle.Unlock()

	c.publish(snap)
	return snap
}

// SetEnabled switches load management on or off. Disabling immediately
// restores everything that was shed.
func (c *Coordinator) SetEnabled(ctx context.Context, enabled bool) Snapshot {
	c.cycle.Lock()
	st := &c.state
	if enabled {
		if !st.Enabled {
			c.logger.Info("Load balancing enabled")
		}
		st.Enabled = true
		if st.Ledger.Empty() {
			st.backToMonitoring()
		}
	} else {
		st.Enabled = false
		c.logger.Info("Load balancing disabled, forcing immediate restore")
		c.restorer.forceRestore(ctx, st, c.settings)
	}
	snap := buildSnapshot(c.now(), st, c.settings, c.readings, c.overloads)
	c.cycle.Unlock()

	c.publish(snap)
	return snap
}

// ForceRestore returns all shed load immediately without changing the
// enabled flag.
func (c *Coordinator) ForceRestore(ctx context.Context) Snapshot {
	c.cycle.Lock()
	c.logger.Info("Forcing immediate restore")
	c.restorer.forceRestore(ctx, &c.state, c.settings)
	snap := buildSnapshot(c.now(), &c.state, c.settings, c.readings, c.overloads)
	c.cycle.Unlock()

	c.publish(snap)
	return snap
}

// Shutdown gives back all shed load and stops evaluating: later ticks
// return the last snapshot without touching any actuator.
func (c *Coordinator) Shutdown(ctx context.Context) Snapshot {
	c.cycle.Lock()
	c.stopped = true
	c.logger.Info("Load balancer shutting down, restoring shed load")
	c.restorer.forceRestore(ctx, &c.state, c.settings)
	snap := buildSnapshot(c.now(), &c.state, c.settings, c.readings, c.overloads)
	c.cycle.Unlock()

	c.publish(snap)
	return snap
}

// Reconfigure replaces the settings; it takes effect from the next cycle.
// The ledger is kept so shed load is still restored.
func (c *Coordinator) Reconfigure(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	c.cycle.Lock()
	defer c.cycle.Unlock()
	c.settings = settings
	c.tracker.Retain(settings.Phases)
	c.logger.Infof("Load balancer reconfigured: fuse %.0fA, %s, trigger %.1fA, phases %v, spike filter %s",
		settings.FuseSize, settings.Aggressiveness, settings.TriggerCurrent(), settings.Phases, settings.SpikeFilter)
	return nil
}

func (c *Coordinator) Settings() Settings {
	c.cycle.Lock()
	defer c.cycle.Unlock()
	return c.settings
}

func (c *Coordinator) Enabled() bool {
	return c.Snapshot().Enabled
}

// Snapshot returns the last fully published snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapshot
}

func (c *Coordinator) publish(snap Snapshot) {
	c.snapMu.Lock()
	c.snapshot = snap
	observers := append([]func(Snapshot){}, c.observers...)
	c.snapMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}
