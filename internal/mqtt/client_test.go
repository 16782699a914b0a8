package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"dynamic-load-balancer/internal/balancer"
	"dynamic-load-balancer/internal/config"
	"dynamic-load-balancer/internal/mqtt/mqtttest"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{
			Broker:          "tcp://localhost:1883",
			TopicPrefix:     "dlb",
			DiscoveryPrefix: "homeassistant",
			NotifyTopic:     "dlb/notify",
		},
		Sensors: config.SensorsConfig{
			Source: config.SourceMQTT,
			Phases: config.PhaseTopics{L1: "meter/l1", L2: "meter/l2"},
			MaxAge: time.Minute,
		},
		Balancer: config.BalancerConfig{EnabledPhases: []int{1, 2}},
		Charging: config.ChargingConfig{
			Backend:    "mqtt",
			MinCurrent: 6,
			MaxCurrent: 16,
			Step:       1,
			MQTT:       config.ChargingTopicConfig{StateTopic: "evse/current", CommandTopic: "evse/current/set"},
		},
		Devices: []config.DeviceConfig{
			{ID: "boiler", StateTopic: "boiler/state", CommandTopic: "boiler/set", PayloadOn: "on", PayloadOff: "off"},
			{ID: "heater", CommandTopic: "heater/set"},
		},
	}
}

// connectedClient returns a client wired to an in-memory broker with every
// subscription done.
func connectedClient(t *testing.T, cfg *config.Config) (*Client, *mqtttest.Client) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	c := newClient(cfg, logger)
	c.now = func() time.Time { return baseTime }
	fake := mqtttest.NewClient()
	c.client = fake
	c.onConnect(fake)
	return c, fake
}

func TestClient_SubscribesAndPublishesDiscovery(t *testing.T) {
	_, fake := connectedClient(t, testConfig())

	for _, topic := range []string{"meter/l1", "meter/l2", "boiler/state", "evse/current", "dlb/switch/set"} {
		assert.Contains(t, fake.Subscriptions, topic)
	}
	assert.NotContains(t, fake.Subscriptions, "heater/state")

	p, ok := fake.LastOn("homeassistant/switch/dlb_load_balancing/config")
	require.True(t, ok)
	assert.True(t, p.Retained)
	_, ok = fake.LastOn("homeassistant/sensor/dlb_phase_l2_current/config")
	assert.True(t, ok)
	_, ok = fake.LastOn("homeassistant/sensor/dlb_phase_l3_current/config")
	assert.False(t, ok, "phase 3 is not monitored")
}

func TestClient_PhaseState(t *testing.T) {
	c, fake := connectedClient(t, testConfig())

	state, ok := c.PhaseState(1)
	assert.True(t, ok)
	assert.Equal(t, "unknown", state, "nothing received yet")

	_, ok = c.PhaseState(3)
	assert.False(t, ok, "no sensor for phase 3")

	fake.Deliver("meter/l1", "23.4")
	fake.Deliver("meter/l2", `{"current": 7.25, "unit": "A"}`)
	state, _ = c.PhaseState(1)
	assert.Equal(t, "23.4", state)
	state, _ = c.PhaseState(2)
	assert.Equal(t, "7.25", state)

	c.now = func() time.Time { return baseTime.Add(2 * time.Minute) }
	state, _ = c.PhaseState(1)
	assert.Equal(t, "unavailable", state, "stale reading")
}

func TestPayloadState(t *testing.T) {
	cases := map[string]string{
		"12.5":                 "12.5",
		" 12.5\n":              "12.5",
		`"unavailable"`:        "unavailable",
		`{"value": 3}`:         "3",
		`{"state": "unknown"}`: "unknown",
		`{"current": null}`:    "unknown",
		`{"other": 1}`:         "unknown",
		`{not json`:            "{not json",
	}
	for payload, want := range cases {
		assert.Equal(t, want, payloadState([]byte(payload), "current", "value", "state"), payload)
	}
}

func TestClient_DeviceSwitch(t *testing.T) {
	c, fake := connectedClient(t, testConfig())
	ctx := context.Background()

	_, err := c.IsOn(ctx, "boiler")
	assert.ErrorIs(t, err, ErrNoState)

	_, err = c.IsOn(ctx, "pool")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.ErrorIs(t, c.TurnOff(ctx, "pool"), ErrUnknownDevice)

	fake.Deliver("boiler/state", "on")
	on, err := c.IsOn(ctx, "boiler")
	require.NoError(t, err)
	assert.True(t, on)

	fake.Deliver("boiler/state", `{"output": false}`)
	on, _ = c.IsOn(ctx, "boiler")
	assert.False(t, on)

	on, err = c.IsOn(ctx, "heater")
	require.NoError(t, err)
	assert.True(t, on, "device without state topic starts on")

	require.NoError(t, c.TurnOff(ctx, "heater"))
	p, ok := fake.LastOn("heater/set")
	require.True(t, ok)
	assert.Equal(t, "OFF", p.Payload, "default payload")
	on, err = c.IsOn(ctx, "heater")
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, c.TurnOn(ctx, "boiler"))
	p, _ = fake.LastOn("boiler/set")
	assert.Equal(t, "on", p.Payload)
}

func TestCoordinator_ShedsDeviceWithoutStateTopic(t *testing.T) {
	cfg := testConfig()
	cfg.Charging = config.ChargingConfig{Backend: "none"}
	cfg.Devices = []config.DeviceConfig{{ID: "heater", CommandTopic: "heater/set"}}
	c, fake := connectedClient(t, cfg)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	settings := balancer.DefaultSettings()
	settings.Phases = []balancer.Phase{1}
	settings.Devices = []string{"heater"}
	coord, err := balancer.NewCoordinator(settings, balancer.Dependencies{Reader: c, Switches: c}, logger)
	require.NoError(t, err)

	fake.Deliver("meter/l1", "30")
	ctx := context.Background()
	coord.Tick(ctx, baseTime)
	snap := coord.Tick(ctx, baseTime.Add(settings.SpikeFilter))

	assert.Equal(t, []string{"heater"}, snap.ShedDevices)
	p, ok := fake.LastOn("heater/set")
	require.True(t, ok)
	assert.Equal(t, "OFF", p.Payload)
}

func TestClient_PublishFailureLeavesStateUnchanged(t *testing.T) {
	c, fake := connectedClient(t, testConfig())
	fake.Deliver("boiler/state", "on")
	fake.PublishErr = errors.New("broker gone")

	assert.Error(t, c.TurnOff(context.Background(), "boiler"))
	on, err := c.IsOn(context.Background(), "boiler")
	require.NoError(t, err)
	assert.True(t, on)
}

func TestCharger(t *testing.T) {
	c, fake := connectedClient(t, testConfig())
	ch := c.Charger()
	ctx := context.Background()

	_, err := ch.ChargerState(ctx)
	assert.ErrorIs(t, err, balancer.ErrStateUnavailable)

	fake.Deliver("evse/current", "16")
	cs, err := ch.ChargerState(ctx)
	require.NoError(t, err)
	assert.Equal(t, balancer.ChargerState{Value: 16, Min: 6, Max: 16, Step: 1}, cs)

	require.NoError(t, ch.SetCurrent(ctx, 11))
	p, _ := fake.LastOn("evse/current/set")
	assert.Equal(t, "11", p.Payload)
}

func TestCharger_WithoutStateTopicTracksCommands(t *testing.T) {
	cfg := testConfig()
	cfg.Charging.MQTT.StateTopic = ""
	c, _ := connectedClient(t, cfg)
	ch := c.Charger()

	cs, err := ch.ChargerState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 16.0, cs.Value, "starts at max current")

	require.NoError(t, ch.SetCurrent(context.Background(), 9.5))
	cs, _ = ch.ChargerState(context.Background())
	assert.Equal(t, 9.5, cs.Value)
}

func TestClient_EnableSwitchCommand(t *testing.T) {
	c, fake := connectedClient(t, testConfig())
	var got []bool
	c.SetEnableHandler(func(enabled bool) { got = append(got, enabled) })

	fake.Deliver("dlb/switch/set", "OFF")
	fake.Deliver("dlb/switch/set", "bogus")
	fake.Deliver("dlb/switch/set", "on")
	assert.Equal(t, []bool{false, true}, got)
}

func TestClient_PublishSnapshotDoesNotWaitForBroker(t *testing.T) {
	c, fake := connectedClient(t, testConfig())
	fake.Ack = make(chan struct{})
	defer close(fake.Ack)

	done := make(chan struct{})
	go func() {
		c.PublishSnapshot(balancer.Snapshot{Enabled: false, State: balancer.Monitoring})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishSnapshot blocked on an unacknowledged publish")
	}
	_, ok := fake.LastOn("dlb/state")
	assert.True(t, ok)
	p, ok := fake.LastOn("dlb/switch/state")
	require.True(t, ok)
	assert.Equal(t, "OFF", p.Payload)
}

func TestClient_PublishSnapshotAndNotify(t *testing.T) {
	c, fake := connectedClient(t, testConfig())

	amps := 24.0
	c.PublishSnapshot(balancer.Snapshot{
		Enabled:            true,
		PhaseCurrents:      map[balancer.Phase]*float64{1: &amps, 2: nil},
		SustainedOverloads: []balancer.Phase{1},
		State:              balancer.Reducing,
	})

	p, ok := fake.LastOn("dlb/state")
	require.True(t, ok)
	assert.True(t, p.Retained)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(p.Payload), &doc))
	assert.Equal(t, "Overload — reducing load", doc["status"])
	assert.Equal(t, "reducing", doc["state"])
	assert.Equal(t, map[string]interface{}{"1": 24.0, "2": nil}, doc["phase_currents"])

	p, _ = fake.LastOn("dlb/switch/state")
	assert.Equal(t, "ON", p.Payload)

	n := c.Notifier()
	assert.Equal(t, "mqtt", n.Name())
	require.NoError(t, n.Send(context.Background(), balancer.Alert{Title: "t", Message: "m"}))
	p, _ = fake.LastOn("dlb/notify")
	assert.False(t, p.Retained)
	assert.JSONEq(t, `{"title":"t","message":"m","time":"2026-01-15T18:00:00Z"}`, p.Payload)
}
