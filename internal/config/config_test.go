package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dynamic-load-balancer/internal/balancer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log:
  level: debug
mqtt:
  broker: tcp://broker.local:1883
  topic_prefix: dlb
sensors:
  source: mqtt
  phases:
    l1: meter/current_l1
    l2: meter/current_l2
  max_age: 90s
balancer:
  fuse_size: 32
  aggressiveness: high
  enabled_phases: [1, 2]
  spike_filter_time: 45s
charging:
  backend: ocpp
  station_id: wallbox
  min_current: 6
  max_current: 16
devices:
  - id: boiler
    name: Water boiler
    state_topic: shellies/boiler/relay/0
    command_topic: shellies/boiler/relay/0/command
    payload_on: "on"
    payload_off: "off"
  - id: heater
    command_topic: heater/set
notify:
  target: phone
  webhook_url: http://notify.local/hook
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "tcp://broker.local:1883", cfg.MQTT.Broker)
	assert.Equal(t, "dlb", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "homeassistant", cfg.MQTT.DiscoveryPrefix, "default kept")
	assert.Equal(t, "meter/current_l2", cfg.Sensors.PhaseTopic(2))
	assert.Equal(t, "", cfg.Sensors.PhaseTopic(3))
	assert.Equal(t, 90*time.Second, cfg.Sensors.MaxAge)

	assert.Equal(t, 32.0, cfg.Balancer.FuseSize)
	assert.Equal(t, []int{1, 2}, cfg.Balancer.EnabledPhases)
	assert.Equal(t, 45*time.Second, cfg.Balancer.SpikeFilterTime)
	assert.Equal(t, 5*time.Second, cfg.Balancer.UpdateInterval)

	assert.Equal(t, "wallbox", cfg.Charging.StationID)
	assert.Equal(t, 1, cfg.Charging.ConnectorID)
	assert.Equal(t, []string{"boiler", "heater"}, cfg.DeviceIDs())
	assert.Equal(t, "on", cfg.Devices[0].PayloadOn)
	assert.True(t, cfg.Notify.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Notify.Timeout)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://env-broker:1883")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tcp://env-broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, 25.0, cfg.Balancer.FuseSize)
	assert.Equal(t, "medium", cfg.Balancer.Aggressiveness)
	assert.Equal(t, []int{1, 2, 3}, cfg.Balancer.EnabledPhases)
	assert.Equal(t, 30*time.Second, cfg.Balancer.SpikeFilterTime)
	assert.Equal(t, 10*time.Second, cfg.Balancer.ActuatorTimeout)
	assert.True(t, cfg.Balancer.Enabled)
	assert.Equal(t, "none", cfg.Charging.Backend)
	assert.Empty(t, cfg.Devices)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BALANCER_FUSE_SIZE", "40")
	t.Setenv("BALANCER_AGGRESSIVENESS", "very_low")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 40.0, cfg.Balancer.FuseSize)

	settings, err := cfg.BalancerSettings(nil)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, settings.TriggerCurrent(), 1e-9)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"fuse out of range": `
mqtt: {broker: tcp://b:1883}
balancer: {fuse_size: 200}`,
		"unknown aggressiveness": `
mqtt: {broker: tcp://b:1883}
balancer: {aggressiveness: extreme}`,
		"unknown backend": `
mqtt: {broker: tcp://b:1883}
charging: {backend: modbus}`,
		"ocpp without station": `
mqtt: {broker: tcp://b:1883}
charging: {backend: ocpp}`,
		"duplicate device": `
mqtt: {broker: tcp://b:1883}
devices:
  - {id: a, command_topic: a/set}
  - {id: a, command_topic: b/set}`,
		"device without command topic": `
mqtt: {broker: tcp://b:1883}
devices:
  - {id: a}`,
		"mqtt source without broker": `
sensors: {source: mqtt}`,
		"unknown source": `
mqtt: {broker: tcp://b:1883}
sensors: {source: modbus}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestBalancerSettings(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	settings, err := cfg.BalancerSettings(nil)
	require.NoError(t, err)

	assert.Equal(t, balancer.High, settings.Aggressiveness)
	assert.Equal(t, []balancer.Phase{1, 2}, settings.Phases)
	assert.Equal(t, 45*time.Second, settings.SpikeFilter)
	assert.Equal(t, []string{"boiler", "heater"}, settings.Devices)
	assert.Equal(t, "phone", settings.NotifyTarget)
	assert.Nil(t, settings.Charger)
	assert.InDelta(t, 27.2, settings.TriggerCurrent(), 1e-9)
}
