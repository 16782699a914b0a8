package homeassistant

import (
	"encoding/json"
	"errors"
	"testing"

	"dynamic-load-balancer/internal/mqtt/mqtttest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTopics = Topics{
	State:         "dlb/state",
	SwitchState:   "dlb/switch/state",
	SwitchCommand: "dlb/switch/set",
}

func TestBalancerEntities(t *testing.T) {
	items := BalancerEntities("dlb", "Load balancer", testTopics, []int{1, 3})

	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{
		"Phase L1 current", "Phase L3 current", "Trigger current", "Status",
		"Last overload", "Managing load", "Overload", "Load balancing",
	}, names)

	assert.Equal(t, "homeassistant/sensor/dlb_phase_l3_current/config", items[1].ConfigTopic("homeassistant", "dlb"))
	assert.Equal(t, "homeassistant/switch/dlb_load_balancing/config", items[7].ConfigTopic("homeassistant", "dlb"))
	assert.Equal(t, "homeassistant/binary_sensor/dlb_overload/config", items[6].ConfigTopic("homeassistant", "dlb"))
}

func TestConfigurationItem_JSON(t *testing.T) {
	items := BalancerEntities("dlb", "Load balancer", testTopics, []int{1})

	b, err := json.Marshal(items[0])
	require.NoError(t, err)
	var phase map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &phase))
	assert.Equal(t, "current", phase["device_class"])
	assert.Equal(t, "A", phase["unit_of_measurement"])
	assert.Equal(t, "measurement", phase["state_class"])
	assert.Equal(t, "{{ value_json.phase_currents['1'] }}", phase["value_template"])
	assert.NotContains(t, phase, "command_topic")
	assert.NotContains(t, phase, "Component")

	b, err = json.Marshal(items[len(items)-1])
	require.NoError(t, err)
	var sw map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &sw))
	assert.NotContains(t, sw, "device_class", "no device class is omitted")
	assert.NotContains(t, sw, "unit_of_measurement")
	assert.Equal(t, "dlb/switch/set", sw["command_topic"])
	assert.Equal(t, "dlb/switch/state", sw["state_topic"])
}

func TestSendConfigurationToHa(t *testing.T) {
	client := mqtttest.NewClient()
	items := BalancerEntities("dlb", "Load balancer", testTopics, []int{1, 2, 3})

	require.NoError(t, SendConfigurationToHa(client, "homeassistant", items, "dlb"))
	require.Len(t, client.Published, len(items))
	for _, p := range client.Published {
		assert.True(t, p.Retained, p.Topic)
	}

	client = mqtttest.NewClient()
	client.PublishErr = errors.New("not connected")
	assert.Error(t, SendConfigurationToHa(client, "homeassistant", items, "dlb"))
	assert.Len(t, client.Published, 1, "stops at the first failure")
}
