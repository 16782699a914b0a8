package homeassistant

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the part of an MQTT client used to send discovery payloads.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

func objectID(globalName, name string) string {
	return globalName + "_" + strings.Replace(strings.ToLower(name), " ", "_", -1)
}

// ConfigTopic is the retained discovery topic of the item.
func (c ConfigurationItem) ConfigTopic(discoveryPrefix, globalName string) string {
	component := c.Component
	if component == "" {
		component = Sensor
	}
	return fmt.Sprintf("%s/%s/%s/config", discoveryPrefix, component, objectID(globalName, c.Name))
}

func SendConfigurationToHa(client Publisher, discoveryPrefix string, config []ConfigurationItem, globalName string) error {
	for _, configItem := range config {
		b, err := json.Marshal(configItem)
		if err != nil {
			return fmt.Errorf("encoding discovery for %s: %w", configItem.Name, err)
		}
		token := client.Publish(configItem.ConfigTopic(discoveryPrefix, globalName), 0, true, b)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("publishing discovery for %s: %w", configItem.Name, token.Error())
		}
	}
	return nil
}

// Topics are the balancer topics the entities read from and write to.
type Topics struct {
	State         string
	SwitchState   string
	SwitchCommand string
}

// BalancerEntities describes the load balancer: one current sensor per
// monitored phase, status sensors, the overload binary sensors and the
// enable switch.
func BalancerEntities(globalName, deviceName string, topics Topics, phases []int) []ConfigurationItem {
	device := Device{
		Identifiers:  []string{globalName},
		Name:         deviceName,
		Manufacturer: "Dynamic Load Balancer",
		Model:        "Load balancer",
	}
	item := func(name string) ConfigurationItem {
		return ConfigurationItem{
			Component:  Sensor,
			Device:     device,
			UniqueId:   objectID(globalName, name),
			Name:       name,
			StateTopic: topics.State,
		}
	}

	var items []ConfigurationItem
	for _, phase := range phases {
		it := item(fmt.Sprintf("Phase L%d current", phase))
		it.DeviceClass = Current
		it.UnitOfMeasurement = A
		it.StateClass = "measurement"
		it.ValueTemplate = fmt.Sprintf("{{ value_json.phase_currents['%d'] }}", phase)
		items = append(items, it)
	}

	trigger := item("Trigger current")
	trigger.DeviceClass = Current
	trigger.UnitOfMeasurement = A
	trigger.ValueTemplate = "{{ value_json.trigger_current }}"

	status := item("Status")
	status.Icon = "mdi:scale-balance"
	status.ValueTemplate = "{{ value_json.status }}"
	status.JsonAttributesTopic = topics.State
	status.JsonAttributesTemplate = "{{ {'state': value_json.state, 'disabled_devices': value_json.disabled_devices, " +
		"'charging_original_value': value_json.charging_original_value} | tojson }}"

	lastTrigger := item("Last overload")
	lastTrigger.DeviceClass = Timestamp
	lastTrigger.Icon = "mdi:flash-alert"
	lastTrigger.ValueTemplate = "{{ value_json.last_trigger.time if value_json.last_trigger is defined else None }}"
	lastTrigger.JsonAttributesTopic = topics.State
	lastTrigger.JsonAttributesTemplate = "{{ (value_json.last_trigger if value_json.last_trigger is defined else {}) | tojson }}"

	managing := item("Managing load")
	managing.Component = BinarySensor
	managing.DeviceClass = Running
	managing.ValueTemplate = "{{ 'ON' if value_json.is_managing_load else 'OFF' }}"

	overload := item("Overload")
	overload.Component = BinarySensor
	overload.DeviceClass = Problem
	overload.ValueTemplate = "{{ 'ON' if value_json.sustained_overloads else 'OFF' }}"

	enable := item("Load balancing")
	enable.Component = Switch
	enable.Icon = "mdi:scale-balance"
	enable.StateTopic = topics.SwitchState
	enable.CommandTopic = topics.SwitchCommand
	enable.PayloadOn = "ON"
	enable.PayloadOff = "OFF"

	return append(items, trigger, status, lastTrigger, managing, overload, enable)
}
