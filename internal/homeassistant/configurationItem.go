package homeassistant

type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

type Component string

const (
	Sensor       Component = "sensor"
	BinarySensor Component = "binary_sensor"
	Switch       Component = "switch"
)

type ConfigurationItem struct {
	Component         Component   `json:"-"`
	DeviceClass       DeviceClass `json:"device_class,omitempty"`
	UnitOfMeasurement Unit        `json:"unit_of_measurement,omitempty"`
	Device            Device      `json:"device"`
	StateClass        string      `json:"state_class,omitempty"`
	UniqueId          string      `json:"unique_id"`
	Name              string      `json:"name"`
	Icon              string      `json:"icon,omitempty"`
	StateTopic        string      `json:"state_topic"`
	ValueTemplate     string      `json:"value_template,omitempty"`

	CommandTopic string `json:"command_topic,omitempty"`
	PayloadOn    string `json:"payload_on,omitempty"`
	PayloadOff   string `json:"payload_off,omitempty"`

	JsonAttributesTopic    string `json:"json_attributes_topic,omitempty"`
	JsonAttributesTemplate string `json:"json_attributes_template,omitempty"`
}
