package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Sensors  SensorsConfig  `mapstructure:"sensors"`
	Balancer BalancerConfig `mapstructure:"balancer"`
	Charging ChargingConfig `mapstructure:"charging"`
	Devices  []DeviceConfig `mapstructure:"devices"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ServerConfig is the OCPP websocket endpoint.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type HTTPConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type MQTTConfig struct {
	Broker          string `mapstructure:"broker"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	ClientID        string `mapstructure:"client_id"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
	NotifyTopic     string `mapstructure:"notify_topic"`
}

const (
	SourceMQTT     = "mqtt"
	SourceTeleinfo = "teleinfo"
)

type SensorsConfig struct {
	Source   string         `mapstructure:"source"`
	Phases   PhaseTopics    `mapstructure:"phases"`
	MaxAge   time.Duration  `mapstructure:"max_age"`
	Teleinfo TeleinfoConfig `mapstructure:"teleinfo"`
}

// PhaseTopics are the MQTT topics carrying the current of each phase.
type PhaseTopics struct {
	L1 string `mapstructure:"l1"`
	L2 string `mapstructure:"l2"`
	L3 string `mapstructure:"l3"`
}

type TeleinfoConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
}

type BalancerConfig struct {
	FuseSize        float64       `mapstructure:"fuse_size"`
	Aggressiveness  string        `mapstructure:"aggressiveness"`
	EnabledPhases   []int         `mapstructure:"enabled_phases"`
	SpikeFilterTime time.Duration `mapstructure:"spike_filter_time"`
	UpdateInterval  time.Duration `mapstructure:"update_interval"`
	ActuatorTimeout time.Duration `mapstructure:"actuator_timeout"`
	Enabled         bool          `mapstructure:"enabled"`
}

type ChargingConfig struct {
	Backend     string              `mapstructure:"backend"`
	StationID   string              `mapstructure:"station_id"`
	ConnectorID int                 `mapstructure:"connector_id"`
	MinCurrent  float64             `mapstructure:"min_current"`
	MaxCurrent  float64             `mapstructure:"max_current"`
	Step        float64             `mapstructure:"step"`
	MQTT        ChargingTopicConfig `mapstructure:"mqtt"`
}

type ChargingTopicConfig struct {
	StateTopic   string `mapstructure:"state_topic"`
	CommandTopic string `mapstructure:"command_topic"`
}

// DeviceConfig is a sheddable device switched over MQTT. The order of the
// devices list is the shedding order.
type DeviceConfig struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	StateTopic   string `mapstructure:"state_topic"`
	CommandTopic string `mapstructure:"command_topic"`
	PayloadOn    string `mapstructure:"payload_on"`
	PayloadOff   string `mapstructure:"payload_off"`
}

type NotifyConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Target     string        `mapstructure:"target"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Loader reads the configuration file and keeps watching it.
type Loader struct {
	v *viper.Viper
}

// NewLoader searches for config.yaml in "." and "./config" when path is
// empty, and reads path otherwise.
func NewLoader(path string) *Loader {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("server.port", 8887)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.host", "0.0.0.0")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "dynamic-load-balancer")
	v.SetDefault("mqtt.topic_prefix", "load_balancer")
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")
	v.SetDefault("mqtt.notify_topic", "load_balancer/notify")

	v.SetDefault("sensors.source", SourceMQTT)
	v.SetDefault("sensors.phases.l1", "")
	v.SetDefault("sensors.phases.l2", "")
	v.SetDefault("sensors.phases.l3", "")
	v.SetDefault("sensors.max_age", "2m")
	v.SetDefault("sensors.teleinfo.port", "/dev/ttyUSB0")
	v.SetDefault("sensors.teleinfo.baud", 9600)

	v.SetDefault("balancer.fuse_size", 25.0)
	v.SetDefault("balancer.aggressiveness", "medium")
	v.SetDefault("balancer.enabled_phases", []int{1, 2, 3})
	v.SetDefault("balancer.spike_filter_time", "30s")
	v.SetDefault("balancer.update_interval", "5s")
	v.SetDefault("balancer.actuator_timeout", "10s")
	v.SetDefault("balancer.enabled", true)

	v.SetDefault("charging.backend", "none")
	v.SetDefault("charging.station_id", "")
	v.SetDefault("charging.connector_id", 1)
	v.SetDefault("charging.min_current", 6.0)
	v.SetDefault("charging.max_current", 32.0)
	v.SetDefault("charging.step", 1.0)
	v.SetDefault("charging.mqtt.state_topic", "")
	v.SetDefault("charging.mqtt.command_topic", "")

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.target", "")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", "10s")
}

func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.MQTT.Broker == "" {
		config.MQTT.Broker = os.Getenv("MQTT_BROKER")
	}
	if config.MQTT.Username == "" {
		config.MQTT.Username = os.Getenv("MQTT_USERNAME")
	}
	if config.MQTT.Password == "" {
		config.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Watch reloads the file on every change and hands valid configurations to
// onChange. Invalid edits are logged and ignored.
func (l *Loader) Watch(logger *logrus.Logger, onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		logger.Infof("Config file changed: %s", e.Name)
		cfg, err := l.decode()
		if err != nil {
			logger.Errorf("Ignoring config change: %v", err)
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (c *Config) Validate() error {
	var problems []string

	switch c.Sensors.Source {
	case SourceMQTT:
		if c.MQTT.Broker == "" {
			problems = append(problems, "sensors.source mqtt requires mqtt.broker")
		}
	case SourceTeleinfo:
		if c.Sensors.Teleinfo.Port == "" {
			problems = append(problems, "sensors.teleinfo.port is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown sensors.source %q", c.Sensors.Source))
	}

	switch c.Charging.Backend {
	case "none", "":
	case "ocpp":
		if c.Charging.StationID == "" {
			problems = append(problems, "charging.station_id is required for the ocpp backend")
		}
	case "mqtt":
		if c.Charging.MQTT.CommandTopic == "" {
			problems = append(problems, "charging.mqtt.command_topic is required for the mqtt backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown charging.backend %q", c.Charging.Backend))
	}
	if c.Charging.MinCurrent < 0 || c.Charging.MinCurrent > c.Charging.MaxCurrent {
		problems = append(problems, "charging.min_current must be between 0 and charging.max_current")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.ID == "":
			problems = append(problems, fmt.Sprintf("devices[%d]: id is required", i))
		case seen[d.ID]:
			problems = append(problems, fmt.Sprintf("devices[%d]: duplicate id %q", i, d.ID))
		case d.CommandTopic == "":
			problems = append(problems, fmt.Sprintf("devices[%d]: command_topic is required", i))
		}
		seen[d.ID] = true
	}
	if len(c.Devices) > 0 && c.MQTT.Broker == "" {
		problems = append(problems, "devices require mqtt.broker")
	}

	if c.Balancer.UpdateInterval <= 0 {
		problems = append(problems, "balancer.update_interval must be positive")
	}

	if _, err := c.BalancerSettings(nil); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// PhaseTopic returns the sensor topic configured for phase 1, 2 or 3.
func (s SensorsConfig) PhaseTopic(phase int) string {
	switch phase {
	case 1:
		return s.Phases.L1
	case 2:
		return s.Phases.L2
	case 3:
		return s.Phases.L3
	}
	return ""
}

// DeviceIDs returns the device ids in shedding order.
func (c *Config) DeviceIDs() []string {
	ids := make([]string, 0, len(c.Devices))
	for _, d := range c.Devices {
		ids = append(ids, d.ID)
	}
	return ids
}
