package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"dynamic-load-balancer/internal/balancer"
	"dynamic-load-balancer/internal/config"
	"dynamic-load-balancer/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotConnected  = errors.New("mqtt client not connected")
	ErrUnknownDevice = errors.New("unknown device")
	ErrNoState       = errors.New("no state received")
)

type Client struct {
	client mqtt.Client
	config *config.Config
	logger *logrus.Logger
	now    func() time.Time

	phases  map[balancer.Phase]*phaseSensor
	devices map[string]*device
	charger *models.SensorValue

	mutex    sync.RWMutex
	onEnable func(enabled bool)
}

type phaseSensor struct {
	topic string
	value *models.SensorValue
}

type device struct {
	cfg   config.DeviceConfig
	state *models.SwitchState
}

func NewClient(cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	if cfg.MQTT.Broker == "" {
		return nil, fmt.Errorf("mqtt broker not configured")
	}
	c := newClient(cfg, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetWill(c.SwitchStateTopic(), "unavailable", 1, true)

	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetOnConnectHandler(c.onConnect)

	c.client = mqtt.NewClient(opts)

	return c, nil
}

// newClient builds the client state without a broker connection.
func newClient(cfg *config.Config, logger *logrus.Logger) *Client {
	c := &Client{
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		phases:  make(map[balancer.Phase]*phaseSensor),
		devices: make(map[string]*device, len(cfg.Devices)),
		charger: models.NewSensorValue(),
	}

	if cfg.Sensors.Source == config.SourceMQTT {
		for _, phase := range []balancer.Phase{1, 2, 3} {
			if topic := cfg.Sensors.PhaseTopic(int(phase)); topic != "" {
				c.phases[phase] = &phaseSensor{topic: topic, value: models.NewSensorValue()}
			}
		}
	}

	for _, d := range cfg.Devices {
		if d.PayloadOn == "" {
			d.PayloadOn = "ON"
		}
		if d.PayloadOff == "" {
			d.PayloadOff = "OFF"
		}
		state := models.NewSwitchState()
		if d.StateTopic == "" {
			// No feedback: assumed on until the balancer commands it.
			state.Update(true)
		}
		c.devices[d.ID] = &device{cfg: d, state: state}
	}

	if cfg.Charging.Backend == "mqtt" && cfg.Charging.MQTT.StateTopic == "" {
		// Without feedback the last commanded value is the state.
		c.charger.Update(formatAmps(cfg.Charging.MaxCurrent))
	}
	return c
}

func (c *Client) Connect() error {
	c.logger.Info("Connecting to MQTT broker...")

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("Connected to MQTT broker")
	return nil
}

func (c *Client) Disconnect() {
	c.logger.Info("Disconnecting from MQTT broker...")
	if c.client.IsConnectionOpen() {
		c.client.Publish(c.SwitchStateTopic(), 1, true, "unavailable").WaitTimeout(time.Second)
	}
	c.client.Disconnect(250)
}

// SetEnableHandler registers the callback for the enable switch command.
func (c *Client) SetEnableHandler(fn func(enabled bool)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onEnable = fn
}

func (c *Client) StateTopic() string         { return c.config.MQTT.TopicPrefix + "/state" }
func (c *Client) SwitchStateTopic() string   { return c.config.MQTT.TopicPrefix + "/switch/state" }
func (c *Client) SwitchCommandTopic() string { return c.config.MQTT.TopicPrefix + "/switch/set" }

func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info("MQTT connected, subscribing to topics...")

	for phase, sensor := range c.phases {
		c.subscribe(client, sensor.topic, c.handlePhaseMessage(phase, sensor))
	}
	for _, d := range c.devices {
		if d.cfg.StateTopic != "" {
			c.subscribe(client, d.cfg.StateTopic, c.handleDeviceMessage(d))
		}
	}
	if c.config.Charging.Backend == "mqtt" && c.config.Charging.MQTT.StateTopic != "" {
		c.subscribe(client, c.config.Charging.MQTT.StateTopic, c.handleChargerMessage)
	}
	c.subscribe(client, c.SwitchCommandTopic(), c.handleSwitchCommand)

	if err := c.sendDiscovery(client); err != nil {
		c.logger.Errorf("Failed to publish Home Assistant discovery: %v", err)
	}
}

func (c *Client) subscribe(client mqtt.Client, topic string, handler mqtt.MessageHandler) {
	if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		c.logger.Errorf("Failed to subscribe to %s: %v", topic, token.Error())
	} else {
		c.logger.Infof("Subscribed to topic: %s", topic)
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Errorf("MQTT connection lost: %v", err)
}

// publish sends payload and waits for the broker acknowledgement or ctx.
func (c *Client) publish(ctx context.Context, topic string, retained bool, payload interface{}) error {
	if !c.client.IsConnectionOpen() {
		return fmt.Errorf("publishing to %s: %w", topic, ErrNotConnected)
	}
	token := c.client.Publish(topic, 1, retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publishing to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publishing to %s: %w", topic, ctx.Err())
	}
}

func (c *Client) handlePhaseMessage(phase balancer.Phase, sensor *phaseSensor) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		state := payloadState(msg.Payload(), "current", "value", "state")
		sensor.value.UpdateAt(state, c.now())
		c.logger.Debugf("Phase L%d current updated: %s", phase, state)
	}
}

func (c *Client) handleChargerMessage(client mqtt.Client, msg mqtt.Message) {
	state := payloadState(msg.Payload(), "current", "value", "state")
	c.charger.UpdateAt(state, c.now())
	c.logger.Debugf("Charging current updated: %s", state)
}

func (c *Client) handleDeviceMessage(d *device) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		on, ok := parseSwitchState(msg.Payload(), d.cfg)
		if !ok {
			c.logger.WithField("device", d.cfg.ID).Warnf("Ignoring unrecognized switch state: %s", string(msg.Payload()))
			return
		}
		d.state.Update(on)
		c.logger.WithField("device", d.cfg.ID).Debugf("Switch state updated: on=%t", on)
	}
}

func (c *Client) handleSwitchCommand(client mqtt.Client, msg mqtt.Message) {
	payload := strings.ToUpper(strings.TrimSpace(string(msg.Payload())))
	var enabled bool
	switch payload {
	case "ON":
		enabled = true
	case "OFF":
		enabled = false
	default:
		c.logger.Warnf("Ignoring enable switch command: %q", payload)
		return
	}

	c.mutex.RLock()
	fn := c.onEnable
	c.mutex.RUnlock()
	if fn != nil {
		c.logger.Infof("Enable switch command received: %s", payload)
		fn(enabled)
	}
}

// payloadState extracts a sensor state from a bare value or from the first
// of keys present in a JSON object.
func payloadState(payload []byte, keys ...string) string {
	raw := strings.TrimSpace(string(payload))
	if strings.HasPrefix(raw, "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return raw
		}
		for _, key := range keys {
			v, ok := obj[key]
			if !ok {
				continue
			}
			switch val := v.(type) {
			case float64:
				return strconv.FormatFloat(val, 'f', -1, 64)
			case string:
				return val
			case nil:
				return models.StateUnknown
			default:
				return fmt.Sprint(val)
			}
		}
		return models.StateUnknown
	}
	return strings.Trim(raw, `"`)
}

func parseSwitchState(payload []byte, cfg config.DeviceConfig) (on, ok bool) {
	state := payloadState(payload, "state", "output", "ison")
	switch {
	case strings.EqualFold(state, cfg.PayloadOn):
		return true, true
	case strings.EqualFold(state, cfg.PayloadOff):
		return false, true
	}
	switch strings.ToLower(state) {
	case "on", "true", "1":
		return true, true
	case "off", "false", "0":
		return false, true
	}
	return false, false
}

func formatAmps(amps float64) string {
	return strconv.FormatFloat(amps, 'f', -1, 64)
}
