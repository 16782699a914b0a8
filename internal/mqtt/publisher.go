package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"dynamic-load-balancer/internal/balancer"
	"dynamic-load-balancer/internal/homeassistant"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

type statePayload struct {
	balancer.Snapshot
	Status string `json:"status"`
}

// PublishSnapshot is a coordinator snapshot observer: it publishes the
// snapshot on the state topic and the enabled flag on the switch state
// topic, both retained. It does not wait for the broker, so a slow broker
// never delays the next cycle.
func (c *Client) PublishSnapshot(snap balancer.Snapshot) {
	b, err := json.Marshal(statePayload{Snapshot: snap, Status: snap.Status()})
	if err != nil {
		c.logger.Errorf("Failed to encode snapshot: %v", err)
		return
	}

	switchState := "OFF"
	if snap.Enabled {
		switchState = "ON"
	}
	c.publishAsync(c.StateTopic(), true, b)
	c.publishAsync(c.SwitchStateTopic(), true, switchState)
}

// publishAsync queues payload and reports the broker outcome in the
// background. Paho keeps the order of queued publications.
func (c *Client) publishAsync(topic string, retained bool, payload interface{}) {
	if !c.client.IsConnectionOpen() {
		c.logger.Debugf("Not published to %s: %v", topic, ErrNotConnected)
		return
	}
	token := c.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			c.logger.Warnf("Publishing to %s not acknowledged after %s", topic, publishTimeout)
			return
		}
		if err := token.Error(); err != nil {
			c.logger.Debugf("Publishing to %s failed: %v", topic, err)
		}
	}()
}

func (c *Client) sendDiscovery(client mqtt.Client) error {
	phases := c.config.Balancer.EnabledPhases
	topics := homeassistant.Topics{
		State:         c.StateTopic(),
		SwitchState:   c.SwitchStateTopic(),
		SwitchCommand: c.SwitchCommandTopic(),
	}
	items := homeassistant.BalancerEntities(c.config.MQTT.TopicPrefix, "Dynamic Load Balancer", topics, phases)
	if err := homeassistant.SendConfigurationToHa(client, c.config.MQTT.DiscoveryPrefix, items, c.config.MQTT.TopicPrefix); err != nil {
		return err
	}
	c.logger.Infof("Published %d Home Assistant discovery entities", len(items))
	return nil
}

// Notifier is the local alert channel: alerts are published, not retained,
// on mqtt.notify_topic.
type Notifier struct {
	client *Client
	topic  string
}

func (c *Client) Notifier() *Notifier {
	return &Notifier{client: c, topic: c.config.MQTT.NotifyTopic}
}

type alertMessage struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Target  string    `json:"target,omitempty"`
	Time    time.Time `json:"time"`
}

func (n *Notifier) Name() string { return "mqtt" }

func (n *Notifier) Send(ctx context.Context, alert balancer.Alert) error {
	b, err := json.Marshal(alertMessage{
		Title:   alert.Title,
		Message: alert.Message,
		Target:  alert.Target,
		Time:    n.client.now(),
	})
	if err != nil {
		return err
	}
	return n.client.publish(ctx, n.topic, false, b)
}

var _ balancer.AlertChannel = (*Notifier)(nil)
