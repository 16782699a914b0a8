package mqtt

import (
	"context"
	"fmt"
	"strconv"

	"dynamic-load-balancer/internal/balancer"
)

// PhaseState implements balancer.PhaseReader for the configured phase
// topics. Values older than sensors.max_age read as unavailable.
func (c *Client) PhaseState(phase balancer.Phase) (string, bool) {
	sensor, ok := c.phases[phase]
	if !ok {
		return "", false
	}
	return sensor.value.State(c.now(), c.config.Sensors.MaxAge), true
}

// IsOn implements balancer.DeviceSwitch.
func (c *Client) IsOn(ctx context.Context, id string) (bool, error) {
	d, ok := c.devices[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	on, known := d.state.Get()
	if !known {
		return false, fmt.Errorf("device %s: %w", id, ErrNoState)
	}
	return on, nil
}

func (c *Client) TurnOn(ctx context.Context, id string) error {
	return c.setDevice(ctx, id, true)
}

func (c *Client) TurnOff(ctx context.Context, id string) error {
	return c.setDevice(ctx, id, false)
}

func (c *Client) setDevice(ctx context.Context, id string, on bool) error {
	d, ok := c.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	payload := d.cfg.PayloadOff
	if on {
		payload = d.cfg.PayloadOn
	}
	if err := c.publish(ctx, d.cfg.CommandTopic, false, payload); err != nil {
		return err
	}
	// Optimistic until the device reports on its state topic.
	d.state.Update(on)
	return nil
}

// Charger is the charging-current actuator driven over MQTT.
type Charger struct {
	client *Client
}

func (c *Client) Charger() *Charger {
	return &Charger{client: c}
}

func (ch *Charger) ChargerState(ctx context.Context) (balancer.ChargerState, error) {
	cfg := ch.client.config.Charging
	// Chargers usually only publish on change, so the value never expires.
	raw := ch.client.charger.State(ch.client.now(), 0)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return balancer.ChargerState{}, fmt.Errorf("charging current %q: %w", raw, balancer.ErrStateUnavailable)
	}
	return balancer.ChargerState{
		Value: value,
		Min:   cfg.MinCurrent,
		Max:   cfg.MaxCurrent,
		Step:  cfg.Step,
	}, nil
}

func (ch *Charger) SetCurrent(ctx context.Context, amps float64) error {
	payload := formatAmps(amps)
	if err := ch.client.publish(ctx, ch.client.config.Charging.MQTT.CommandTopic, false, payload); err != nil {
		return err
	}
	if ch.client.config.Charging.MQTT.StateTopic == "" {
		ch.client.charger.Update(payload)
	}
	return nil
}

var _ balancer.PhaseReader = (*Client)(nil)
var _ balancer.DeviceSwitch = (*Client)(nil)
var _ balancer.ChargingActuator = (*Charger)(nil)
