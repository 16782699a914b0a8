package balancer

import (
	"context"
	"errors"
)

// PhaseReader gives access to the raw state of the current sensor bound to a
// phase. ok is false when no sensor is configured for that phase.
type PhaseReader interface {
	PhaseState(phase Phase) (state string, ok bool)
}

// ChargerState describes a charging-current actuator at the time it was read.
// A zero Max or Step means the actuator does not report it.
type ChargerState struct {
	Value float64
	Min   float64
	Max   float64
	Step  float64
}

// Defaults substituted when the charging actuator omits its limits.
const (
	DefaultChargerMin  = 5.0
	DefaultChargerMax  = 32.0
	DefaultChargerStep = 1.0
)

func (cs ChargerState) withDefaults() ChargerState {
	if cs.Max <= 0 {
		cs.Max = DefaultChargerMax
	}
	if cs.Step <= 0 {
		cs.Step = DefaultChargerStep
	}
	if cs.Min < 0 || cs.Min > cs.Max {
		cs.Min = DefaultChargerMin
	}
	return cs
}

// ChargingActuator is the fine-grained load control, typically an EV charger
// current limit.
type ChargingActuator interface {
	ChargerState(ctx context.Context) (ChargerState, error)
	SetCurrent(ctx context.Context, amps float64) error
}

// DeviceSwitch turns sheddable devices on and off.
type DeviceSwitch interface {
	IsOn(ctx context.Context, device string) (bool, error)
	TurnOn(ctx context.Context, device string) error
	TurnOff(ctx context.Context, device string) error
}

// Alert is one overload notification.
type Alert struct {
	Title   string
	Message string
	// Target is the user-facing recipient; empty for the local channel.
	Target string
}

// AlertChannel delivers alerts on a best-effort basis.
type AlertChannel interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// ErrStateUnavailable is returned by actuators whose state is unknown.
var ErrStateUnavailable = errors.New("state unavailable")
