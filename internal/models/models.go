package models

import (
	"sync"
	"time"
)

// Raw sensor states reported when no usable value is available.
const (
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
)

// SensorValue is the last raw state received for a sensor.
type SensorValue struct {
	Value     string
	Timestamp time.Time
	mutex     sync.RWMutex
}

func NewSensorValue() *SensorValue {
	return &SensorValue{}
}

func (sv *SensorValue) Update(value string) {
	sv.UpdateAt(value, time.Now())
}

func (sv *SensorValue) UpdateAt(value string, at time.Time) {
	sv.mutex.Lock()
	defer sv.mutex.Unlock()
	sv.Value = value
	sv.Timestamp = at
}

func (sv *SensorValue) Get() (string, time.Time) {
	sv.mutex.RLock()
	defer sv.mutex.RUnlock()
	return sv.Value, sv.Timestamp
}

// State returns the value as a sensor state: unknown before the first
// update and unavailable once older than maxAge (maxAge <= 0 never expires).
func (sv *SensorValue) State(now time.Time, maxAge time.Duration) string {
	value, ts := sv.Get()
	switch {
	case ts.IsZero():
		return StateUnknown
	case maxAge > 0 && now.Sub(ts) > maxAge:
		return StateUnavailable
	}
	return value
}

// SwitchState is the last known on/off state of a device.
type SwitchState struct {
	On        bool
	Known     bool
	Timestamp time.Time
	mutex     sync.RWMutex
}

func NewSwitchState() *SwitchState {
	return &SwitchState{}
}

func (ss *SwitchState) Update(on bool) {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()
	ss.On = on
	ss.Known = true
	ss.Timestamp = time.Now()
}

func (ss *SwitchState) Get() (on, known bool) {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()
	return ss.On, ss.Known
}

// ChargingStation is an OCPP charge point and the current limit it was last
// given.
type ChargingStation struct {
	ID            string
	IsConnected   bool
	Status        string
	CurrentLimit  float64
	MinCurrent    float64
	MaxCurrent    float64
	LastHeartbeat time.Time
	mutex         sync.RWMutex
}

// NewChargingStation starts with the limit at maxCurrent, the value a station
// applies before it receives any charging profile.
func NewChargingStation(id string, minCurrent, maxCurrent float64) *ChargingStation {
	return &ChargingStation{
		ID:           id,
		IsConnected:  false,
		CurrentLimit: maxCurrent,
		MinCurrent:   minCurrent,
		MaxCurrent:   maxCurrent,
	}
}

func (cs *ChargingStation) SetConnected(connected bool) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.IsConnected = connected
	if connected {
		cs.LastHeartbeat = time.Now()
	}
}

func (cs *ChargingStation) Heartbeat() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.LastHeartbeat = time.Now()
}

func (cs *ChargingStation) SetStatus(status string) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.Status = status
}

func (cs *ChargingStation) SetCurrentLimit(limit float64) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	if limit > cs.MaxCurrent {
		limit = cs.MaxCurrent
	}
	cs.CurrentLimit = limit
}

func (cs *ChargingStation) GetCurrentLimit() float64 {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	return cs.CurrentLimit
}

func (cs *ChargingStation) Connected() bool {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	return cs.IsConnected
}

func (cs *ChargingStation) GetStatus() string {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	return cs.Status
}
