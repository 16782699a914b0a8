package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSensorValue_State(t *testing.T) {
	now := time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC)
	sv := NewSensorValue()

	assert.Equal(t, StateUnknown, sv.State(now, time.Minute))

	sv.UpdateAt("12.3", now.Add(-30*time.Second))
	assert.Equal(t, "12.3", sv.State(now, time.Minute))
	assert.Equal(t, StateUnavailable, sv.State(now.Add(time.Minute), time.Minute))
	assert.Equal(t, "12.3", sv.State(now.Add(time.Hour), 0), "no expiry without max age")
}

func TestSwitchState(t *testing.T) {
	ss := NewSwitchState()
	_, known := ss.Get()
	assert.False(t, known)

	ss.Update(true)
	on, known := ss.Get()
	assert.True(t, on)
	assert.True(t, known)
}

func TestChargingStation_LimitCappedAtMax(t *testing.T) {
	cs := NewChargingStation("wallbox", 6, 16)
	assert.Equal(t, 16.0, cs.GetCurrentLimit())

	cs.SetCurrentLimit(40)
	assert.Equal(t, 16.0, cs.GetCurrentLimit())

	cs.SetCurrentLimit(10)
	assert.Equal(t, 10.0, cs.GetCurrentLimit())

	assert.False(t, cs.Connected())
	cs.SetConnected(true)
	assert.True(t, cs.Connected())
}
