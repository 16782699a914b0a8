package homeassistant

import "encoding/json"

type DeviceClass int64

const (
	NoDeviceClass DeviceClass = iota
	Current
	Power
	Timestamp
	Problem
	Running
)

func (s DeviceClass) String() string {
	switch s {
	case NoDeviceClass:
		return ""
	case Current:
		return "current"
	case Power:
		return "power"
	case Timestamp:
		return "timestamp"
	case Problem:
		return "problem"
	case Running:
		return "running"
	}
	return "unknown"
}

func (s DeviceClass) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
