package homeassistant

import "encoding/json"

type Unit int64

const (
	None Unit = iota
	A
	W
	Seconds
)

func (s Unit) String() string {
	switch s {
	case None:
		return ""
	case A:
		return "A"
	case W:
		return "W"
	case Seconds:
		return "s"
	}
	return "unknown"
}

func (s Unit) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
