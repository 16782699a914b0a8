package balancer

import (
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Sampler turns raw sensor states into per-phase readings.
type Sampler struct {
	reader PhaseReader
	logger *logrus.Logger
}

func NewSampler(reader PhaseReader, logger *logrus.Logger) *Sampler {
	return &Sampler{reader: reader, logger: logger}
}

// Sample reads every enabled phase that has a sensor. Unknown, unavailable
// and unparsable states yield an unknown reading; they are never an error.
func (s *Sampler) Sample(phases []Phase) Readings {
	readings := make(Readings, len(phases))
	for _, phase := range phases {
		raw, ok := s.reader.PhaseState(phase)
		if !ok {
			continue
		}
		amps, known := parseCurrent(raw)
		if !known {
			s.logger.Warnf("Invalid current value for phase %d: %q", phase, raw)
		}
		readings[phase] = Reading{Amps: amps, Known: known}
	}
	return readings
}

func parseCurrent(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", "unknown", "unavailable":
		return 0, false
	}
	amps, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(amps) || math.IsInf(amps, 0) {
		return 0, false
	}
	return amps, true
}
