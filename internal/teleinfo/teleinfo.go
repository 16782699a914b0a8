// Package teleinfo reads the French Linky/CBE "Téléinformation client"
// serial stream and exposes the instantaneous current of each phase.
package teleinfo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"dynamic-load-balancer/internal/balancer"
	"dynamic-load-balancer/internal/config"
	"dynamic-load-balancer/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const WatchdogTimeout = 1 * time.Minute

var (
	ErrBadFrame    = errors.New("bad teleinfo line")
	ErrBadChecksum = errors.New("bad teleinfo checksum")
)

// Labels carrying per-phase current: IINSTn in historic mode, IRMSn in
// standard mode. Single phase meters only send IINST.
var phaseLabels = map[string]balancer.Phase{
	"IINST":  1,
	"IINST1": 1,
	"IINST2": 2,
	"IINST3": 3,
	"IRMS1":  1,
	"IRMS2":  2,
	"IRMS3":  3,
}

type Reader struct {
	config config.SensorsConfig
	logger *logrus.Logger
	now    func() time.Time
	phases map[balancer.Phase]*models.SensorValue
}

func NewReader(cfg config.SensorsConfig, logger *logrus.Logger) *Reader {
	r := &Reader{
		config: cfg,
		logger: logger,
		now:    time.Now,
		phases: make(map[balancer.Phase]*models.SensorValue, 3),
	}
	for _, p := range []balancer.Phase{1, 2, 3} {
		r.phases[p] = models.NewSensorValue()
	}
	return r
}

// PhaseState implements balancer.PhaseReader. A phase never reported by the
// meter reads as unknown.
func (r *Reader) PhaseState(phase balancer.Phase) (string, bool) {
	sv, ok := r.phases[phase]
	if !ok {
		return "", false
	}
	return sv.State(r.now(), r.config.MaxAge), true
}

// Open opens the serial port with the teleinfo line settings (7E1).
func (r *Reader) Open() (io.ReadCloser, error) {
	c := &serial.Config{
		Name:     r.config.Teleinfo.Port,
		Baud:     r.config.Teleinfo.Baud,
		Size:     7,
		Parity:   serial.ParityEven,
		StopBits: serial.Stop1,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", r.config.Teleinfo.Port, err)
	}
	r.logger.Infof("Teleinfo: reading %s at %d baud", r.config.Teleinfo.Port, r.config.Teleinfo.Baud)
	return port, nil
}

// Run consumes lines from src until it is exhausted or ctx is done. The
// source is closed when ctx ends.
func (r *Reader) Run(ctx context.Context, src io.ReadCloser) error {
	go func() {
		<-ctx.Done()
		src.Close()
	}()

	watchdog := time.AfterFunc(WatchdogTimeout, func() {
		r.logger.Warnf("Teleinfo: no data received for %s", WatchdogTimeout)
	})
	defer watchdog.Stop()

	lnscan := bufio.NewScanner(src)
	for lnscan.Scan() {
		r.handleLine(lnscan.Text())
		watchdog.Reset(WatchdogTimeout)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := lnscan.Err(); err != nil {
		return fmt.Errorf("teleinfo read: %w", err)
	}
	return io.ErrUnexpectedEOF
}

func (r *Reader) handleLine(line string) {
	parsed, err := parseLine(line)
	if err != nil {
		r.logger.Debugf("Teleinfo: bad packet received: -->%s<-- (%v)", line, err)
		return
	}
	if parsed == nil {
		return
	}
	phase, ok := phaseLabels[parsed[0]]
	if !ok {
		return
	}
	fields := strings.Fields(parsed[1])
	r.phases[phase].UpdateAt(fields[len(fields)-1], r.now())
}

// parseLine returns label and value of a dataset line, or nil for lines too
// short to carry one.
func parseLine(line string) ([]string, error) {
	line = strings.Trim(line, "\r\n\x02\x03")
	if len(line) < 3 {
		return nil, nil
	}
	if !validChecksum(line) {
		return nil, ErrBadChecksum
	}
	line = line[:len(line)-1] // Remove checksum
	splitted := strings.Fields(line)
	if len(splitted) < 2 {
		return nil, ErrBadFrame
	}
	key := strings.Replace(splitted[0], "+", "p", -1)
	value := strings.Join(splitted[1:], " ")
	return []string{key, value}, nil
}

// validChecksum accepts both modes: historic sums up to the separator
// before the checksum (excluded), standard includes it.
func validChecksum(line string) bool {
	n := len(line)
	if n < 3 {
		return false
	}
	checksum := line[n-1]
	return checksumOf(line[:n-2]) == checksum || checksumOf(line[:n-1]) == checksum
}

func checksumOf(s string) byte {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return (sum & 0x3F) + 0x20
}

var _ balancer.PhaseReader = (*Reader)(nil)
