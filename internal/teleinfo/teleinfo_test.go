package teleinfo

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"dynamic-load-balancer/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReader(now time.Time) *Reader {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	r := NewReader(config.SensorsConfig{MaxAge: time.Minute}, logger)
	r.now = func() time.Time { return now }
	return r
}

func TestParseLine(t *testing.T) {
	res, err := parseLine("ADCO 021456863 *")
	require.NoError(t, err)
	assert.Equal(t, []string{"ADCO", "021456863"}, res)

	res, err = parseLine("IRMS1\t014\t3")
	require.NoError(t, err)
	assert.Equal(t, []string{"IRMS1", "014"}, res)

	_, err = parseLine("IINST1 008 Q")
	assert.ErrorIs(t, err, ErrBadChecksum)

	res, err = parseLine("\r")
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestReader_Run(t *testing.T) {
	now := time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC)
	r := newTestReader(now)

	frame := "\x02\nADCO 021456863 *\r\n" +
		"IINST1 008 P\r\n" +
		"IINST2 012 L\r\n" +
		"IINST3 000 X\r\n" + // corrupted
		"\x03\n"
	err := r.Run(context.Background(), io.NopCloser(strings.NewReader(frame)))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	state, ok := r.PhaseState(1)
	assert.True(t, ok)
	assert.Equal(t, "008", state)
	state, _ = r.PhaseState(2)
	assert.Equal(t, "012", state)
	state, _ = r.PhaseState(3)
	assert.Equal(t, "unknown", state, "corrupted line ignored")

	_, ok = r.PhaseState(4)
	assert.False(t, ok)

	r.now = func() time.Time { return now.Add(2 * time.Minute) }
	state, _ = r.PhaseState(1)
	assert.Equal(t, "unavailable", state)
}

func TestReader_SinglePhaseMeter(t *testing.T) {
	r := newTestReader(time.Now())
	r.handleLine("IINST 023 \\")

	state, _ := r.PhaseState(1)
	assert.Equal(t, "023", state)
}

func TestReader_RunStopsOnCancel(t *testing.T) {
	r := newTestReader(time.Now())
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, pr) }()

	_, err := pw.Write([]byte("IINST1 008 P\r\n"))
	require.NoError(t, err)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	state, _ := r.PhaseState(1)
	assert.Equal(t, "008", state)
}
