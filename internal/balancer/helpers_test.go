package balancer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Disable logs for tests
	return logger
}

var baseTime = time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return baseTime.Add(time.Duration(seconds) * time.Second)
}

type fakeReader map[Phase]string

func (f fakeReader) PhaseState(phase Phase) (string, bool) {
	s, ok := f[phase]
	return s, ok
}

type fakeCharger struct {
	state    ChargerState
	stateErr error
	setErr   error
	sets     []float64
}

func (f *fakeCharger) ChargerState(ctx context.Context) (ChargerState, error) {
	if f.stateErr != nil {
		return ChargerState{}, f.stateErr
	}
	return f.state, nil
}

func (f *fakeCharger) SetCurrent(ctx context.Context, amps float64) error {
	f.sets = append(f.sets, amps)
	if f.setErr != nil {
		return f.setErr
	}
	f.state.Value = amps
	return nil
}

type fakeSwitches struct {
	on        map[string]bool
	stateErr  map[string]error
	onErr     map[string]error
	offErr    map[string]error
	turnedOn  []string
	turnedOff []string
}

func newFakeSwitches(on map[string]bool) *fakeSwitches {
	return &fakeSwitches{
		on:       on,
		stateErr: map[string]error{},
		onErr:    map[string]error{},
		offErr:   map[string]error{},
	}
}

func (f *fakeSwitches) IsOn(ctx context.Context, device string) (bool, error) {
	if err := f.stateErr[device]; err != nil {
		return false, err
	}
	return f.on[device], nil
}

func (f *fakeSwitches) TurnOn(ctx context.Context, device string) error {
	f.turnedOn = append(f.turnedOn, device)
	if err := f.onErr[device]; err != nil {
		return err
	}
	f.on[device] = true
	return nil
}

func (f *fakeSwitches) TurnOff(ctx context.Context, device string) error {
	f.turnedOff = append(f.turnedOff, device)
	if err := f.offErr[device]; err != nil {
		return err
	}
	f.on[device] = false
	return nil
}

type mockChannel struct {
	mock.Mock
	name string
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Send(ctx context.Context, alert Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// testSettings returns fuse 25A at medium aggressiveness: trigger 22.5A.
func testSettings() Settings {
	s := DefaultSettings()
	s.Phases = []Phase{1, 2, 3}
	s.SpikeFilter = 5 * time.Second
	s.NotifyEnabled = false
	return s
}

func newTestCoordinator(t *testing.T, settings Settings, deps Dependencies) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(settings, deps, testLogger())
	require.NoError(t, err)
	return c
}

// overload drives the coordinator into a confirmed overload: the window
// opens at start and becomes sustained 5 seconds later.
func overload(t *testing.T, c *Coordinator, reader fakeReader, amps string, start int) Snapshot {
	t.Helper()
	reader[1] = amps
	c.Tick(context.Background(), at(start))
	snap := c.Tick(context.Background(), at(start+5))
	require.NotEmpty(t, snap.SustainedOverloads)
	return snap
}
