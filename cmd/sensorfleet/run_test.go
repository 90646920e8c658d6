package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racketlab/sensorfleet/internal/bledb"
	"github.com/racketlab/sensorfleet/internal/central"
	"github.com/racketlab/sensorfleet/internal/config"
	"github.com/racketlab/sensorfleet/internal/engine"
	"github.com/racketlab/sensorfleet/internal/position"
	"github.com/racketlab/sensorfleet/internal/recorder"
)

type fakeSubscription struct{}

func (fakeSubscription) Cancel() error { return nil }

// fakeSensor serves canned characteristic values for the session wiring
// tests.
type fakeSensor struct {
	profile      *central.Profile
	values       map[string][]byte
	disconnected chan struct{}

	mu    sync.Mutex
	reads map[string]int
}

func newFakeSensor() *fakeSensor {
	p := &fakeSensor{
		values:       make(map[string][]byte),
		reads:        make(map[string]int),
		profile:      central.NewProfile(),
		disconnected: make(chan struct{}),
	}
	p.profile.AddCharacteristic(bledb.ServiceMotion, bledb.CharMotionData, false, true)
	p.profile.AddCharacteristic(bledb.ServiceBattery, bledb.CharBatteryLevel, true, false)
	p.profile.AddCharacteristic(bledb.ServiceMotion, bledb.CharDeviceState, true, false)
	p.values[bledb.CharBatteryLevel] = []byte{0x64}
	p.values[bledb.CharDeviceState] = []byte{0x01}
	return p
}

func (p *fakeSensor) Address() string { return "AA:BB:CC:DD:EE:FF" }

func (p *fakeSensor) DiscoverProfile(context.Context) (*central.Profile, error) {
	return p.profile, nil
}

func (p *fakeSensor) RequestMTU(mtu int) (int, error) { return mtu, nil }

func (p *fakeSensor) Read(_ context.Context, _, charUUID string) ([]byte, error) {
	char := bledb.NormalizeUUID(charUUID)
	p.mu.Lock()
	p.reads[char]++
	p.mu.Unlock()
	return p.values[char], nil
}

func (p *fakeSensor) readCount(charUUID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads[bledb.NormalizeUUID(charUUID)]
}

func (p *fakeSensor) Subscribe(string, string, func(data []byte)) (central.Subscription, error) {
	return fakeSubscription{}, nil
}

func (p *fakeSensor) Disconnect() error             { return nil }
func (p *fakeSensor) Disconnected() <-chan struct{} { return p.disconnected }

func newTestFleet(t *testing.T) (*fleetSession, *recorder.Recorder) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	rec := recorder.New(recorder.Options{
		Dir:          t.TempDir(),
		SessionName:  "wiring",
		TickInterval: time.Hour,
	}, logger)
	require.NoError(t, rec.Start())

	return newFleetSession(config.Default(), rec, logger), rec
}

func readSessionRows(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var rows []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		rows = append(rows, row)
	}
	require.NoError(t, sc.Err())
	return rows
}

func deviceEvents(t *testing.T, rec *recorder.Recorder, event string) []string {
	t.Helper()
	summary, err := rec.Stop("test")
	require.NoError(t, err)

	var details []string
	for _, row := range readSessionRows(t, summary.Path) {
		if row["type"] == "device_event" && row["event"] == event {
			details = append(details, row["detail"].(string))
		}
	}
	return details
}

func TestAttachReportsVendorStepCount(t *testing.T) {
	p := newFakeSensor()
	p.profile.AddCharacteristic(bledb.ServiceMotion, bledb.CharStepCount, true, false)
	p.values[bledb.CharStepCount] = []byte{0x2A, 0x00, 0x00, 0x00} // 42 steps

	f, rec := newTestFleet(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.attach(ctx, engine.Event{
		Type:       engine.EventConnected,
		Address:    p.Address(),
		Position:   position.LeftShoe,
		Peripheral: p,
	})
	require.Eventually(t, func() bool { return p.readCount(bledb.CharStepCount) > 0 },
		2*time.Second, 10*time.Millisecond, "step reader never polled")

	f.detach(p.Address(), "disconnected", "test")

	steps := deviceEvents(t, rec, "steps")
	require.NotEmpty(t, steps, "expected a steps event row in the session log")
	assert.Equal(t, "42", steps[0])
}

func TestAttachFallsBackToRunningCadence(t *testing.T) {
	p := newFakeSensor()
	p.profile.AddCharacteristic(bledb.ServiceRunning, bledb.CharRSCMeasurement, true, false)
	p.values[bledb.CharRSCMeasurement] = []byte{0x00, 0x90, 0x01, 0xB4} // 180 spm

	f, rec := newTestFleet(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.attach(ctx, engine.Event{
		Type:       engine.EventConnected,
		Address:    p.Address(),
		Position:   position.Racket,
		Peripheral: p,
	})
	require.Eventually(t, func() bool { return p.readCount(bledb.CharRSCMeasurement) > 0 },
		2*time.Second, 10*time.Millisecond, "cadence reader never polled")

	f.detach(p.Address(), "disconnected", "test")

	cadence := deviceEvents(t, rec, "cadence")
	require.NotEmpty(t, cadence, "expected a cadence event row in the session log")
	assert.Equal(t, "180", cadence[0])
}
