// Package stats consumes raw sensor packets per device and derives rolling
// rate and loss figures over a sliding time window.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	ringbuf "github.com/hedzr/go-ringbuf/v2"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// DefaultWindow is the sliding window over which the packet rate is
// measured.
const DefaultWindow = 5 * time.Second

// intakeCapacity bounds the lock-free intake ring between notification
// callbacks and window evaluation. At 200 Hz and a 5 s window this leaves
// ample headroom before the oldest arrival gets overwritten.
const intakeCapacity = 2048

// Stats is a snapshot of a device's stream health.
type Stats struct {
	MeasuredHz      float64 `json:"measured_hz"`
	LossPercent     float64 `json:"loss_percent"`
	WindowSec       float64 `json:"window_sec"`
	PacketsInWindow int     `json:"packets_in_window"`
	TotalPackets    uint64  `json:"total_packets"`
}

// Ingestor tracks packet arrivals for one device. OnPacket is safe to call
// from the notification callback while Current is read elsewhere.
type Ingestor struct {
	window     time.Duration
	expectedHz float64

	intake mpmc.RingBuffer[int64]
	total  atomic.Uint64

	mu      sync.Mutex
	samples []int64 // arrival times in unix micros, ascending
}

// NewIngestor creates an Ingestor. window <= 0 selects DefaultWindow;
// expectedHz <= 0 disables loss computation.
func NewIngestor(window time.Duration, expectedHz float64) *Ingestor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ingestor{
		window:     window,
		expectedHz: expectedHz,
		intake:     ringbuf.New[int64](intakeCapacity),
	}
}

// OnPacket records the arrival of one packet.
func (in *Ingestor) OnPacket(t time.Time) {
	in.total.Add(1)

	us := t.UnixMicro()
	if err := in.intake.Enqueue(us); err != nil {
		// Intake full: evaluation has fallen behind, drop the oldest.
		_, _ = in.intake.Dequeue()
		_ = in.intake.Enqueue(us)
	}
}

// Current evaluates and returns the windowed statistics as of now.
func (in *Ingestor) Current() Stats {
	return in.at(time.Now())
}

// at computes statistics relative to the given evaluation time.
func (in *Ingestor) at(now time.Time) Stats {
	in.mu.Lock()
	defer in.mu.Unlock()

	// Drain the intake ring into the ordered window.
	for {
		us, err := in.intake.Dequeue()
		if err != nil {
			break
		}
		in.samples = append(in.samples, us)
	}

	// Drop samples that slid out of the window.
	cutoff := now.Add(-in.window).UnixMicro()
	i := 0
	for i < len(in.samples) && in.samples[i] < cutoff {
		i++
	}
	if i > 0 {
		in.samples = append(in.samples[:0], in.samples[i:]...)
	}

	windowSec := in.window.Seconds()
	measured := float64(len(in.samples)) / windowSec

	var loss float64
	if in.expectedHz > 0 {
		loss = (1 - measured/in.expectedHz) * 100
		if loss < 0 {
			loss = 0
		}
	}

	return Stats{
		MeasuredHz:      measured,
		LossPercent:     loss,
		WindowSec:       windowSec,
		PacketsInWindow: len(in.samples),
		TotalPackets:    in.total.Load(),
	}
}
