// Package recorder serializes merged sensor streams and periodic auxiliary
// readings into one append-only NDJSON session log.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/racketlab/sensorfleet/internal/stats"
)

// DefaultFlushThreshold is the number of buffered lines that triggers a
// flush to durable storage.
const DefaultFlushThreshold = 128

// Options configures a session recording.
type Options struct {
	Dir         string
	SessionName string
	Activity    string
	AppVersion  string

	// Devices maps source tags to device identities; InitialStates maps
	// source tags to the device state known at session start.
	Devices       map[string]string
	InitialStates map[string]string

	// FlushThreshold overrides DefaultFlushThreshold when > 0.
	FlushThreshold int

	// TickInterval overrides the 1 Hz tick when > 0 (tests).
	TickInterval time.Duration
}

// Summary describes a finished session.
type Summary struct {
	Path      string
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
	Rows      int
	Bytes     int64
}

// Recorder writes the session log. All mutation happens under one mutex;
// the 1 Hz ticker goroutine takes the same lock, so rows never interleave
// mid-line regardless of which stream they came from. Rows are stamped at
// write time; cross-device ordering lives in the packet timestamps.
type Recorder struct {
	opts   Options
	logger *logrus.Logger

	mu          sync.Mutex
	file        *os.File
	path        string
	buf         []string
	rows        int
	bytes       int64
	started     bool
	paused      bool
	stopped     bool
	startedAt   time.Time
	summary     Summary
	latestStats map[string]*stats.Stats
	latestFix   *LocationFix
	lastStates  map[string]string

	tickStop chan struct{}
	tickWg   sync.WaitGroup
	stopDone chan struct{}

	now func() time.Time
}

// New creates a Recorder. Nothing touches the filesystem until Start.
func New(opts Options, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = DefaultFlushThreshold
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	return &Recorder{
		opts:        opts,
		logger:      logger,
		latestStats: make(map[string]*stats.Stats),
		lastStates:  make(map[string]string),
		stopDone:    make(chan struct{}),
		now:         time.Now,
	}
}

// Path returns the log file path, empty before Start.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// filename builds "{sessionName}__{ISO8601 with dashes for colons}.ndjson".
func (r *Recorder) filename(t time.Time) string {
	stamp := strings.ReplaceAll(t.UTC().Format("2006-01-02T15:04:05Z"), ":", "-")
	return fmt.Sprintf("%s__%s.ndjson", r.opts.SessionName, stamp)
}

// Start creates the backing file, writes the header row and arms the tick
// timer. Idempotent: a second call on a running recorder is a no-op.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	if r.stopped {
		return fmt.Errorf("recorder already stopped")
	}

	if err := os.MkdirAll(r.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	r.startedAt = r.now()
	r.path = filepath.Join(r.opts.Dir, r.filename(r.startedAt))

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating session log: %w", err)
	}
	r.file = f
	r.started = true

	for tag, state := range r.opts.InitialStates {
		r.lastStates[tag] = state
	}

	r.writeRow(headerRow{
		Type:          rowHeader,
		TS:            r.timestamp(),
		SchemaVersion: SchemaVersion,
		Session:       r.opts.SessionName,
		Activity:      r.opts.Activity,
		AppVersion:    r.opts.AppVersion,
		Devices:       r.opts.Devices,
		DeviceStates:  r.opts.InitialStates,
	})
	// Header hits the disk immediately so a crashed session still opens.
	r.flushLocked()

	r.tickStop = make(chan struct{})
	r.tickWg.Add(1)
	go r.tickLoop()

	r.logger.WithField("path", r.path).Info("Session recording started")
	return nil
}

func (r *Recorder) tickLoop() {
	defer r.tickWg.Done()

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.tickStop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.started && !r.stopped && !r.paused {
				r.writeRow(tickRow{
					Type:     rowTick,
					TS:       r.timestamp(),
					Stats:    r.latestStats,
					Location: r.latestFix,
				})
			}
			r.mu.Unlock()
		}
	}
}

// AppendBatch records a batch of packets from one source. Batches arriving
// while paused are discarded; the pause/resume event rows mark the gap.
func (r *Recorder) AppendBatch(source string, packets []Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.stopped || r.paused {
		return
	}

	for _, p := range packets {
		r.writeRow(dataRow{
			Type:   rowData,
			TS:     r.timestamp(),
			Source: source,
			Packet: p,
		})
	}
}

// SetLatestStats publishes the newest statistics for a source; the next
// tick row carries them.
func (r *Recorder) SetLatestStats(source string, s stats.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latestStats[source] = &s
}

// SetLatestLocation publishes the newest location fix.
func (r *Recorder) SetLatestLocation(fix LocationFix) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latestFix = &fix
}

// SetDeviceState tracks the last known state per source for the stop row.
func (r *Recorder) SetDeviceState(source, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastStates[source] = state
}

// EmitDeviceEvent records a device lifecycle row ("dropped",
// "reconnected", ...).
func (r *Recorder) EmitDeviceEvent(source, event, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.stopped {
		return
	}
	r.writeRow(eventRow{Type: rowDeviceEvent, TS: r.timestamp(), Source: source, Event: event, Detail: detail})
}

// EmitSessionEvent records a session lifecycle row.
func (r *Recorder) EmitSessionEvent(event, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.stopped {
		return
	}
	r.writeRow(eventRow{Type: rowSessionEvent, TS: r.timestamp(), Event: event, Detail: detail})
}

// Pause suspends data and tick rows. Idempotent.
func (r *Recorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.stopped || r.paused {
		return
	}
	r.writeRow(eventRow{Type: rowSessionEvent, TS: r.timestamp(), Event: "paused"})
	r.paused = true
}

// Resume re-enables recording after Pause. Idempotent.
func (r *Recorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.stopped || !r.paused {
		return
	}
	r.paused = false
	r.writeRow(eventRow{Type: rowSessionEvent, TS: r.timestamp(), Event: "resumed"})
}

// Stop flushes the buffer, appends the terminal stop row and closes the
// file. Subsequent calls are no-ops returning the same summary; callers
// racing the first Stop block until that summary exists.
func (r *Recorder) Stop(reason string) (Summary, error) {
	r.mu.Lock()

	if r.stopped {
		r.mu.Unlock()
		<-r.stopDone
		r.mu.Lock()
		summary := r.summary
		r.mu.Unlock()
		return summary, nil
	}
	if !r.started {
		r.mu.Unlock()
		return Summary{}, fmt.Errorf("recorder not started")
	}
	r.stopped = true
	tickStop := r.tickStop
	r.mu.Unlock()
	defer close(r.stopDone)

	// Stop the ticker outside the lock; the loop takes the same mutex.
	close(tickStop)
	r.tickWg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Totals cover everything before the terminal row.
	rows, bytes := r.rows, r.bytes

	states := make(map[string]string, len(r.lastStates))
	for k, v := range r.lastStates {
		states[k] = v
	}

	endedAt := r.now()
	r.writeRow(stopRow{
		Type:         rowStop,
		TS:           endedAt.UTC().Format(time.RFC3339Nano),
		Reason:       reason,
		Rows:         rows,
		Bytes:        bytes,
		DeviceStates: states,
	})
	r.flushLocked()

	var closeErr error
	if r.file != nil {
		closeErr = r.file.Close()
		r.file = nil
	}

	r.summary = Summary{
		Path:      r.path,
		Reason:    reason,
		StartedAt: r.startedAt,
		EndedAt:   endedAt,
		Rows:      rows,
		Bytes:     bytes,
	}

	r.logger.WithFields(logrus.Fields{
		"path":  r.path,
		"rows":  rows,
		"bytes": bytes,
	}).Info("Session recording stopped")

	return r.summary, closeErr
}

func (r *Recorder) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

// writeRow serializes a row into the line buffer. Callers hold r.mu.
// Byte accounting uses the UTF-8 length of the exact bytes written, so
// totals are reproducible across platforms.
func (r *Recorder) writeRow(row any) {
	line, err := json.Marshal(row)
	if err != nil {
		// Row shapes are fixed structs; this indicates a programming error.
		r.logger.WithError(err).Error("Failed to encode session row")
		return
	}

	r.buf = append(r.buf, string(line)+"\n")
	r.rows++
	r.bytes += int64(len(line) + 1)

	if len(r.buf) >= r.opts.FlushThreshold {
		r.flushLocked()
	}
}

// flushLocked writes buffered lines to the file. On failure the buffer is
// kept so data survives until the next attempt; sustained failure grows
// the buffer without bound, which is accepted.
func (r *Recorder) flushLocked() {
	if r.file == nil || len(r.buf) == 0 {
		return
	}

	joined := strings.Join(r.buf, "")
	if _, err := r.file.WriteString(joined); err != nil {
		r.logger.WithError(err).Error("Failed to flush session log")
		return
	}
	r.buf = r.buf[:0]
}
