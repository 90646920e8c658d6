// Package engine owns the scan/connect/disconnect lifecycle of the sensor
// fleet. One state machine per device, exponential-backoff reconnection,
// and a process-wide scan scheduler that keeps hunting until the fleet is
// complete.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/racketlab/sensorfleet/internal/bledb"
	"github.com/racketlab/sensorfleet/internal/central"
	"github.com/racketlab/sensorfleet/internal/position"
	"github.com/racketlab/sensorfleet/internal/posstore"
	"github.com/racketlab/sensorfleet/internal/ringchan"
)

// Phase is one device's place in the connection lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseDiscovering
	PhaseReady
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseDiscovering:
		return "discovering"
	case PhaseReady:
		return "ready"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Options tunes the engine. Zero values select the defaults documented on
// each field.
type Options struct {
	// FleetSize is the number of positions to fill (default 3). Scanning
	// stops once this many devices are Ready.
	FleetSize int

	// PowerOnDelay is the wait between the adapter reporting powered-on
	// and the first scan (default 2s).
	PowerOnDelay time.Duration

	// ScanWindow is the duration of one scan cycle (default 15s);
	// ScanInterval is the spacing between cycle starts (default 30s).
	ScanWindow   time.Duration
	ScanInterval time.Duration

	// BackoffBase and BackoffCap shape the reconnect delay
	// min(cap, base << attempt) (defaults 1s and 30s).
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// DiscoveryRetries bounds immediate discovery attempts before the
	// device falls back to the backoff timer (default 3).
	DiscoveryRetries int

	// MTU is the transfer unit requested after discovery (default 185).
	// Negotiation failure is non-fatal.
	MTU int

	// Retention is how long stale store entries survive the startup
	// prune (default 30 days).
	Retention time.Duration

	// ServiceFilter restricts scanning to devices advertising one of
	// these services (default: the motion service).
	ServiceFilter []string

	// DisableAutoScan turns the periodic scan scheduler off; scans then
	// only run via ScanNow.
	DisableAutoScan bool
}

func (o *Options) fillDefaults() {
	if o.FleetSize <= 0 {
		o.FleetSize = 3
	}
	if o.PowerOnDelay <= 0 {
		o.PowerOnDelay = 2 * time.Second
	}
	if o.ScanWindow <= 0 {
		o.ScanWindow = 15 * time.Second
	}
	if o.ScanInterval <= 0 {
		o.ScanInterval = 30 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 30 * time.Second
	}
	if o.DiscoveryRetries <= 0 {
		o.DiscoveryRetries = 3
	}
	if o.MTU <= 0 {
		o.MTU = 185
	}
	if o.Retention <= 0 {
		o.Retention = 30 * 24 * time.Hour
	}
	if len(o.ServiceFilter) == 0 {
		o.ServiceFilter = []string{bledb.ServiceMotion}
	}
}

// tracked is the engine's record of one device. All fields are guarded by
// Engine.mu; session invalidates in-flight async work (a connect or
// discovery result whose handle no longer matches is stale and dropped).
type tracked struct {
	address string
	name    string

	phase      Phase
	pos        position.Position
	attempt    int
	session    uint64
	everReady  bool
	readyAt    time.Time
	peripheral central.Peripheral
	profile    *central.Profile
	retry      *time.Timer
}

// DeviceStatus is a point-in-time copy of one tracked device, safe to
// hand to consumers.
type DeviceStatus struct {
	Address  string
	Name     string
	Phase    Phase
	Position position.Position
	Attempt  int
	ReadyAt  time.Time
}

// Engine drives the fleet. Create with New, then Start; consume lifecycle
// events from Events.
type Engine struct {
	central central.Central
	store   *posstore.Store
	logger  *logrus.Logger
	opts    Options

	mu          sync.Mutex
	devices     *hashmap.Map[string, *tracked]
	nextSession uint64
	autoScan    bool
	scanActive  bool
	scanCancel  context.CancelFunc
	stopped     bool

	// cmdWg tracks command calls in flight so Stop can close the event
	// channel only after the last command has finished sending.
	cmdWg sync.WaitGroup

	events   *ringchan.RingChannel[Event]
	scanKick chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates an Engine. opts zero values select defaults; the periodic
// scan scheduler is enabled unless DisableAutoScan is set.
func New(c central.Central, store *posstore.Store, logger *logrus.Logger, opts Options) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	opts.fillDefaults()
	return &Engine{
		central:  c,
		store:    store,
		logger:   logger,
		opts:     opts,
		devices:  hashmap.New[string, *tracked](),
		autoScan: true,
		events:   ringchan.New[Event](64),
		scanKick: make(chan struct{}, 1),
	}
}

// Events delivers device lifecycle events. The channel drops the oldest
// event under backpressure rather than blocking the state machine.
func (e *Engine) Events() <-chan Event {
	return e.events.C()
}

// Start prunes the store and begins watching adapter power state. The
// first scan fires PowerOnDelay after the adapter reports powered-on.
func (e *Engine) Start(ctx context.Context) error {
	var err error
	e.startOnce.Do(func() {
		e.mu.Lock()
		e.ctx, e.cancel = context.WithCancel(ctx)
		e.mu.Unlock()

		pruned, perr := e.store.PruneOlderThan(e.ctx, e.opts.Retention, nil)
		if perr != nil {
			err = fmt.Errorf("pruning position store: %w", perr)
			return
		}
		if pruned > 0 {
			e.logger.WithField("removed", pruned).Info("Pruned stale position entries")
		}

		if e.opts.DisableAutoScan {
			e.mu.Lock()
			e.autoScan = false
			e.mu.Unlock()
		}

		e.wg.Add(1)
		go e.powerLoop()
	})
	return err
}

// Stop tears everything down: cancels scans and retry timers, disconnects
// live links and closes the event channel. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()

		if e.cancel != nil {
			e.cancel()
		}

		e.mu.Lock()
		var peripherals []central.Peripheral
		e.devices.Range(func(_ string, t *tracked) bool {
			t.session = e.bumpSessionLocked()
			if t.retry != nil {
				t.retry.Stop()
				t.retry = nil
			}
			if t.peripheral != nil {
				peripherals = append(peripherals, t.peripheral)
				t.peripheral = nil
			}
			t.phase = PhaseIdle
			return true
		})
		e.mu.Unlock()

		for _, p := range peripherals {
			if err := p.Disconnect(); err != nil {
				e.logger.WithError(err).Debug("Disconnect during shutdown")
			}
		}

		e.wg.Wait()
		e.cmdWg.Wait()
		e.events.Close()
	})
}

// beginCommandLocked registers a command call while the engine is
// running, so its event sends cannot race the shutdown. Callers must hold
// e.mu and pair a true return with a deferred cmdWg.Done.
func (e *Engine) beginCommandLocked() bool {
	if e.stopped {
		return false
	}
	e.cmdWg.Add(1)
	return true
}

func (e *Engine) bumpSessionLocked() uint64 {
	e.nextSession++
	return e.nextSession
}

// backoffDelay returns min(cap, base << attempt).
func (e *Engine) backoffDelay(attempt int) time.Duration {
	if attempt >= 31 {
		return e.opts.BackoffCap
	}
	d := e.opts.BackoffBase << uint(attempt)
	if d <= 0 || d > e.opts.BackoffCap {
		return e.opts.BackoffCap
	}
	return d
}

//
// Scan scheduling
//

func (e *Engine) powerLoop() {
	defer e.wg.Done()

	var schedulerRunning bool
	for {
		select {
		case <-e.ctx.Done():
			return
		case state, ok := <-e.central.PowerStateC():
			if !ok {
				return
			}
			e.logger.WithField("state", state.String()).Debug("Adapter power state")
			switch state {
			case central.PowerOn:
				if !schedulerRunning {
					schedulerRunning = true
					e.wg.Add(1)
					go e.scanScheduler()
				} else {
					e.kickScan()
				}
			case central.PowerOff:
				e.StopScan()
			}
		}
	}
}

func (e *Engine) scanScheduler() {
	defer e.wg.Done()

	select {
	case <-e.ctx.Done():
		return
	case <-time.After(e.opts.PowerOnDelay):
	}

	e.maybeScan(false)
	ticker := time.NewTicker(e.opts.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.maybeScan(false)
		case <-e.scanKick:
			e.maybeScan(false)
		}
	}
}

func (e *Engine) kickScan() {
	select {
	case e.scanKick <- struct{}{}:
	default:
	}
}

// maybeScan starts a scan cycle unless one is already active or the fleet
// is complete. force bypasses the auto-scan setting, not the gate.
func (e *Engine) maybeScan(force bool) {
	e.mu.Lock()
	if e.ctx == nil || e.stopped || e.scanActive || (!e.autoScan && !force) ||
		e.readyCountLocked() >= e.opts.FleetSize {
		e.mu.Unlock()
		return
	}
	e.scanActive = true
	sctx, cancel := context.WithTimeout(e.ctx, e.opts.ScanWindow)
	e.scanCancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		e.logger.WithField("window", e.opts.ScanWindow.String()).Debug("Scan cycle started")
		if err := e.central.Scan(sctx, e.opts.ServiceFilter, e.handleAdvertisement); err != nil {
			e.logger.WithError(err).Warn("Scan cycle failed")
		}

		e.mu.Lock()
		e.scanActive = false
		e.scanCancel = nil
		e.mu.Unlock()
	}()
}

// ScanNow starts a scan cycle immediately, regardless of the auto-scan
// setting. No-op while a scan is already running.
func (e *Engine) ScanNow() {
	e.maybeScan(true)
}

// StopScan cancels the active scan cycle, if any.
func (e *Engine) StopScan() {
	e.mu.Lock()
	cancel := e.scanCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetAutoScan enables or disables the periodic scan scheduler. Disabling
// lets the current cycle finish.
func (e *Engine) SetAutoScan(on bool) {
	e.mu.Lock()
	e.autoScan = on
	e.mu.Unlock()
	if on {
		e.kickScan()
	}
}

func (e *Engine) readyCountLocked() int {
	n := 0
	e.devices.Range(func(_ string, t *tracked) bool {
		if t.phase == PhaseReady {
			n++
		}
		return true
	})
	return n
}

//
// Connection lifecycle
//

func (e *Engine) handleAdvertisement(adv central.Advertisement) {
	if !adv.Connectable() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.devices.Get(adv.Addr())
	if !ok {
		t = &tracked{address: adv.Addr(), name: adv.LocalName(), phase: PhaseIdle}
		e.devices.Set(adv.Addr(), t)
	}
	if adv.LocalName() != "" {
		t.name = adv.LocalName()
	}

	switch t.phase {
	case PhaseIdle, PhaseDisconnected:
		// The device is in range right now; an armed backoff timer
		// just delays the inevitable.
		if t.retry != nil {
			t.retry.Stop()
			t.retry = nil
		}
		e.startConnectLocked(t)
	}
}

func (e *Engine) startConnectLocked(t *tracked) {
	t.phase = PhaseConnecting
	t.session = e.bumpSessionLocked()
	handle := t.session

	e.logger.WithFields(logrus.Fields{
		"address": t.address,
		"attempt": t.attempt,
	}).Debug("Connecting")

	e.wg.Add(1)
	go e.connectFlow(t.address, handle)
}

func (e *Engine) connectFlow(address string, handle uint64) {
	defer e.wg.Done()

	p, err := e.central.Connect(e.ctx, address)
	if err != nil {
		e.connectFailed(address, handle, err)
		return
	}

	if !e.advancePhase(address, handle, PhaseDiscovering) {
		_ = p.Disconnect()
		return
	}

	var profile *central.Profile
	for i := 0; i < e.opts.DiscoveryRetries; i++ {
		profile, err = p.DiscoverProfile(e.ctx)
		if err == nil {
			break
		}
		if e.ctx.Err() != nil {
			_ = p.Disconnect()
			return
		}
	}
	if err != nil {
		_ = p.Disconnect()
		e.connectFailed(address, handle, err)
		return
	}

	if granted, merr := p.RequestMTU(e.opts.MTU); merr != nil {
		e.logger.WithError(merr).WithField("address", address).Debug("MTU negotiation failed, keeping default")
	} else {
		e.logger.WithFields(logrus.Fields{"address": address, "mtu": granted}).Debug("MTU negotiated")
	}

	e.becomeReady(address, handle, p, profile)
}

// advancePhase moves the device to next if its session handle is still
// current. Returns false when the result is stale.
func (e *Engine) advancePhase(address string, handle uint64, next Phase) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.devices.Get(address)
	if !ok || t.session != handle {
		return false
	}
	t.phase = next
	return true
}

func (e *Engine) connectFailed(address string, handle uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.devices.Get(address)
	if !ok || t.session != handle {
		return
	}

	delay := e.backoffDelay(t.attempt)
	e.logger.WithError(err).WithFields(logrus.Fields{
		"address": address,
		"attempt": t.attempt,
		"retryIn": delay.String(),
	}).Debug("Connect attempt failed")

	t.phase = PhaseDisconnected
	t.attempt++
	e.scheduleRetryLocked(t, delay)
}

func (e *Engine) scheduleRetryLocked(t *tracked, delay time.Duration) {
	address := t.address
	t.retry = time.AfterFunc(delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.ctx.Err() != nil {
			return
		}
		t, ok := e.devices.Get(address)
		if !ok || t.phase != PhaseDisconnected {
			return
		}
		t.retry = nil
		e.startConnectLocked(t)
	})
}

func (e *Engine) becomeReady(address string, handle uint64, p central.Peripheral, profile *central.Profile) {
	e.mu.Lock()

	t, ok := e.devices.Get(address)
	if !ok || t.session != handle {
		e.mu.Unlock()
		_ = p.Disconnect()
		return
	}

	reconnected := t.everReady
	t.phase = PhaseReady
	t.everReady = true
	t.attempt = 0
	t.readyAt = time.Now()
	t.peripheral = p
	t.profile = profile
	t.pos = position.None

	t.pos = e.assignLocked(t)

	ev := Event{
		Type:       EventConnected,
		Address:    address,
		Name:       t.name,
		Position:   t.pos,
		Peripheral: p,
	}
	if reconnected {
		ev.Type = EventReconnected
	}

	fleetComplete := e.readyCountLocked() >= e.opts.FleetSize
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"address":  address,
		"name":     ev.Name,
		"position": ev.Position.String(),
	}).Info("Device ready")
	e.events.Send(ev)

	if fleetComplete {
		e.StopScan()
	}

	e.wg.Add(1)
	go e.watchDisconnect(address, handle, p)
}

// assignLocked runs the position policy for a device that just reached
// Ready and persists the outcome.
func (e *Engine) assignLocked(t *tracked) position.Position {
	occupancy := e.occupancyLocked()

	persisted, err := e.store.Get(e.ctx, t.address)
	if err != nil && !errors.Is(err, posstore.ErrNotFound) {
		e.logger.WithError(err).WithField("address", t.address).Warn("Position store lookup failed")
	}

	pos := position.Assign(t.address, occupancy, persisted)
	if pos != position.None {
		if err := e.store.Put(e.ctx, t.address, pos, time.Now()); err != nil {
			e.logger.WithError(err).WithField("address", t.address).Warn("Position store update failed")
		}
	}
	return pos
}

// occupancyLocked maps assigned positions to the Ready devices holding
// them. Devices that dropped keep their sticky claim in the store, not in
// live occupancy.
func (e *Engine) occupancyLocked() map[position.Position]string {
	occ := make(map[position.Position]string)
	e.devices.Range(func(_ string, t *tracked) bool {
		if t.phase == PhaseReady && t.pos != position.None {
			occ[t.pos] = t.address
		}
		return true
	})
	return occ
}

func (e *Engine) watchDisconnect(address string, handle uint64, p central.Peripheral) {
	defer e.wg.Done()

	select {
	case <-e.ctx.Done():
		return
	case <-p.Disconnected():
	}

	e.mu.Lock()
	t, ok := e.devices.Get(address)
	if !ok || t.session != handle {
		e.mu.Unlock()
		return
	}

	freed := t.pos != position.None
	t.phase = PhaseDisconnected
	t.peripheral = nil
	t.profile = nil
	t.pos = position.None

	delay := e.backoffDelay(t.attempt)
	attempt := t.attempt
	t.attempt++
	e.scheduleRetryLocked(t, delay)

	var promoted []Event
	if freed {
		promoted = e.fillVacanciesLocked()
	}
	name := t.name
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"address": address,
		"retryIn": delay.String(),
	}).Warn("Device link lost")

	e.events.Send(Event{Type: EventDropped, Address: address, Name: name, Attempt: attempt})
	for _, ev := range promoted {
		e.events.Send(ev)
	}
	e.kickScan()
}

// fillVacanciesLocked promotes connected-but-unassigned devices into freed
// positions, oldest Ready first. Returns the reassignment events to emit
// after the lock is released.
func (e *Engine) fillVacanciesLocked() []Event {
	var events []Event
	for {
		occupancy := e.occupancyLocked()

		var oldest *tracked
		e.devices.Range(func(_ string, t *tracked) bool {
			if t.phase == PhaseReady && t.pos == position.None {
				if oldest == nil || t.readyAt.Before(oldest.readyAt) {
					oldest = t
				}
			}
			return true
		})
		if oldest == nil {
			return events
		}

		persisted, err := e.store.Get(e.ctx, oldest.address)
		if err != nil && !errors.Is(err, posstore.ErrNotFound) {
			e.logger.WithError(err).WithField("address", oldest.address).Warn("Position store lookup failed")
		}

		pos := position.Assign(oldest.address, occupancy, persisted)
		if pos == position.None {
			return events
		}

		oldest.pos = pos
		if err := e.store.Put(e.ctx, oldest.address, pos, time.Now()); err != nil {
			e.logger.WithError(err).WithField("address", oldest.address).Warn("Position store update failed")
		}
		events = append(events, Event{
			Type:     EventReassigned,
			Address:  oldest.address,
			Name:     oldest.name,
			Position: pos,
		})
	}
}

//
// Commands
//

var (
	ErrUnknownDevice = errors.New("device not tracked")
	ErrStopped       = errors.New("engine stopped")
)

// Disconnect tears down a device's link on request. The device stays
// tracked but no retry timer is armed; a later scan hit reconnects it.
func (e *Engine) Disconnect(address string) error {
	e.mu.Lock()
	if !e.beginCommandLocked() {
		e.mu.Unlock()
		return ErrStopped
	}
	defer e.cmdWg.Done()

	t, ok := e.devices.Get(address)
	if !ok {
		e.mu.Unlock()
		return ErrUnknownDevice
	}

	t.session = e.bumpSessionLocked()
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
	p := t.peripheral
	freed := t.pos != position.None
	t.peripheral = nil
	t.profile = nil
	t.phase = PhaseIdle
	t.attempt = 0
	t.pos = position.None
	name := t.name

	var promoted []Event
	if freed {
		promoted = e.fillVacanciesLocked()
	}
	e.mu.Unlock()

	if p != nil {
		if err := p.Disconnect(); err != nil {
			e.logger.WithError(err).WithField("address", address).Debug("Disconnect")
		}
	}

	e.events.Send(Event{Type: EventDisconnected, Address: address, Name: name})
	for _, ev := range promoted {
		e.events.Send(ev)
	}
	e.kickScan()
	return nil
}

// Forget drops a device from tracking and removes its persisted position.
// In-flight work for the device is invalidated and its timers canceled.
func (e *Engine) Forget(ctx context.Context, address string) error {
	e.mu.Lock()
	if !e.beginCommandLocked() {
		e.mu.Unlock()
		return ErrStopped
	}
	defer e.cmdWg.Done()

	t, ok := e.devices.Get(address)
	if !ok {
		e.mu.Unlock()
		return ErrUnknownDevice
	}

	t.session = e.bumpSessionLocked()
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
	p := t.peripheral
	freed := t.pos != position.None
	e.devices.Del(address)

	var promoted []Event
	if freed {
		promoted = e.fillVacanciesLocked()
	}
	name := t.name
	e.mu.Unlock()

	if p != nil {
		if err := p.Disconnect(); err != nil {
			e.logger.WithError(err).WithField("address", address).Debug("Disconnect")
		}
	}
	if err := e.store.Delete(ctx, address); err != nil {
		return fmt.Errorf("removing persisted position: %w", err)
	}

	e.events.Send(Event{Type: EventForgotten, Address: address, Name: name})
	for _, ev := range promoted {
		e.events.Send(ev)
	}
	e.kickScan()
	return nil
}

// Reassign moves a Ready device to a specific position. The target must
// not be held by another Ready device; the position freed by the move is
// offered to unassigned devices.
func (e *Engine) Reassign(ctx context.Context, address string, pos position.Position) error {
	e.mu.Lock()
	if !e.beginCommandLocked() {
		e.mu.Unlock()
		return ErrStopped
	}
	defer e.cmdWg.Done()

	t, ok := e.devices.Get(address)
	if !ok {
		e.mu.Unlock()
		return ErrUnknownDevice
	}
	if t.phase != PhaseReady {
		e.mu.Unlock()
		return fmt.Errorf("device %s is %s, not ready", address, t.phase)
	}
	if holder, taken := e.occupancyLocked()[pos]; taken && holder != address {
		e.mu.Unlock()
		return fmt.Errorf("position %s is held by %s", pos, holder)
	}

	old := t.pos
	t.pos = pos

	var promoted []Event
	if old != position.None && old != pos {
		promoted = e.fillVacanciesLocked()
	}
	name := t.name
	e.mu.Unlock()

	if pos != position.None {
		if err := e.store.Put(ctx, address, pos, time.Now()); err != nil {
			return fmt.Errorf("persisting position: %w", err)
		}
	}

	e.events.Send(Event{Type: EventReassigned, Address: address, Name: name, Position: pos})
	for _, ev := range promoted {
		e.events.Send(ev)
	}
	return nil
}

// PositionSnapshot returns a copy of every tracked device's state.
func (e *Engine) PositionSnapshot() []DeviceStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]DeviceStatus, 0, e.devices.Len())
	e.devices.Range(func(_ string, t *tracked) bool {
		out = append(out, DeviceStatus{
			Address:  t.address,
			Name:     t.name,
			Phase:    t.phase,
			Position: t.pos,
			Attempt:  t.attempt,
			ReadyAt:  t.readyAt,
		})
		return true
	})
	return out
}
