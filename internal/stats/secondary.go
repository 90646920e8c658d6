package stats

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/racketlab/sensorfleet/internal/central"
)

// DefaultPollInterval is the fallback polling cadence for secondary
// readings (battery, step count) when notifications are unavailable.
const DefaultPollInterval = 20 * time.Second

// SecondaryReader delivers a device's secondary characteristic values
// (battery level, step count) to a handler. It prefers a push
// subscription; if subscription setup fails or the characteristic does
// not support notifications, it falls back to periodic polling. Once the
// fallback is active, repeated read errors are logged once, not per tick.
//
// The creator owns the reader and must call Stop before discarding the
// peripheral handle.
type SecondaryReader struct {
	peripheral   central.Peripheral
	serviceUUID  string
	charUUID     string
	pollInterval time.Duration
	handler      func([]byte)
	logger       *logrus.Logger

	mu      sync.Mutex
	sub     central.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewSecondaryReader creates a reader for one characteristic. interval <= 0
// selects DefaultPollInterval.
func NewSecondaryReader(p central.Peripheral, serviceUUID, charUUID string, interval time.Duration, logger *logrus.Logger, handler func([]byte)) *SecondaryReader {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &SecondaryReader{
		peripheral:   p,
		serviceUUID:  serviceUUID,
		charUUID:     charUUID,
		pollInterval: interval,
		handler:      handler,
		logger:       logger,
	}
}

// waitForCharacteristic tolerates the characteristic not being enumerated
// yet right after a reconnection: a short bounded retry loop with capped
// backoff, well under a second per wait.
func (r *SecondaryReader) waitForCharacteristic(ctx context.Context) (*central.Characteristic, error) {
	delay := 50 * time.Millisecond
	const maxDelay = 800 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		profile, err := r.peripheral.DiscoverProfile(ctx)
		if err == nil {
			if ch := profile.Find(r.serviceUUID, r.charUUID); ch != nil {
				return ch, nil
			}
			lastErr = central.Unsupported("wait-characteristic", nil)
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return nil, central.Transient("wait-characteristic", ctx.Err())
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}
	}
	return nil, lastErr
}

// Start begins delivery. Returns a capability-absence error when the
// device does not expose the characteristic at all; transport failures
// during subscription setup switch to polling instead of failing.
func (r *SecondaryReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	log := r.logger.WithFields(logrus.Fields{
		"device": r.peripheral.Address(),
		"char":   r.charUUID,
	})

	ch, err := r.waitForCharacteristic(ctx)
	if err != nil {
		return err
	}

	if ch.CanNotify {
		sub, err := r.peripheral.Subscribe(r.serviceUUID, r.charUUID, r.handler)
		if err == nil {
			r.mu.Lock()
			r.sub = sub
			r.mu.Unlock()
			log.Debug("Secondary reading subscribed")
			return nil
		}
		log.WithError(err).Debug("Subscription failed, falling back to polling")
	}

	r.wg.Add(1)
	go r.pollLoop(ctx, log)
	return nil
}

func (r *SecondaryReader) pollLoop(ctx context.Context, log *logrus.Entry) {
	defer r.wg.Done()

	log.WithField("interval", r.pollInterval).Debug("Secondary reading polling started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	errLogged := false

	// Prime immediately so consumers don't wait a full interval for the
	// first value.
	r.pollOnce(ctx, log, &errLogged)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx, log, &errLogged)
		}
	}
}

func (r *SecondaryReader) pollOnce(ctx context.Context, log *logrus.Entry, errLogged *bool) {
	data, err := r.peripheral.Read(ctx, r.serviceUUID, r.charUUID)
	if err != nil {
		// Report the first failure only; the fallback keeps trying.
		if !*errLogged {
			log.WithError(err).Debug("Secondary poll read failed")
			*errLogged = true
		}
		return
	}
	*errLogged = false
	r.handler(data)
}

// Stop cancels the subscription or poll loop and waits for it to exit.
// Safe to call multiple times.
func (r *SecondaryReader) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	sub := r.sub
	r.cancel = nil
	r.sub = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		_ = sub.Cancel()
	}
	r.wg.Wait()
}
