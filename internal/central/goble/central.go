// Package goble implements the central interfaces on top of go-ble.
package goble

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/racketlab/sensorfleet/internal/bledb"
	"github.com/racketlab/sensorfleet/internal/central"
)

// Central implements central.Central using a go-ble device.
type Central struct {
	logger *logrus.Logger

	mu     sync.Mutex
	dev    ble.Device
	powerC chan central.PowerState
	closed bool
}

// New creates a Central. The underlying ble.Device is created lazily on
// first use; a PowerOn event is published once creation succeeds, which on
// both supported platforms implies the adapter is powered.
func New(logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	return &Central{
		logger: logger,
		powerC: make(chan central.PowerState, 1),
	}
}

func (c *Central) device() (ble.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev != nil {
		return c.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError("adapter", err)
	}
	c.dev = dev

	// First successful device creation doubles as the powered-on signal.
	select {
	case c.powerC <- central.PowerOn:
	default:
	}

	return dev, nil
}

// PowerStateC implements central.Central.
func (c *Central) PowerStateC() <-chan central.PowerState {
	// Kick off adapter creation so the power event fires without waiting
	// for the first scan.
	go func() {
		if _, err := c.device(); err != nil {
			c.logger.WithError(err).Warn("Wireless adapter not ready")
			select {
			case c.powerC <- central.PowerOff:
			default:
			}
		}
	}()
	return c.powerC
}

// Scan implements central.Central. The service filter is applied locally
// against advertised service UUIDs, matching short and long forms.
func (c *Central) Scan(ctx context.Context, filter []string, handler func(central.Advertisement)) error {
	dev, err := c.device()
	if err != nil {
		return err
	}

	normalized := bledb.NormalizeUUIDs(filter)

	bleHandler := func(adv ble.Advertisement) {
		wrapped := &advertisement{adv: adv}
		if len(normalized) > 0 && !advertisesAny(wrapped, normalized) {
			return
		}
		handler(wrapped)
	}

	err = dev.Scan(ctx, false, bleHandler)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError("scan", err)
	}
	return nil
}

// Connect implements central.Central.
func (c *Central) Connect(ctx context.Context, address string) (central.Peripheral, error) {
	dev, err := c.device()
	if err != nil {
		return nil, err
	}

	c.logger.WithField("address", address).Debug("Dialing device")

	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError("connect", err)
	}

	return newPeripheral(address, client, c.logger), nil
}

// Close stops the underlying device and closes the power channel.
func (c *Central) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.powerC)

	if c.dev != nil {
		return NormalizeError("stop", c.dev.Stop())
	}
	return nil
}

func advertisesAny(adv central.Advertisement, normalized []string) bool {
	for _, svc := range adv.Services() {
		n := bledb.NormalizeUUID(svc)
		for _, want := range normalized {
			if n == want {
				return true
			}
		}
	}
	return false
}

// advertisement adapts ble.Advertisement to central.Advertisement.
type advertisement struct {
	adv ble.Advertisement
}

func (a *advertisement) Addr() string      { return a.adv.Addr().String() }
func (a *advertisement) LocalName() string { return a.adv.LocalName() }
func (a *advertisement) RSSI() int         { return a.adv.RSSI() }
func (a *advertisement) Connectable() bool { return a.adv.Connectable() }

func (a *advertisement) Services() []string {
	uuids := a.adv.Services()
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = u.String()
	}
	return result
}
