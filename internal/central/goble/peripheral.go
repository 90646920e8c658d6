package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/racketlab/sensorfleet/internal/bledb"
	"github.com/racketlab/sensorfleet/internal/central"
)

// peripheral implements central.Peripheral for a go-ble client.
type peripheral struct {
	address string
	client  ble.Client
	logger  *logrus.Logger

	mu      sync.Mutex
	profile *central.Profile
	// chars maps "serviceUUID/charUUID" (normalized) to the live handle,
	// resolved once at discovery so later lookups skip normalization.
	chars map[string]*ble.Characteristic
}

func newPeripheral(address string, client ble.Client, logger *logrus.Logger) *peripheral {
	return &peripheral{
		address: address,
		client:  client,
		logger:  logger,
		chars:   make(map[string]*ble.Characteristic),
	}
}

func charKey(serviceUUID, charUUID string) string {
	return serviceUUID + "/" + charUUID
}

func (p *peripheral) Address() string { return p.address }

// DiscoverProfile implements central.Peripheral. A successful enumeration
// is cached for the lifetime of the connection; a failed one is not, so
// callers may retry.
func (p *peripheral) DiscoverProfile(_ context.Context) (*central.Profile, error) {
	p.mu.Lock()
	if p.profile != nil {
		profile := p.profile
		p.mu.Unlock()
		return profile, nil
	}
	p.mu.Unlock()

	bleProfile, err := p.client.DiscoverProfile(true)
	if err != nil {
		return nil, NormalizeError("discover", err)
	}

	profile := central.NewProfile()
	chars := make(map[string]*ble.Characteristic)

	for _, svc := range bleProfile.Services {
		svcUUID := bledb.NormalizeUUID(svc.UUID.String())
		for _, c := range svc.Characteristics {
			cUUID := bledb.NormalizeUUID(c.UUID.String())
			profile.AddCharacteristic(
				svcUUID, cUUID,
				c.Property&ble.CharRead != 0,
				c.Property&ble.CharNotify != 0 || c.Property&ble.CharIndicate != 0,
			)
			chars[charKey(svcUUID, cUUID)] = c
		}
	}

	p.mu.Lock()
	p.profile = profile
	p.chars = chars
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"address":  p.address,
		"services": len(profile.Services()),
	}).Debug("Profile discovered")

	return profile, nil
}

// RequestMTU implements central.Peripheral. Failures are reported but the
// connection keeps working at the default transfer unit.
func (p *peripheral) RequestMTU(mtu int) (int, error) {
	granted, err := p.client.ExchangeMTU(mtu)
	if err != nil {
		return 0, NormalizeError("mtu", err)
	}
	return granted, nil
}

func (p *peripheral) lookup(serviceUUID, charUUID string) (*ble.Characteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.chars[charKey(bledb.NormalizeUUID(serviceUUID), bledb.NormalizeUUID(charUUID))]
	if !ok {
		return nil, central.Unsupported("lookup",
			fmt.Errorf("characteristic %s not found in service %s", charUUID, serviceUUID))
	}
	return c, nil
}

// Read implements central.Peripheral.
func (p *peripheral) Read(_ context.Context, serviceUUID, charUUID string) ([]byte, error) {
	c, err := p.lookup(serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}

	data, err := p.client.ReadCharacteristic(c)
	if err != nil {
		return nil, NormalizeError("read", err)
	}
	return data, nil
}

// Subscribe implements central.Peripheral.
func (p *peripheral) Subscribe(serviceUUID, charUUID string, handler func([]byte)) (central.Subscription, error) {
	c, err := p.lookup(serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}

	if c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate == 0 {
		return nil, central.Unsupported("subscribe",
			fmt.Errorf("characteristic %s does not support notifications", charUUID))
	}

	if err := p.client.Subscribe(c, false, func(data []byte) {
		handler(data)
	}); err != nil {
		return nil, NormalizeError("subscribe", err)
	}

	return &subscription{peripheral: p, char: c}, nil
}

// Disconnect implements central.Peripheral.
func (p *peripheral) Disconnect() error {
	if err := p.client.CancelConnection(); err != nil {
		return NormalizeError("disconnect", err)
	}
	return nil
}

// Disconnected implements central.Peripheral.
func (p *peripheral) Disconnected() <-chan struct{} {
	return p.client.Disconnected()
}

type subscription struct {
	peripheral *peripheral
	char       *ble.Characteristic
	once       sync.Once
	err        error
}

func (s *subscription) Cancel() error {
	s.once.Do(func() {
		if err := s.peripheral.client.Unsubscribe(s.char, false); err != nil {
			s.err = NormalizeError("unsubscribe", err)
		}
	})
	return s.err
}
