// Package central defines the boundary to the platform Bluetooth Low
// Energy stack: scanning, connecting, GATT discovery and characteristic
// access. The engine and ingestion layers depend only on the interfaces
// here; the go-ble backed implementation lives in the goble subpackage
// and test fakes live alongside their consumers.
package central

import "context"

// PowerState reports the wireless adapter power state.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerOn
	PowerOff
)

func (p PowerState) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return "unknown"
	}
}

// Advertisement is the subset of advertisement data the engine consumes.
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Connectable() bool
	Services() []string
}

// Central is the process-wide entry point to the wireless stack.
type Central interface {
	// Scan runs discovery until ctx is done, invoking handler for every
	// advertisement that matches the service filter (normalized UUIDs;
	// empty filter matches everything). Returns nil on context expiry.
	Scan(ctx context.Context, filter []string, handler func(Advertisement)) error

	// Connect dials a device by address and returns a live handle.
	Connect(ctx context.Context, address string) (Peripheral, error)

	// PowerStateC delivers adapter power-state transitions. The channel
	// is owned by the implementation and closed on teardown.
	PowerStateC() <-chan PowerState
}

// Subscription represents an active notification stream. The creator owns
// it and must Cancel it before the peripheral handle is discarded.
type Subscription interface {
	Cancel() error
}

// Peripheral is a live connection to one device.
type Peripheral interface {
	Address() string

	// DiscoverProfile enumerates services and characteristics once and
	// returns the cached capability descriptor. Subsequent calls return
	// the same profile without touching the radio.
	DiscoverProfile(ctx context.Context) (*Profile, error)

	// RequestMTU negotiates an enlarged transfer unit. Best effort: the
	// returned size is whatever the link actually granted.
	RequestMTU(mtu int) (int, error)

	// Read reads a characteristic value by service and characteristic UUID.
	Read(ctx context.Context, serviceUUID, charUUID string) ([]byte, error)

	// Subscribe starts notifications for a characteristic. The handler is
	// invoked in receipt order for this device; data is only valid for
	// the duration of the call and must be copied to be retained.
	Subscribe(serviceUUID, charUUID string, handler func(data []byte)) (Subscription, error)

	// Disconnect tears the link down. Idempotent.
	Disconnect() error

	// Disconnected is closed when the link is lost, whether initiated
	// locally or by the device.
	Disconnected() <-chan struct{}
}
