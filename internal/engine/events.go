package engine

import (
	"github.com/racketlab/sensorfleet/internal/central"
	"github.com/racketlab/sensorfleet/internal/position"
)

// EventType tags a device lifecycle event.
type EventType string

const (
	// EventConnected fires the first time a device reaches Ready in this
	// process; EventReconnected fires on every Ready after a drop.
	EventConnected   EventType = "connected"
	EventReconnected EventType = "reconnected"

	// EventDropped fires when a live link is lost unexpectedly.
	EventDropped EventType = "dropped"

	// EventDisconnected fires on a caller-initiated disconnect.
	EventDisconnected EventType = "disconnected"

	// EventForgotten fires when a device is removed from tracking.
	EventForgotten EventType = "forgotten"

	// EventReassigned fires when a device's position changes while it
	// stays connected.
	EventReassigned EventType = "reassigned"
)

// Event describes a device lifecycle moment. Peripheral is non-nil only
// on connected/reconnected; consumers that subscribe to characteristics
// take the handle from there.
type Event struct {
	Type       EventType
	Address    string
	Name       string
	Position   position.Position
	Attempt    int
	Peripheral central.Peripheral
}
