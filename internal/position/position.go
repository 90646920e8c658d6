// Package position defines the fixed logical slots a sensor can be bound
// to and the policy that decides which slot a device gets.
package position

// Position is a fixed logical slot. At most one device holds a given
// position at any instant.
type Position int

const (
	None Position = iota
	LeftShoe
	RightShoe
	Racket
)

// All lists the assignable positions in priority order.
var All = []Position{LeftShoe, RightShoe, Racket}

func (p Position) String() string {
	switch p {
	case LeftShoe:
		return "left_shoe"
	case RightShoe:
		return "right_shoe"
	case Racket:
		return "racket"
	default:
		return "none"
	}
}

// Parse maps a position name back to its Position. Unknown names
// return None.
func Parse(s string) Position {
	switch s {
	case "left_shoe":
		return LeftShoe
	case "right_shoe":
		return RightShoe
	case "racket":
		return Racket
	default:
		return None
	}
}

// Entry is a persisted device-position record.
type Entry struct {
	DeviceID string
	Position Position
	LastSeen int64 // unix seconds
}

// Assign decides which position a device gets. occupancy maps positions to
// the device IDs currently holding them; persisted is the device's
// remembered entry, or nil.
//
// Priority order:
//  1. The remembered position, when it is currently vacant (sticky restore).
//  2. The first vacant position in fixed priority order.
//  3. None, when all positions are occupied. The device stays connected
//     but unassigned; the caller reassigns it on the next vacancy.
//
// A remembered position held by a different device is never evicted; the
// policy falls through to the priority scan. The result is deterministic
// for a given occupancy snapshot and history.
func Assign(deviceID string, occupancy map[Position]string, persisted *Entry) Position {
	if persisted != nil && persisted.Position != None {
		if _, taken := occupancy[persisted.Position]; !taken {
			return persisted.Position
		}
	}

	for _, p := range All {
		if _, taken := occupancy[p]; !taken {
			return p
		}
	}
	return None
}
