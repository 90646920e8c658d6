// Package decode turns raw characteristic payloads into typed sensor
// readings. Decoders never panic and never return errors for short or
// malformed payloads; they report ok=false so callers can distinguish
// "feature not present" from a transient transport problem.
package decode

import (
	"encoding/base64"
	"fmt"
)

// DeviceState is the status indicator reported by the sensor firmware.
type DeviceState int

const (
	StateUnknown DeviceState = iota
	StateIdle
	StateActive
	StateCharging
	StateError
)

func (s DeviceState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCharging:
		return "charging"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Payload decodes a base64-encoded characteristic value as pushed by the
// platform wireless API. Returns an error only for invalid base64 text;
// an empty payload is valid and decodes to an empty slice.
func Payload(b64 string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return data, nil
}

// BatteryPercent decodes the Battery Level characteristic (0x2A19):
// a single byte holding 0-100. Values above 100 are clamped per the
// battery service profile.
func BatteryPercent(data []byte) (int, bool) {
	if len(data) < 1 {
		return 0, false
	}
	pct := int(data[0])
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// SignalBars maps an RSSI value in dBm to a 0-4 bar indicator.
func SignalBars(rssi int) int {
	switch {
	case rssi >= -60:
		return 4
	case rssi >= -70:
		return 3
	case rssi >= -80:
		return 2
	case rssi >= -90:
		return 1
	default:
		return 0
	}
}

// StepCount decodes a little-endian unsigned step/cadence counter from the
// first 4 bytes of the payload. Some firmware revisions send only 3 bytes;
// those decode with an implicit zero high byte. Values are unsigned 32-bit,
// wraparound is accepted and not treated as an error.
func StepCount(data []byte) (uint32, bool) {
	switch {
	case len(data) >= 4:
		return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24, true
	case len(data) == 3:
		return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16, true
	default:
		return 0, false
	}
}

// Cadence decodes the instantaneous cadence in steps per minute from an
// RSC Measurement value: flags byte, uint16 LE instantaneous speed, then
// the cadence byte.
func Cadence(data []byte) (int, bool) {
	if len(data) < 4 {
		return 0, false
	}
	return int(data[3]), true
}

// State decodes the vendor device-state characteristic: a single status
// byte. Unknown values map to StateUnknown rather than failing, so newer
// firmware with extra states still decodes.
func State(data []byte) (DeviceState, bool) {
	if len(data) < 1 {
		return StateUnknown, false
	}
	switch data[0] {
	case 0x00:
		return StateIdle, true
	case 0x01:
		return StateActive, true
	case 0x02:
		return StateCharging, true
	case 0x03:
		return StateError, true
	default:
		return StateUnknown, true
	}
}
