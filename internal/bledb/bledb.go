// Package bledb provides Bluetooth UUID normalization and lookup of the
// well-known GATT services and characteristics this system consumes.
package bledb

import "strings"

// bluetoothBaseSuffix is the tail of the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb) in normalized form.
const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// Well-known service UUIDs (16-bit short form, normalized).
const (
	ServiceBattery    = "180f"
	ServiceDeviceInfo = "180a"
	ServiceRunning    = "1814"

	// Vendor motion service carried by the wearable sensors.
	ServiceMotion = "6e400001b5a3f393e0a9e50e24dcca9e"
)

// Well-known characteristic UUIDs (normalized).
const (
	CharBatteryLevel   = "2a19"
	CharRSCMeasurement = "2a53"

	CharMotionData  = "6e400002b5a3f393e0a9e50e24dcca9e"
	CharStepCount   = "6e400003b5a3f393e0a9e50e24dcca9e"
	CharDeviceState = "6e400004b5a3f393e0a9e50e24dcca9e"
)

// NormalizeUUID converts a UUID string to the internal format (lowercase, no
// dashes). Handles both standard UUID format (with dashes) and already
// normalized format (without dashes). Also strips surrounding braces and a
// 0x prefix if present (e.g., "0x2902" -> "2902"). For full 128-bit UUIDs
// in Bluetooth SIG base format (0000xxxx-0000-1000-8000-00805f9b34fb), it
// extracts the 16-bit short form (xxxx).
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "{")
	u = strings.TrimSuffix(u, "}")
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	// SIG base pattern: 0000xxxx + base suffix reduces to the 16-bit form
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, bluetoothBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	normalized := make([]string, len(uuids))
	for i, uuid := range uuids {
		normalized[i] = NormalizeUUID(uuid)
	}
	return normalized
}

// Equal reports whether two UUID strings identify the same service or
// characteristic, regardless of 16-bit vs 128-bit form, case, dashes,
// braces or a 0x prefix. Malformed input normalizes to itself and simply
// fails to match anything but an identical string.
func Equal(u1, u2 string) bool {
	return NormalizeUUID(u1) == NormalizeUUID(u2)
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Long UUIDs are cut to their first eight characters, short UUIDs are
// returned as-is.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

var serviceNames = map[string]string{
	ServiceBattery:    "Battery Service",
	ServiceDeviceInfo: "Device Information",
	ServiceRunning:    "Running Speed and Cadence",
	ServiceMotion:     "Motion Sensor Service",
	"1800":            "Generic Access",
	"1801":            "Generic Attribute",
	"180d":            "Heart Rate",
}

var characteristicNames = map[string]string{
	CharBatteryLevel:   "Battery Level",
	CharRSCMeasurement: "RSC Measurement",
	CharMotionData:     "Motion Data",
	CharStepCount:      "Step Count",
	CharDeviceState:    "Device State",
	"2a00":             "Device Name",
	"2a01":             "Appearance",
	"2a29":             "Manufacturer Name String",
}

// LookupService returns the human-readable name for a known service UUID,
// or "" when the UUID is not known.
func LookupService(uuid string) string {
	return serviceNames[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the human-readable name for a known
// characteristic UUID, or "" when the UUID is not known.
func LookupCharacteristic(uuid string) string {
	return characteristicNames[NormalizeUUID(uuid)]
}
