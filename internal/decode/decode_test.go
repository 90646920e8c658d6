package decode

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepCount(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint32
		ok       bool
	}{
		{
			name:     "4-byte little-endian one",
			data:     []byte{0x01, 0x00, 0x00, 0x00},
			expected: 1,
			ok:       true,
		},
		{
			name:     "3-byte fallback max",
			data:     []byte{0xFF, 0xFF, 0xFF},
			expected: 16777215,
			ok:       true,
		},
		{
			name:     "4-byte mixed",
			data:     []byte{0x78, 0x56, 0x34, 0x12},
			expected: 0x12345678,
			ok:       true,
		},
		{
			name:     "wraparound accepted",
			data:     []byte{0xFF, 0xFF, 0xFF, 0xFF},
			expected: 4294967295,
			ok:       true,
		},
		{
			name:     "extra trailing bytes ignored",
			data:     []byte{0x02, 0x00, 0x00, 0x00, 0xAA, 0xBB},
			expected: 2,
			ok:       true,
		},
		{
			name: "two bytes is too short",
			data: []byte{0x01, 0x00},
			ok:   false,
		},
		{
			name: "empty payload",
			data: nil,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StepCount(tt.data)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestBatteryPercent(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected int
		ok       bool
	}{
		{"full", []byte{100}, 100, true},
		{"partial", []byte{47}, 47, true},
		{"zero", []byte{0}, 0, true},
		{"clamped above 100", []byte{0xFF}, 100, true},
		{"extra bytes ignored", []byte{80, 0x00}, 80, true},
		{"empty", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BatteryPercent(tt.data)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestSignalBars(t *testing.T) {
	tests := []struct {
		rssi int
		bars int
	}{
		{-40, 4},
		{-60, 4},
		{-61, 3},
		{-70, 3},
		{-75, 2},
		{-80, 2},
		{-85, 1},
		{-90, 1},
		{-91, 0},
		{-100, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.bars, SignalBars(tt.rssi), "rssi=%d", tt.rssi)
	}
}

func TestCadence(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected int
		ok       bool
	}{
		{"walking cadence", []byte{0x00, 0x90, 0x01, 0x78}, 120, true},
		{"standing still", []byte{0x00, 0x00, 0x00, 0x00}, 0, true},
		{"extra trailing fields ignored", []byte{0x03, 0x90, 0x01, 0xB4, 0x12, 0x34}, 180, true},
		{"truncated value", []byte{0x00, 0x90, 0x01}, 0, false},
		{"empty payload", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Cadence(tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestState(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected DeviceState
		ok       bool
	}{
		{"idle", []byte{0x00}, StateIdle, true},
		{"active", []byte{0x01}, StateActive, true},
		{"charging", []byte{0x02}, StateCharging, true},
		{"error", []byte{0x03}, StateError, true},
		{"future firmware value maps to unknown", []byte{0x7F}, StateUnknown, true},
		{"empty payload is not decodable", nil, StateUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := State(tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPayload(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		raw := []byte{0x01, 0x02, 0x03}
		got, err := Payload(base64.StdEncoding.EncodeToString(raw))
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := Payload("!!not base64!!")
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := Payload("")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestDeviceStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "charging", StateCharging.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", StateUnknown.String())
}
