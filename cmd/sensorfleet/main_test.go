package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/racketlab/sensorfleet/internal/central"
	"github.com/racketlab/sensorfleet/internal/engine"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "v2.0.0-rc1", formatVersion("2.0.0-rc1"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	transient := central.Transient("read", errors.New("device not connected"))
	assert.Contains(t, FormatUserError(transient), "retried automatically")

	missing := central.Unsupported("lookup", errors.New("characteristic 2a19 not found"))
	assert.Contains(t, FormatUserError(missing), "does not support")

	wrapped := fmt.Errorf("forgetting sensor: %w", engine.ErrUnknownDevice)
	assert.Equal(t, "no sensor with that address is tracked", FormatUserError(wrapped))

	plain := errors.New("something else")
	assert.Equal(t, "something else", FormatUserError(plain))
}

func TestSignalBarsRendering(t *testing.T) {
	tests := []struct {
		rssi int
		bars string
	}{
		{-50, "####"},
		{-65, "###."},
		{-75, "##.."},
		{-85, "#..."},
		{-95, "...."},
	}
	for _, tt := range tests {
		got := stripANSI(signalBars(tt.rssi))
		assert.Equal(t, tt.bars, got, "rssi %d", tt.rssi)
	}
}

// stripANSI removes color escape sequences for comparison.
func stripANSI(s string) string {
	out := make([]byte, 0, len(s))
	inEscape := false
	for i := 0; i < len(s); i++ {
		switch {
		case inEscape:
			if s[i] == 'm' {
				inEscape = false
			}
		case s[i] == 0x1b:
			inEscape = true
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
