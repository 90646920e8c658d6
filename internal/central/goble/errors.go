package goble

import (
	"context"
	"errors"
	"strings"

	"github.com/racketlab/sensorfleet/internal/central"
)

// NormalizeError maps go-ble failures to structured transport errors.
// The upstream library only exposes message text for many conditions, so
// the string-pattern classification lives here at the adapter edge; the
// rest of the system sees central.TransportError kinds only.
func NormalizeError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return central.Transient(op, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "cancel"),
		strings.Contains(msg, "disconnect"),
		strings.Contains(msg, "device not connected"),
		strings.Contains(msg, "connection closed"),
		strings.Contains(msg, "timeout"):
		return central.Transient(op, err)
	case strings.Contains(msg, "not found"),
		strings.Contains(msg, "unsupported"):
		return central.Unsupported(op, err)
	default:
		return central.Fatal(op, err)
	}
}
