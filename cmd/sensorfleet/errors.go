package main

import (
	"errors"

	"github.com/racketlab/sensorfleet/internal/central"
	"github.com/racketlab/sensorfleet/internal/engine"
)

// FormatUserError turns internal errors into messages fit for the
// terminal, without stack internals or transport jargon.
func FormatUserError(err error) string {
	var terr *central.TransportError
	if errors.As(err, &terr) {
		switch terr.Kind {
		case central.KindTransient:
			return "connection to the sensor was lost; it will be retried automatically"
		case central.KindCapabilityAbsent:
			return "the sensor does not support the requested feature: " + terr.Error()
		}
	}

	if errors.Is(err, engine.ErrUnknownDevice) {
		return "no sensor with that address is tracked"
	}

	return err.Error()
}
