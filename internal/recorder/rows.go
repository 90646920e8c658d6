package recorder

import "github.com/racketlab/sensorfleet/internal/stats"

// Row type tags, one per NDJSON record shape.
const (
	rowHeader       = "header"
	rowData         = "data"
	rowTick         = "tick"
	rowDeviceEvent  = "device_event"
	rowSessionEvent = "session_event"
	rowStop         = "stop"
)

// SchemaVersion identifies the session log row format.
const SchemaVersion = 2

// Packet is one raw sensor sample as delivered by the stream ingestion
// layer. The embedded timestamp is the source-capture time; downstream
// consumers synchronize across devices on it, not on row order.
type Packet struct {
	TimestampUs int64  `json:"ts_us"`
	Payload     []byte `json:"payload"` // encoding/json emits base64
}

// LocationFix is the latest known location, attached to tick rows.
type LocationFix struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	AccuracyM float64 `json:"accuracy_m"`
}

// headerRow opens the log. Exactly one per file.
type headerRow struct {
	Type          string            `json:"type"`
	TS            string            `json:"ts"`
	SchemaVersion int               `json:"schema_version"`
	Session       string            `json:"session"`
	Activity      string            `json:"activity,omitempty"`
	AppVersion    string            `json:"app_version,omitempty"`
	Devices       map[string]string `json:"devices"`       // source tag -> device identity
	DeviceStates  map[string]string `json:"device_states"` // source tag -> initial state
}

// dataRow carries one sensor packet.
type dataRow struct {
	Type   string `json:"type"`
	TS     string `json:"ts"`
	Source string `json:"source"`
	Packet Packet `json:"packet"`
}

// tickRow carries the latest auxiliary readings, written at 1 Hz.
type tickRow struct {
	Type     string                  `json:"type"`
	TS       string                  `json:"ts"`
	Stats    map[string]*stats.Stats `json:"stats"`
	Location *LocationFix            `json:"location"`
}

// eventRow marks device and session lifecycle moments.
type eventRow struct {
	Type   string `json:"type"`
	TS     string `json:"ts"`
	Source string `json:"source,omitempty"`
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

// stopRow closes the log. Exactly one per file; nothing follows it.
type stopRow struct {
	Type         string            `json:"type"`
	TS           string            `json:"ts"`
	Reason       string            `json:"reason"`
	Rows         int               `json:"rows"`
	Bytes        int64             `json:"bytes"`
	DeviceStates map[string]string `json:"device_states"`
}
