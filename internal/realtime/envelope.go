package realtime

import (
	"encoding/json"
	"maps"
	"time"
)

// Payload is opaque structured data supplied by callers. The manager never
// interprets it beyond injecting the envelope fields below.
type Payload map[string]any

// Envelope field and message type names on the wire.
const (
	fieldChannel   = "channel"
	fieldTimestamp = "timestamp"

	typeConnectionEstablished = "connection_established"
	typeSystemStatus          = "system_status"
)

// encodeBroadcast enriches a payload with the channel name and the broadcast
// timestamp, then marshals it once so the same bytes are reused for every
// recipient.
func encodeBroadcast(payload Payload, channel string, ts time.Time) ([]byte, error) {
	msg := make(Payload, len(payload)+2)
	maps.Copy(msg, payload)
	msg[fieldChannel] = channel
	msg[fieldTimestamp] = formatTimestamp(ts)
	return json.Marshal(msg)
}

// encodeSend enriches a payload with a timestamp unless the caller already set
// one. Keeping an existing value lets pong replies echo the client's opaque
// ping timestamp unchanged.
func encodeSend(payload Payload, ts time.Time) ([]byte, error) {
	msg := make(Payload, len(payload)+1)
	maps.Copy(msg, payload)
	if _, ok := msg[fieldTimestamp]; !ok {
		msg[fieldTimestamp] = formatTimestamp(ts)
	}
	return json.Marshal(msg)
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
