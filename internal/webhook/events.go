// Package webhook ingests gateway-pushed events, deduplicates them and
// applies the resulting transitions to the instance store.
package webhook

import (
	"strings"
	"time"

	"github.com/zaplink/zaplink/internal/instance"
)

// Event names pushed by the gateway.
const (
	EventConnectionUpdate = "CONNECTION_UPDATE"
	EventQRCodeUpdated    = "QRCODE_UPDATED"
	EventMessagesUpsert   = "MESSAGES_UPSERT"
)

// Envelope is the wire shape of one pushed event. Unknown fields are
// ignored; delivery is at-least-once and unordered across event types.
type Envelope struct {
	Event    string    `json:"event"`
	Instance string    `json:"instance"`
	Data     EventData `json:"data"`
}

// EventData is the union payload across event types.
type EventData struct {
	// CONNECTION_UPDATE
	State string `json:"state,omitempty"`
	// QRCODE_UPDATED
	QRCode string `json:"qrcode,omitempty"`
	// MESSAGES_UPSERT
	MessageID string `json:"id,omitempty"`
	From      string `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`
	FromMe    bool   `json:"from_me,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// MapConnectionState normalizes gateway connection vocabulary into the
// closed state enum. This is the only place raw gateway strings are
// interpreted; unrecognized values map to ERROR with the raw value kept
// for diagnostics.
func MapConnectionState(raw string) instance.State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "connected":
		return instance.StateConnected
	case "close", "closed", "disconnected":
		return instance.StateDisconnected
	case "connecting", "qr", "qrcode", "awaiting_qr_scan", "pairing":
		return instance.StateAwaitingQRScan
	case "created":
		return instance.StateCreated
	default:
		return instance.StateError
	}
}

func (d EventData) messageTime() time.Time {
	if d.Timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(d.Timestamp, 0).UTC()
}
