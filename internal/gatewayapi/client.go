// Package gatewayapi is the outbound contract to the external WhatsApp
// gateway: instance provisioning, status/QR lookup, teardown and text send.
package gatewayapi

import (
	"context"
	"time"
)

// Status is a pull-based status/QR lookup result. State carries the
// gateway's raw vocabulary; callers normalize it at the ingestion boundary.
type Status struct {
	State  string `json:"state"`
	QRCode string `json:"qr_code,omitempty"`
}

// Client is the contract this core consumes from the gateway. Every call
// is bounded by the context; a timed-out call is a transient failure,
// never a state-corrupting event.
type Client interface {
	// CreateInstance provisions a remote instance and returns its
	// gateway-side name.
	CreateInstance(ctx context.Context, agentID, label string) (string, error)
	// FetchStatus returns the current connection state and, while
	// pairing, the active QR payload.
	FetchStatus(ctx context.Context, instanceName string) (Status, error)
	// DeleteInstance tears down the remote instance. Deleting a
	// non-existent instance is not an error.
	DeleteInstance(ctx context.Context, instanceName string) error
	// SendText delivers a text message through the instance.
	SendText(ctx context.Context, instanceName, to, text string) error
}

// CallTimeout is the default bound for one gateway call.
const CallTimeout = 10 * time.Second
