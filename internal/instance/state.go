// Package instance holds the authoritative connection record per agent and
// applies validated state transitions.
package instance

import "time"

// State is the normalized connection state of an agent's gateway instance.
// All gateway vocabulary ("open", "close", "connecting", ...) is mapped to
// this enum at the ingestion boundary; nothing else in the system compares
// raw gateway strings.
type State string

const (
	StateNone           State = "NONE"
	StateCreated        State = "CREATED"
	StateAwaitingQRScan State = "AWAITING_QR_SCAN"
	StateConnected      State = "CONNECTED"
	StateDisconnected   State = "DISCONNECTED"
	StateError          State = "ERROR"
)

// transitions is the reachability graph. A target absent from the current
// state's set is rejected (no-op). Delete is not a transition: it removes
// the record entirely, which is the only way back to NONE.
var transitions = map[State]map[State]bool{
	StateNone: {
		StateCreated: true,
	},
	StateCreated: {
		StateAwaitingQRScan: true,
		StateConnected:      true, // session restored without a fresh pairing
		StateError:          true,
	},
	StateAwaitingQRScan: {
		StateAwaitingQRScan: true, // QR re-issue on expiry
		StateConnected:      true,
		StateError:          true,
	},
	StateConnected: {
		StateDisconnected: true,
		StateError:        true,
	},
	StateDisconnected: {
		StateAwaitingQRScan: true, // re-activation
		StateError:          true,
	},
	StateError: {},
}

// CanTransition reports whether target is reachable from current.
func CanTransition(current, target State) bool {
	return transitions[current][target]
}

// Terminal reports whether the state requires user-initiated recovery
// (delete + recreate) before the instance can make progress again.
func (s State) Terminal() bool { return s == StateError }

func (s State) String() string { return string(s) }

// Record is the durable connection record for one agent. At most one live
// record exists per agent.
type Record struct {
	AgentID      string    `json:"agent_id"`
	InstanceName string    `json:"instance_name"`
	State        State     `json:"state"`
	QRCode       string    `json:"qr_code,omitempty"`
	QRIssuedAt   time.Time `json:"qr_issued_at,omitempty"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	// RawStatus keeps the last unmapped gateway status value for
	// diagnostics, mainly useful once State is ERROR.
	RawStatus   string    `json:"raw_status,omitempty"`
	LastEventAt time.Time `json:"last_event_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Payload carries the optional data accompanying a transition.
type Payload struct {
	QRCode     string
	QRIssuedAt time.Time
	RawStatus  string
}
