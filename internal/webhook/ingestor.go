package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zaplink/zaplink/internal/bus"
	"github.com/zaplink/zaplink/internal/instance"
)

// DedupTTL is the retention window for seen message ids. The gateway is
// known to re-deliver webhooks; a repeat within this window is dropped.
const DedupTTL = 10 * time.Minute

// Metrics counts ingestor outcomes. Snapshot served on the status endpoint.
type Metrics struct {
	EventsProcessed   int    `json:"events_processed"`
	MessagesForwarded int    `json:"messages_forwarded"`
	MessagesDeduped   int    `json:"messages_deduped"`
	DroppedFromMe     int    `json:"dropped_from_me"`
	DroppedUnknown    int    `json:"dropped_unknown_instance"`
	RejectedMalformed int    `json:"rejected_malformed"`
	LastError         string `json:"last_error,omitempty"`
}

// Ingestor turns pushed gateway events into store transitions and bus
// messages. Replaying an event never changes externally visible behavior
// beyond the first application: transitions are idempotent through the
// state graph and messages are deduplicated by id.
type Ingestor struct {
	store *instance.Store
	bus   *bus.MessageBus

	seenMu   sync.Mutex
	seen     map[string]time.Time
	dedupTTL time.Duration

	metricsMu sync.RWMutex
	metrics   Metrics

	now func() time.Time
}

// NewIngestor creates an ingestor. ttl <= 0 picks DedupTTL.
func NewIngestor(store *instance.Store, b *bus.MessageBus, ttl time.Duration) *Ingestor {
	if ttl <= 0 {
		ttl = DedupTTL
	}
	return &Ingestor{
		store:    store,
		bus:      b,
		seen:     map[string]time.Time{},
		dedupTTL: ttl,
		now:      time.Now,
	}
}

// ServeHTTP accepts one pushed event per request. Malformed bodies get a
// structured 400 and mutate nothing; recognized events always return 200
// even when dropped, so the gateway does not retry what we chose to skip.
func (in *Ingestor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		in.reject(w, "unreadable body")
		return
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		in.reject(w, "invalid json")
		return
	}
	if strings.TrimSpace(env.Instance) == "" || strings.TrimSpace(env.Event) == "" {
		in.reject(w, "missing event or instance")
		return
	}

	in.Process(env)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

// Process applies one decoded event.
func (in *Ingestor) Process(env Envelope) {
	in.bump(func(m *Metrics) { m.EventsProcessed++ })

	rec, err := in.store.GetByInstanceName(env.Instance)
	if errors.Is(err, instance.ErrNotFound) {
		slog.Warn("Webhook event for unknown instance dropped", "instance", env.Instance, "event", env.Event)
		in.bump(func(m *Metrics) { m.DroppedUnknown++ })
		return
	}
	if err != nil {
		slog.Error("Webhook instance lookup failed", "instance", env.Instance, "error", err)
		in.bump(func(m *Metrics) { m.LastError = err.Error() })
		return
	}

	switch env.Event {
	case EventConnectionUpdate:
		target := MapConnectionState(env.Data.State)
		if target == instance.StateError {
			slog.Warn("Webhook reported unrecognized connection state", "instance", env.Instance, "raw", env.Data.State)
		}
		_, _, err = in.store.ApplyTransition(rec.AgentID, target, instance.Payload{RawStatus: env.Data.State})
	case EventQRCodeUpdated:
		if rec.State == instance.StateConnected {
			// A stale QR push after pairing succeeds is gateway noise.
			slog.Debug("QR update ignored for connected instance", "instance", env.Instance)
			return
		}
		_, _, err = in.store.ApplyTransition(rec.AgentID, instance.StateAwaitingQRScan, instance.Payload{
			QRCode:     env.Data.QRCode,
			QRIssuedAt: in.now().UTC(),
		})
	case EventMessagesUpsert:
		in.processMessage(rec, env)
		return
	default:
		slog.Warn("Unknown webhook event dropped", "event", env.Event, "instance", env.Instance)
		in.bump(func(m *Metrics) { m.DroppedUnknown++ })
		return
	}
	if err != nil {
		slog.Error("Webhook transition failed", "instance", env.Instance, "error", err)
		in.bump(func(m *Metrics) { m.LastError = err.Error() })
	}
}

func (in *Ingestor) processMessage(rec instance.Record, env Envelope) {
	if env.Data.FromMe {
		// Echo of our own outbound; replying would loop.
		in.bump(func(m *Metrics) { m.DroppedFromMe++ })
		return
	}
	if strings.TrimSpace(env.Data.MessageID) == "" || strings.TrimSpace(env.Data.Text) == "" {
		in.bump(func(m *Metrics) { m.RejectedMalformed++ })
		return
	}
	if in.seenMessage(env.Instance+":"+env.Data.MessageID, in.now()) {
		slog.Debug("Duplicate message delivery dropped", "instance", env.Instance, "message_id", env.Data.MessageID)
		in.bump(func(m *Metrics) { m.MessagesDeduped++ })
		return
	}

	in.bus.PublishInbound(&bus.InboundMessage{
		AgentID:      rec.AgentID,
		InstanceName: rec.InstanceName,
		ChatID:       env.Data.From,
		MessageID:    env.Data.MessageID,
		Text:         env.Data.Text,
		Timestamp:    env.Data.messageTime(),
	})
	in.bump(func(m *Metrics) { m.MessagesForwarded++ })
}

// seenMessage reports whether key was already delivered within the dedup
// window, marking it if not.
func (in *Ingestor) seenMessage(key string, now time.Time) bool {
	in.seenMu.Lock()
	defer in.seenMu.Unlock()
	in.pruneSeenLocked(now)
	if _, ok := in.seen[key]; ok {
		return true
	}
	in.seen[key] = now.Add(in.dedupTTL)
	return false
}

func (in *Ingestor) pruneSeenLocked(now time.Time) {
	for k, exp := range in.seen {
		if now.After(exp) {
			delete(in.seen, k)
		}
	}
}

// DedupCacheSize returns the live seen-id count.
func (in *Ingestor) DedupCacheSize() int {
	in.seenMu.Lock()
	defer in.seenMu.Unlock()
	in.pruneSeenLocked(in.now())
	return len(in.seen)
}

// Metrics returns a snapshot of the ingestor counters.
func (in *Ingestor) Metrics() Metrics {
	in.metricsMu.RLock()
	defer in.metricsMu.RUnlock()
	return in.metrics
}

func (in *Ingestor) bump(f func(*Metrics)) {
	in.metricsMu.Lock()
	defer in.metricsMu.Unlock()
	f(&in.metrics)
}

func (in *Ingestor) reject(w http.ResponseWriter, reason string) {
	in.bump(func(m *Metrics) { m.RejectedMalformed++ })
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": reason})
}
