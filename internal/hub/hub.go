// Package hub fans instance state out to any number of dashboard
// observers and owns the decision of when background polling runs, so UI
// sessions never drive gateway traffic directly.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zaplink/zaplink/internal/instance"
)

// DefaultLivenessTTL is how long a subscriber may go without a Touch (or
// channel read) before it is reaped, so a UI session that disappears
// without cleanup cannot leak a polling loop.
const DefaultLivenessTTL = 90 * time.Second

// PollController is the slice of the poller the hub drives.
type PollController interface {
	StartPolling(agentID string)
	StopPolling(agentID string)
}

type subscriber struct {
	ch       chan instance.Record
	deadline time.Time
}

// Hub is registered as a store listener and publishes a snapshot to every
// subscriber of an agent after each committed transition.
type Hub struct {
	store       *instance.Store
	poller      PollController
	livenessTTL time.Duration

	mu   sync.Mutex
	subs map[string]map[string]*subscriber
}

// New creates a hub. ttl <= 0 picks DefaultLivenessTTL.
func New(store *instance.Store, poller PollController, ttl time.Duration) *Hub {
	if ttl <= 0 {
		ttl = DefaultLivenessTTL
	}
	return &Hub{
		store:       store,
		poller:      poller,
		livenessTTL: ttl,
		subs:        map[string]map[string]*subscriber{},
	}
}

// Subscribe registers an observer for an agent. The current snapshot is
// delivered immediately, then again after every committed change, until
// Unsubscribe, instance deletion, or the liveness timeout.
func (h *Hub) Subscribe(agentID string) (string, <-chan instance.Record) {
	id := uuid.NewString()
	sub := &subscriber{
		ch:       make(chan instance.Record, 16),
		deadline: time.Now().Add(h.livenessTTL),
	}

	h.mu.Lock()
	if h.subs[agentID] == nil {
		h.subs[agentID] = map[string]*subscriber{}
	}
	h.subs[agentID][id] = sub
	h.mu.Unlock()

	// Registration first, snapshot second: a transition committed in
	// between reaches the subscriber through the broadcast, and one that
	// commits before the read is in the snapshot. Either way nothing is
	// missed; at worst the same state arrives twice.
	snapshot := h.snapshot(agentID)
	deliver(sub.ch, snapshot)
	h.gatePolling(agentID, snapshot)
	slog.Debug("Observer subscribed", "agent_id", agentID, "sub_id", id)
	return id, sub.ch
}

// Unsubscribe removes an observer. Safe to call twice.
func (h *Hub) Unsubscribe(agentID, subID string) {
	h.mu.Lock()
	sub, ok := h.subs[agentID][subID]
	if ok {
		delete(h.subs[agentID], subID)
		if len(h.subs[agentID]) == 0 {
			delete(h.subs, agentID)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	close(sub.ch)
	h.gatePolling(agentID, h.snapshot(agentID))
	slog.Debug("Observer unsubscribed", "agent_id", agentID, "sub_id", subID)
}

// Touch refreshes a subscriber's liveness deadline. Pull-style observers
// call it on every fetch; stream observers are touched by their transport.
func (h *Hub) Touch(agentID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[agentID][subID]; ok {
		sub.deadline = time.Now().Add(h.livenessTTL)
	}
}

// Observers returns the subscriber count for an agent.
func (h *Hub) Observers(agentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[agentID])
}

// OnTransition implements instance.Listener: publish the new snapshot and
// re-evaluate poll gating.
func (h *Hub) OnTransition(from instance.State, rec instance.Record) {
	h.broadcast(rec.AgentID, rec)
	h.gatePolling(rec.AgentID, rec)
}

// OnDelete implements instance.Listener: close every stream for the agent
// and stop its polling.
func (h *Hub) OnDelete(agentID string) {
	h.mu.Lock()
	subs := h.subs[agentID]
	delete(h.subs, agentID)
	h.mu.Unlock()

	for _, sub := range subs {
		// Final snapshot tells observers the instance is gone; the
		// closed channel ends the stream.
		deliver(sub.ch, instance.Record{AgentID: agentID, State: instance.StateNone})
		close(sub.ch)
	}
	h.poller.StopPolling(agentID)
}

// Run reaps subscribers whose liveness deadline has passed. Blocks until
// the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.livenessTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			h.reap(now)
		}
	}
}

func (h *Hub) reap(now time.Time) {
	type stale struct{ agentID, subID string }
	var expired []stale

	h.mu.Lock()
	for agentID, subs := range h.subs {
		for id, sub := range subs {
			if now.After(sub.deadline) {
				expired = append(expired, stale{agentID, id})
			}
		}
	}
	h.mu.Unlock()

	for _, e := range expired {
		slog.Info("Observer reaped after liveness timeout", "agent_id", e.agentID, "sub_id", e.subID)
		h.Unsubscribe(e.agentID, e.subID)
	}
}

func (h *Hub) broadcast(agentID string, rec instance.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs[agentID] {
		if !deliver(sub.ch, rec) {
			// Slow consumer: it keeps its subscription and will see the
			// next snapshot; state is convergent, not a log.
			slog.Debug("Observer slow, snapshot dropped", "agent_id", agentID, "sub_id", id)
		}
	}
}

// gatePolling enforces the rule: poll while at least one observer exists,
// a record exists, and the state is not CONNECTED or terminal.
func (h *Hub) gatePolling(agentID string, rec instance.Record) {
	h.mu.Lock()
	observers := len(h.subs[agentID])
	h.mu.Unlock()

	shouldPoll := observers > 0 &&
		rec.State != instance.StateNone &&
		rec.State != instance.StateConnected &&
		!rec.State.Terminal()
	if shouldPoll {
		h.poller.StartPolling(agentID)
	} else {
		h.poller.StopPolling(agentID)
	}
}

func (h *Hub) snapshot(agentID string) instance.Record {
	rec, err := h.store.Get(agentID)
	if errors.Is(err, instance.ErrNotFound) {
		return instance.Record{AgentID: agentID, State: instance.StateNone}
	}
	if err != nil {
		slog.Error("Snapshot read failed", "agent_id", agentID, "error", err)
		return instance.Record{AgentID: agentID, State: instance.StateNone}
	}
	return rec
}

func deliver(ch chan instance.Record, rec instance.Record) bool {
	select {
	case ch <- rec:
		return true
	default:
		return false
	}
}
