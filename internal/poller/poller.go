// Package poller actively reconciles instance state against the gateway
// when push events are insufficient: right after creation, or to recover
// from a suspected missed webhook.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zaplink/zaplink/internal/gatewayapi"
	"github.com/zaplink/zaplink/internal/instance"
	"github.com/zaplink/zaplink/internal/webhook"
)

const (
	// DefaultInterval is the cadence of status lookups per agent.
	DefaultInterval = 5 * time.Second
	// DefaultMaxUnattended bounds how long a loop runs if the gateway
	// never reaches CONNECTED, so an abandoned pairing cannot poll
	// forever.
	DefaultMaxUnattended = 3 * time.Minute
)

// Poller runs one reconciliation loop per agent. Loops are independent:
// one agent's gateway latency never throttles another's.
type Poller struct {
	store         *instance.Store
	gateway       gatewayapi.Client
	interval      time.Duration
	maxUnattended time.Duration

	mu    sync.Mutex
	loops map[string]*pollLoop
}

// pollLoop identifies one loop registration. The identity matters: a loop
// that exits must deregister only itself, never a replacement loop that
// was started for the same agent in the meantime.
type pollLoop struct {
	cancel context.CancelFunc
}

// New creates a poller; non-positive durations pick the defaults.
func New(store *instance.Store, gw gatewayapi.Client, interval, maxUnattended time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxUnattended <= 0 {
		maxUnattended = DefaultMaxUnattended
	}
	return &Poller{
		store:         store,
		gateway:       gw,
		interval:      interval,
		maxUnattended: maxUnattended,
		loops:         map[string]*pollLoop{},
	}
}

// StartPolling begins the loop for an agent. Starting an already-polled
// agent is a no-op.
func (p *Poller) StartPolling(agentID string) {
	p.mu.Lock()
	if _, running := p.loops[agentID]; running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := &pollLoop{cancel: cancel}
	p.loops[agentID] = loop
	p.mu.Unlock()

	slog.Info("Reconciliation polling started", "agent_id", agentID, "interval", p.interval)
	go p.run(ctx, agentID, loop)
}

// StopPolling cancels the loop for an agent; effective within one
// interval. Safe to call when no loop is running.
func (p *Poller) StopPolling(agentID string) {
	p.mu.Lock()
	loop, ok := p.loops[agentID]
	if ok {
		delete(p.loops, agentID)
	}
	p.mu.Unlock()
	if ok {
		loop.cancel()
		slog.Info("Reconciliation polling stopped", "agent_id", agentID)
	}
}

// deregister removes the given loop's own registration. A no-op when the
// agent's slot is empty or already holds a newer loop: a stale goroutine
// must not cancel its replacement.
func (p *Poller) deregister(agentID string, loop *pollLoop) {
	p.mu.Lock()
	removed := p.loops[agentID] == loop
	if removed {
		delete(p.loops, agentID)
	}
	p.mu.Unlock()
	loop.cancel()
	if removed {
		slog.Info("Reconciliation polling stopped", "agent_id", agentID)
	}
}

// StopAll cancels every loop.
func (p *Poller) StopAll() {
	p.mu.Lock()
	loops := p.loops
	p.loops = map[string]*pollLoop{}
	p.mu.Unlock()
	for _, loop := range loops {
		loop.cancel()
	}
}

// Polling reports whether a loop is active for the agent.
func (p *Poller) Polling(agentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loops[agentID]
	return ok
}

func (p *Poller) run(ctx context.Context, agentID string, loop *pollLoop) {
	defer p.deregister(agentID, loop)

	deadline := time.Now().Add(p.maxUnattended)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Now().After(deadline) {
				slog.Warn("Reconciliation polling gave up after max unattended duration", "agent_id", agentID)
				return
			}
			done, err := p.reconcile(ctx, agentID)
			if err != nil {
				// Transient transport failure: keep the cadence, no
				// state change, no error amplification.
				slog.Warn("Poll failed, will retry", "agent_id", agentID, "error", err)
				continue
			}
			if done {
				return
			}
		}
	}
}

// PollOnce performs a single reconcile on demand (the dashboard's
// "refresh status" action).
func (p *Poller) PollOnce(ctx context.Context, agentID string) (instance.Record, error) {
	if _, err := p.reconcile(ctx, agentID); err != nil {
		return instance.Record{}, err
	}
	rec, err := p.store.Get(agentID)
	if errors.Is(err, instance.ErrNotFound) {
		return instance.Record{AgentID: agentID, State: instance.StateNone}, nil
	}
	return rec, err
}

// reconcile folds one gateway status lookup into the store through the
// same transition rules as webhook events. done=true means the loop's
// stop condition was reached (deleted or connected).
func (p *Poller) reconcile(ctx context.Context, agentID string) (done bool, err error) {
	rec, err := p.store.Get(agentID)
	if errors.Is(err, instance.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if rec.State == instance.StateConnected {
		return true, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, gatewayapi.CallTimeout)
	defer cancel()
	status, err := p.gateway.FetchStatus(callCtx, rec.InstanceName)
	if err != nil {
		return false, err
	}

	target := webhook.MapConnectionState(status.State)
	payload := instance.Payload{RawStatus: status.State}
	if target == instance.StateAwaitingQRScan && status.QRCode != "" {
		payload.QRCode = status.QRCode
		payload.QRIssuedAt = time.Now().UTC()
	}
	next, _, err := p.store.ApplyTransition(agentID, target, payload)
	if err != nil {
		return false, err
	}
	return next.State == instance.StateConnected, nil
}
