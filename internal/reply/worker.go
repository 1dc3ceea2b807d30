// Package reply consumes accepted inbound messages and produces agent
// replies, short-circuiting duplicates through the reply cache.
package reply

import (
	"context"
	"log/slog"
	"time"

	"github.com/zaplink/zaplink/internal/bus"
	"github.com/zaplink/zaplink/internal/gatewayapi"
	"github.com/zaplink/zaplink/internal/replycache"
)

// Generator is the external reply pipeline (the AI completion call). Out
// of scope here; retries on generation failure belong to it, not to us.
type Generator interface {
	Generate(ctx context.Context, agentID, message string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, agentID, message string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, agentID, message string) (string, error) {
	return f(ctx, agentID, message)
}

// Worker runs the message-handling path: cache lookup, generation on
// miss, delivery through the gateway.
type Worker struct {
	bus       *bus.MessageBus
	cache     *replycache.Cache
	generator Generator
	gateway   gatewayapi.Client
	timeout   time.Duration
}

// NewWorker creates a reply worker.
func NewWorker(b *bus.MessageBus, cache *replycache.Cache, gen Generator, gw gatewayapi.Client) *Worker {
	return &Worker{
		bus:       b,
		cache:     cache,
		generator: gen,
		gateway:   gw,
		timeout:   60 * time.Second,
	}
}

// Run consumes inbound messages until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("Reply worker started")
	for {
		msg, err := w.bus.ConsumeInbound(ctx)
		if err != nil {
			slog.Info("Reply worker stopped")
			return err
		}
		w.Handle(ctx, msg)
	}
}

// Handle produces and delivers the reply for one message. The cache is an
// optimization only: a miss path and a hit path are externally identical
// apart from latency.
func (w *Worker) Handle(ctx context.Context, msg *bus.InboundMessage) {
	text, hit := w.cache.Get(msg.AgentID, msg.Text)
	if hit {
		slog.Debug("Reply cache hit", "agent_id", msg.AgentID, "message_id", msg.MessageID)
	} else {
		genCtx, cancel := context.WithTimeout(ctx, w.timeout)
		reply, err := w.generator.Generate(genCtx, msg.AgentID, msg.Text)
		cancel()
		if err != nil {
			slog.Error("Reply generation failed", "agent_id", msg.AgentID, "message_id", msg.MessageID, "error", err)
			return
		}
		text = reply
		w.cache.Put(msg.AgentID, msg.Text, reply)
	}

	sendCtx, cancel := context.WithTimeout(ctx, gatewayapi.CallTimeout)
	defer cancel()
	if err := w.gateway.SendText(sendCtx, msg.InstanceName, msg.ChatID, text); err != nil {
		slog.Error("Reply delivery failed", "agent_id", msg.AgentID, "chat_id", msg.ChatID, "error", err)
	}
}
