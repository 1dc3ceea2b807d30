// Package bus provides the async hand-off between the webhook ingestor and
// the reply worker.
package bus

import (
	"context"
	"time"
)

// InboundMessage is an accepted, deduplicated gateway message awaiting a
// reply.
type InboundMessage struct {
	AgentID      string    `json:"agent_id"`
	InstanceName string    `json:"instance_name"`
	ChatID       string    `json:"chat_id"`
	MessageID    string    `json:"message_id"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
}

// MessageBus decouples event ingestion from reply generation.
type MessageBus struct {
	inbound chan *InboundMessage
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound: make(chan *InboundMessage, 100),
	}
}

// PublishInbound queues a message for the reply worker.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}
