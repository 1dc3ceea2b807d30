// Package relay publishes committed instance transitions to Kafka for
// external auditing. Best-effort: a broker outage never blocks or fails a
// transition.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/zaplink/zaplink/internal/instance"
)

// TransitionEvent is the audit record for one committed transition.
type TransitionEvent struct {
	AgentID      string    `json:"agent_id"`
	InstanceName string    `json:"instance_name"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	RawStatus    string    `json:"raw_status,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher delivers transition events.
type Publisher interface {
	Publish(ctx context.Context, evt TransitionEvent) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic using segmentio/kafka-go.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers (comma
// separated) and topic.
func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt TransitionEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.AgentID),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// ChannelPublisher is an in-process Publisher for tests.
type ChannelPublisher struct {
	ch chan TransitionEvent
}

// NewChannelPublisher creates a test publisher.
func NewChannelPublisher() *ChannelPublisher {
	return &ChannelPublisher{ch: make(chan TransitionEvent, 100)}
}

func (p *ChannelPublisher) Publish(ctx context.Context, evt TransitionEvent) error {
	p.ch <- evt
	return nil
}

func (p *ChannelPublisher) Close() error { return nil }

// Events returns the received-events channel.
func (p *ChannelPublisher) Events() <-chan TransitionEvent { return p.ch }

// Listener adapts a Publisher to the store's listener interface. Publish
// runs in its own goroutine so a slow broker cannot stall the per-agent
// transition lock.
type Listener struct {
	pub Publisher
}

// NewListener wraps a publisher.
func NewListener(pub Publisher) *Listener { return &Listener{pub: pub} }

func (l *Listener) OnTransition(from instance.State, rec instance.Record) {
	evt := TransitionEvent{
		AgentID:      rec.AgentID,
		InstanceName: rec.InstanceName,
		From:         string(from),
		To:           string(rec.State),
		RawStatus:    rec.RawStatus,
		At:           rec.UpdatedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.pub.Publish(ctx, evt); err != nil {
			slog.Warn("Transition relay publish failed", "agent_id", evt.AgentID, "error", err)
		}
	}()
}

func (l *Listener) OnDelete(agentID string) {
	evt := TransitionEvent{AgentID: agentID, To: string(instance.StateNone), At: time.Now().UTC()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.pub.Publish(ctx, evt); err != nil {
			slog.Warn("Delete relay publish failed", "agent_id", agentID, "error", err)
		}
	}()
}
