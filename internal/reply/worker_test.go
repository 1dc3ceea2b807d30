package reply

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zaplink/zaplink/internal/bus"
	"github.com/zaplink/zaplink/internal/gatewayapi"
	"github.com/zaplink/zaplink/internal/replycache"
)

func TestCacheHitSkipsGeneration(t *testing.T) {
	var calls int32
	gen := GeneratorFunc(func(ctx context.Context, agentID, message string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "Olá! Como posso ajudar?", nil
	})
	gw := gatewayapi.NewFake()
	w := NewWorker(bus.NewMessageBus(), replycache.New(time.Minute, 16), gen, gw)

	msg := &bus.InboundMessage{
		AgentID:      "agent-7",
		InstanceName: "inst-7",
		ChatID:       "5511999@s.whatsapp.net",
		MessageID:    "m1",
		Text:         "olá, tudo bem?",
	}
	w.Handle(context.Background(), msg)

	// Same normalized text again: the cached reply is reused.
	msg2 := *msg
	msg2.MessageID = "m2"
	msg2.Text = "Olá tudo bem!"
	w.Handle(context.Background(), &msg2)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("generator invoked %d times, want 1", got)
	}
	sent := gw.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	if sent[0].Text != sent[1].Text {
		t.Fatalf("cache hit produced a different reply: %q vs %q", sent[0].Text, sent[1].Text)
	}
}

func TestGenerationFailureSendsNothing(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, agentID, message string) (string, error) {
		return "", errors.New("provider unavailable")
	})
	gw := gatewayapi.NewFake()
	w := NewWorker(bus.NewMessageBus(), replycache.New(time.Minute, 16), gen, gw)

	w.Handle(context.Background(), &bus.InboundMessage{
		AgentID: "a1", InstanceName: "i1", ChatID: "c1", MessageID: "m1", Text: "uma pergunta",
	})
	if len(gw.Sent()) != 0 {
		t.Fatal("failed generation must not send a reply")
	}
}

func TestRunConsumesFromBus(t *testing.T) {
	b := bus.NewMessageBus()
	gen := GeneratorFunc(func(ctx context.Context, agentID, message string) (string, error) {
		return "resposta", nil
	})
	gw := gatewayapi.NewFake()
	w := NewWorker(b, replycache.New(time.Minute, 16), gen, gw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	b.PublishInbound(&bus.InboundMessage{
		AgentID: "a1", InstanceName: "i1", ChatID: "c1", MessageID: "m1", Text: "pergunta longa",
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(gw.Sent()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if len(gw.Sent()) != 1 {
		t.Fatalf("sent = %d, want 1", len(gw.Sent()))
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
