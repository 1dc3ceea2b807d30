package poller

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zaplink/zaplink/internal/gatewayapi"
	"github.com/zaplink/zaplink/internal/instance"
)

func newTestStore(t *testing.T) *instance.Store {
	t.Helper()
	s, err := instance.NewStore(filepath.Join(t.TempDir(), "instances.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPollingStopsOnConnected(t *testing.T) {
	store := newTestStore(t)
	gw := gatewayapi.NewFake()
	store.Create("a1", "i1", "")
	gw.SetStatus("i1", gatewayapi.Status{State: "connecting", QRCode: "qr-1"})

	p := New(store, gw, 10*time.Millisecond, time.Minute)
	p.StartPolling("a1")
	t.Cleanup(p.StopAll)

	waitFor(t, time.Second, func() bool {
		rec, err := store.Get("a1")
		return err == nil && rec.State == instance.StateAwaitingQRScan && rec.QRCode == "qr-1"
	})

	gw.SetStatus("i1", gatewayapi.Status{State: "open"})
	waitFor(t, time.Second, func() bool {
		rec, _ := store.Get("a1")
		return rec.State == instance.StateConnected
	})
	waitFor(t, time.Second, func() bool { return !p.Polling("a1") })

	// Once connected, no further lookups are issued.
	settled := gw.Fetches()
	time.Sleep(50 * time.Millisecond)
	if gw.Fetches() != settled {
		t.Fatalf("poller kept calling gateway after CONNECTED: %d -> %d", settled, gw.Fetches())
	}
}

func TestPollingStopsWhenInstanceDeleted(t *testing.T) {
	store := newTestStore(t)
	gw := gatewayapi.NewFake()
	store.Create("a1", "i1", "")
	gw.SetStatus("i1", gatewayapi.Status{State: "connecting"})

	p := New(store, gw, 10*time.Millisecond, time.Minute)
	p.StartPolling("a1")
	t.Cleanup(p.StopAll)

	waitFor(t, time.Second, func() bool { return gw.Fetches() > 0 })
	store.Delete("a1")
	waitFor(t, time.Second, func() bool { return !p.Polling("a1") })
}

func TestTransportFailureKeepsCadenceAndState(t *testing.T) {
	store := newTestStore(t)
	gw := gatewayapi.NewFake()
	store.Create("a1", "i1", "")
	gw.StatusErr = errors.New("gateway unreachable")

	p := New(store, gw, 10*time.Millisecond, time.Minute)
	p.StartPolling("a1")
	t.Cleanup(p.StopAll)

	waitFor(t, time.Second, func() bool { return gw.Fetches() >= 3 })
	rec, _ := store.Get("a1")
	if rec.State != instance.StateCreated {
		t.Fatalf("transient failure mutated state: %s", rec.State)
	}
	if !p.Polling("a1") {
		t.Fatal("transient failure must not stop the loop")
	}
}

func TestMaxUnattendedDurationBoundsLoop(t *testing.T) {
	store := newTestStore(t)
	gw := gatewayapi.NewFake()
	store.Create("a1", "i1", "")
	gw.SetStatus("i1", gatewayapi.Status{State: "connecting"})

	p := New(store, gw, 10*time.Millisecond, 30*time.Millisecond)
	p.StartPolling("a1")
	t.Cleanup(p.StopAll)

	waitFor(t, time.Second, func() bool { return !p.Polling("a1") })
}

func TestStopPollingEffectiveWithinInterval(t *testing.T) {
	store := newTestStore(t)
	gw := gatewayapi.NewFake()
	store.Create("a1", "i1", "")
	gw.SetStatus("i1", gatewayapi.Status{State: "connecting"})

	p := New(store, gw, 10*time.Millisecond, time.Minute)
	p.StartPolling("a1")
	waitFor(t, time.Second, func() bool { return gw.Fetches() > 0 })

	p.StopPolling("a1")
	time.Sleep(30 * time.Millisecond)
	settled := gw.Fetches()
	time.Sleep(50 * time.Millisecond)
	if gw.Fetches() != settled {
		t.Fatalf("orphaned timer kept polling: %d -> %d", settled, gw.Fetches())
	}
}

func TestImmediateRestartSurvivesStaleLoopExit(t *testing.T) {
	store := newTestStore(t)
	gw := gatewayapi.NewFake()
	store.Create("a1", "i1", "")
	gw.SetStatus("i1", gatewayapi.Status{State: "connecting"})

	p := New(store, gw, 5*time.Millisecond, time.Minute)
	t.Cleanup(p.StopAll)

	// Stop followed at once by a restart (the resubscribe path): the
	// cancelled loop's exit cleanup must not take the new loop with it.
	for i := 0; i < 25; i++ {
		p.StartPolling("a1")
		time.Sleep(2 * time.Millisecond)
		p.StopPolling("a1")
		p.StartPolling("a1")
		time.Sleep(20 * time.Millisecond)
		if !p.Polling("a1") {
			t.Fatalf("iteration %d: restarted loop was cancelled by the previous loop's exit", i)
		}
		p.StopPolling("a1")
	}
}

func TestPollOnceIdempotentOnDisconnected(t *testing.T) {
	store := newTestStore(t)
	gw := gatewayapi.NewFake()
	store.Create("a1", "i1", "")
	store.ApplyTransition("a1", instance.StateAwaitingQRScan, instance.Payload{QRCode: "qr"})
	store.ApplyTransition("a1", instance.StateConnected, instance.Payload{})
	store.ApplyTransition("a1", instance.StateDisconnected, instance.Payload{RawStatus: "close"})

	gw.SetStatus("i1", gatewayapi.Status{State: "close"})
	p := New(store, gw, time.Second, time.Minute)

	rec, err := p.PollOnce(context.Background(), "a1")
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if rec.State != instance.StateDisconnected {
		t.Fatalf("refresh changed idempotent state: %s", rec.State)
	}
}

func TestPollOnceForMissingInstanceReportsNone(t *testing.T) {
	store := newTestStore(t)
	p := New(store, gatewayapi.NewFake(), time.Second, time.Minute)
	rec, err := p.PollOnce(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if rec.State != instance.StateNone {
		t.Fatalf("state = %s, want NONE", rec.State)
	}
}
