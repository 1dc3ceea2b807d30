package hub

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zaplink/zaplink/internal/instance"
)

type fakePoller struct {
	mu     sync.Mutex
	active map[string]bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{active: map[string]bool{}}
}

func (f *fakePoller) StartPolling(agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[agentID] = true
}

func (f *fakePoller) StopPolling(agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, agentID)
}

func (f *fakePoller) polling(agentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[agentID]
}

func newTestHub(t *testing.T, ttl time.Duration) (*Hub, *instance.Store, *fakePoller) {
	t.Helper()
	store, err := instance.NewStore(filepath.Join(t.TempDir(), "instances.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	fp := newFakePoller()
	h := New(store, fp, ttl)
	store.AddListener(h)
	return h, store, fp
}

func recv(t *testing.T, ch <-chan instance.Record) instance.Record {
	t.Helper()
	select {
	case rec, ok := <-ch:
		if !ok {
			t.Fatal("stream closed unexpectedly")
		}
		return rec
	case <-time.After(time.Second):
		t.Fatal("no snapshot within 1s")
	}
	return instance.Record{}
}

func TestSubscribeDeliversImmediateSnapshot(t *testing.T) {
	h, store, _ := newTestHub(t, time.Minute)
	store.Create("a1", "i1", "")

	id, ch := h.Subscribe("a1")
	defer h.Unsubscribe("a1", id)

	rec := recv(t, ch)
	if rec.State != instance.StateCreated {
		t.Fatalf("initial snapshot = %s", rec.State)
	}
}

func TestSubscribeWithoutRecordReportsNone(t *testing.T) {
	h, _, fp := newTestHub(t, time.Minute)
	id, ch := h.Subscribe("ghost")
	defer h.Unsubscribe("ghost", id)

	if rec := recv(t, ch); rec.State != instance.StateNone {
		t.Fatalf("snapshot = %s, want NONE", rec.State)
	}
	if fp.polling("ghost") {
		t.Fatal("no record, polling must stay off")
	}
}

func TestTransitionsAreBroadcastToAllObservers(t *testing.T) {
	h, store, _ := newTestHub(t, time.Minute)
	store.Create("a1", "i1", "")

	id1, ch1 := h.Subscribe("a1")
	id2, ch2 := h.Subscribe("a1")
	defer h.Unsubscribe("a1", id1)
	defer h.Unsubscribe("a1", id2)
	recv(t, ch1)
	recv(t, ch2)

	store.ApplyTransition("a1", instance.StateAwaitingQRScan, instance.Payload{QRCode: "qr"})

	for _, ch := range []<-chan instance.Record{ch1, ch2} {
		rec := recv(t, ch)
		if rec.State != instance.StateAwaitingQRScan || rec.QRCode != "qr" {
			t.Fatalf("broadcast snapshot = %+v", rec)
		}
	}
}

func TestSubscribeNeverMissesConcurrentTransition(t *testing.T) {
	for i := 0; i < 30; i++ {
		func() {
			h, store, _ := newTestHub(t, time.Minute)
			store.Create("a1", "i1", "")

			// Race the pairing completion against Subscribe. Whatever the
			// interleaving, the subscriber must observe CONNECTED through
			// the initial snapshot or a broadcast.
			done := make(chan struct{})
			go func() {
				defer close(done)
				store.ApplyTransition("a1", instance.StateAwaitingQRScan, instance.Payload{QRCode: "qr"})
				store.ApplyTransition("a1", instance.StateConnected, instance.Payload{})
			}()
			id, ch := h.Subscribe("a1")
			<-done
			defer h.Unsubscribe("a1", id)

			timeout := time.After(time.Second)
			for {
				select {
				case rec, ok := <-ch:
					if !ok {
						t.Fatal("stream closed unexpectedly")
					}
					if rec.State == instance.StateConnected {
						return
					}
				case <-timeout:
					t.Fatalf("iteration %d: transition committed during Subscribe was never delivered", i)
				}
			}
		}()
	}
}

func TestPollingGatedByObserversAndState(t *testing.T) {
	h, store, fp := newTestHub(t, time.Minute)
	store.Create("a1", "i1", "")

	// No observers yet: creation alone must not start polling.
	if fp.polling("a1") {
		t.Fatal("polling started without observers")
	}

	id, ch := h.Subscribe("a1")
	recv(t, ch)
	if !fp.polling("a1") {
		t.Fatal("observer present and not connected: polling must run")
	}

	store.ApplyTransition("a1", instance.StateAwaitingQRScan, instance.Payload{QRCode: "qr"})
	store.ApplyTransition("a1", instance.StateConnected, instance.Payload{})
	if fp.polling("a1") {
		t.Fatal("polling must stop once CONNECTED")
	}

	// Disconnect while observed: polling resumes.
	store.ApplyTransition("a1", instance.StateDisconnected, instance.Payload{RawStatus: "close"})
	if !fp.polling("a1") {
		t.Fatal("polling must resume on DISCONNECTED with observers")
	}

	h.Unsubscribe("a1", id)
	if fp.polling("a1") {
		t.Fatal("last unsubscribe must stop polling")
	}
}

func TestNoPollsAfterLastUnsubscribeUntilNewObserver(t *testing.T) {
	h, store, fp := newTestHub(t, time.Minute)
	store.Create("a1", "i1", "")

	id, ch := h.Subscribe("a1")
	recv(t, ch)
	h.Unsubscribe("a1", id)
	if fp.polling("a1") {
		t.Fatal("polling survives with zero observers")
	}

	id2, ch2 := h.Subscribe("a1")
	defer h.Unsubscribe("a1", id2)
	recv(t, ch2)
	if !fp.polling("a1") {
		t.Fatal("new observer must restart polling")
	}
}

func TestDeleteClosesStreamsAndStopsPolling(t *testing.T) {
	h, store, fp := newTestHub(t, time.Minute)
	store.Create("a1", "i1", "")
	_, ch := h.Subscribe("a1")
	recv(t, ch)

	store.Delete("a1")

	// Final NONE snapshot, then closed stream.
	rec := recv(t, ch)
	if rec.State != instance.StateNone {
		t.Fatalf("final snapshot = %s, want NONE", rec.State)
	}
	if _, ok := <-ch; ok {
		t.Fatal("stream not closed after delete")
	}
	if fp.polling("a1") {
		t.Fatal("polling survives delete")
	}
	if h.Observers("a1") != 0 {
		t.Fatal("observers not cleared on delete")
	}
}

func TestLivenessReaperDropsSilentObservers(t *testing.T) {
	h, store, fp := newTestHub(t, 30*time.Millisecond)
	store.Create("a1", "i1", "")
	id, ch := h.Subscribe("a1")
	recv(t, ch)
	if !fp.polling("a1") {
		t.Fatal("polling should run")
	}

	// Never touched: the reaper must drop the subscriber and with it the
	// polling loop.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && h.Observers("a1") > 0 {
		h.reap(time.Now())
		time.Sleep(10 * time.Millisecond)
	}
	if h.Observers("a1") != 0 {
		t.Fatal("stale observer not reaped")
	}
	if fp.polling("a1") {
		t.Fatal("reaped observer left polling running")
	}
	_ = id
}

func TestTouchExtendsLiveness(t *testing.T) {
	h, store, _ := newTestHub(t, 50*time.Millisecond)
	store.Create("a1", "i1", "")
	id, ch := h.Subscribe("a1")
	recv(t, ch)

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		h.Touch("a1", id)
		h.reap(time.Now())
	}
	if h.Observers("a1") != 1 {
		t.Fatal("touched observer was reaped")
	}
}
