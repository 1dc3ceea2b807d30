package gatewayapi

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-process Client implementation for tests.
type Fake struct {
	mu        sync.Mutex
	instances map[string]Status
	sent      []SentText
	nextID    int

	// StatusErr, when set, makes FetchStatus fail (simulates an
	// unreachable gateway).
	StatusErr error
	// FetchCalls counts FetchStatus invocations.
	FetchCalls int
}

// SentText records one SendText call.
type SentText struct {
	InstanceName string
	To           string
	Text         string
}

// NewFake creates an empty fake gateway.
func NewFake() *Fake {
	return &Fake{instances: map[string]Status{}}
}

func (f *Fake) CreateInstance(ctx context.Context, agentID, label string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	name := fmt.Sprintf("fake-inst-%d", f.nextID)
	f.instances[name] = Status{State: "connecting"}
	return name, nil
}

func (f *Fake) FetchStatus(ctx context.Context, instanceName string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchCalls++
	if f.StatusErr != nil {
		return Status{}, f.StatusErr
	}
	st, ok := f.instances[instanceName]
	if !ok {
		return Status{}, fmt.Errorf("unknown instance %s", instanceName)
	}
	return st, nil
}

func (f *Fake) DeleteInstance(ctx context.Context, instanceName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, instanceName)
	return nil
}

func (f *Fake) SendText(ctx context.Context, instanceName, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentText{InstanceName: instanceName, To: to, Text: text})
	return nil
}

// SetStatus sets the status the fake reports for an instance.
func (f *Fake) SetStatus(instanceName string, st Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[instanceName] = st
}

// Sent returns a copy of all SendText calls.
func (f *Fake) Sent() []SentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentText, len(f.sent))
	copy(out, f.sent)
	return out
}

// Fetches returns the FetchStatus call count.
func (f *Fake) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FetchCalls
}
