// Package clientfakes provides a hand-written fake of the external chat
// client for tests.
package clientfakes

import (
	"context"
	"sync"
	"time"

	"waygate/internal/engine/sessions"
)

// FakeClient implements sessions.Client. Tests drive it by emitting events;
// it records calls for assertions.
type FakeClient struct {
	TenantID string

	mu          sync.Mutex
	events      chan sessions.Event
	closed      bool
	initialized int
	destroyed   int
	sent        []SentMessage

	// InitializeErr, when set, is returned from Initialize.
	InitializeErr error
	// SendErr, when set, is returned from SendText.
	SendErr error
	// DestroyErr, when set, is returned from Destroy.
	DestroyErr error
}

type SentMessage struct {
	Address string
	Text    string
}

func New(tenantID string) *FakeClient {
	return &FakeClient{
		TenantID: tenantID,
		events:   make(chan sessions.Event, 16),
	}
}

func (f *FakeClient) Initialize(ctx context.Context) error {
	f.mu.Lock()
	f.initialized++
	f.mu.Unlock()
	return f.InitializeErr
}

func (f *FakeClient) Events() <-chan sessions.Event {
	return f.events
}

func (f *FakeClient) SendText(ctx context.Context, address, text string) (sessions.Receipt, error) {
	f.mu.Lock()
	f.sent = append(f.sent, SentMessage{Address: address, Text: text})
	f.mu.Unlock()
	if f.SendErr != nil {
		return sessions.Receipt{}, f.SendErr
	}
	return sessions.Receipt{ID: "msg-1", Timestamp: time.Now()}, nil
}

func (f *FakeClient) Destroy(ctx context.Context) error {
	f.mu.Lock()
	f.destroyed++
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	f.mu.Unlock()
	return f.DestroyErr
}

// Emit pushes an event into the client's channel. No-op after Destroy.
func (f *FakeClient) Emit(ev sessions.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- ev
}

func (f *FakeClient) InitializeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *FakeClient) DestroyCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *FakeClient) SentMessages() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// Factory returns a sessions.ClientFactory that records every constructed
// client and its construction count.
type Factory struct {
	mu      sync.Mutex
	clients map[string][]*FakeClient

	// NewErr, when set, fails construction.
	NewErr error
	// OnNew, when set, is invoked with each freshly built client before it
	// is returned, letting tests pre-wire behavior.
	OnNew func(*FakeClient)
}

func NewFactory() *Factory {
	return &Factory{clients: make(map[string][]*FakeClient)}
}

func (f *Factory) New(tenantID, credentialDir string) (sessions.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	c := New(tenantID)
	if f.OnNew != nil {
		f.OnNew(c)
	}
	f.clients[tenantID] = append(f.clients[tenantID], c)
	return c, nil
}

// ConstructedCount reports how many clients were built for a tenant.
func (f *Factory) ConstructedCount(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients[tenantID])
}

// Latest returns the most recently constructed client for a tenant.
func (f *Factory) Latest(tenantID string) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.clients[tenantID]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}
