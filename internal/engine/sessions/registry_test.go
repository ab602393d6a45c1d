package sessions_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waygate/internal/engine/sessions"
	"waygate/internal/engine/sessions/clientfakes"
	apperrors "waygate/internal/pkg/errors"
)

type recordSink struct {
	ch chan sessions.TenantEvent
}

func newRecordSink() *recordSink {
	return &recordSink{ch: make(chan sessions.TenantEvent, 32)}
}

func (s *recordSink) SessionEvent(evt sessions.TenantEvent) {
	s.ch <- evt
}

func (s *recordSink) wait(t *testing.T, event string) sessions.TenantEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-s.ch:
			if evt.Event == event {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", event)
		}
	}
}

func waitStatus(t *testing.T, s *sessions.Session, want sessions.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %s (stuck at %s)", want, s.Status())
}

func newTestRegistry(t *testing.T, factory *clientfakes.Factory, opts ...func(*sessions.Config)) *sessions.Registry {
	t.Helper()
	cfg := sessions.Config{
		Factory:     factory.New,
		Probe:       sessions.NewCredentialProbe(t.TempDir()),
		SettleDelay: time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return sessions.NewRegistry(cfg)
}

func TestGetOrCreate_SingleFlight(t *testing.T) {
	var constructed int32
	release := make(chan struct{})

	factory := func(tenantID, credentialDir string) (sessions.Client, error) {
		atomic.AddInt32(&constructed, 1)
		<-release
		return clientfakes.New(tenantID), nil
	}
	reg := sessions.NewRegistry(sessions.Config{
		Factory:     factory,
		Probe:       sessions.NewCredentialProbe(t.TempDir()),
		SettleDelay: time.Millisecond,
	})

	const callers = 10
	results := make(chan *sessions.Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := reg.GetOrCreate(context.Background(), "acct-1")
			require.NoError(t, err)
			results <- s
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.EqualValues(t, 1, atomic.LoadInt32(&constructed), "exactly one client must be constructed")

	var first *sessions.Session
	for s := range results {
		if first == nil {
			first = s
			continue
		}
		assert.Same(t, first, s, "all callers must observe the same session")
	}
	assert.Equal(t, sessions.StatusInitializing, first.Status())
}

func TestGetOrCreate_RetryAfterFailure(t *testing.T) {
	factory := clientfakes.NewFactory()
	factory.NewErr = errors.New("chromium went missing")
	reg := newTestRegistry(t, factory)

	_, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.Error(t, err)

	// The in-flight entry is cleared on failure, so a later call may retry.
	factory.NewErr = nil
	s, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusInitializing, s.Status())
}

func TestDestroy_Idempotent(t *testing.T) {
	factory := clientfakes.NewFactory()
	reg := newTestRegistry(t, factory)

	// Destroying an absent tenant succeeds with no side effects.
	require.NoError(t, reg.Destroy(context.Background(), "ghost"))
	assert.Equal(t, 0, factory.ConstructedCount("ghost"))

	_, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)

	require.NoError(t, reg.Destroy(context.Background(), "acct-1"))
	require.NoError(t, reg.Destroy(context.Background(), "acct-1"))
	assert.Equal(t, 1, factory.Latest("acct-1").DestroyCallCount())

	_, ok := reg.Get("acct-1")
	assert.False(t, ok)
}

func TestDestroy_TeardownFailureStillRemoves(t *testing.T) {
	factory := clientfakes.NewFactory()
	factory.OnNew = func(c *clientfakes.FakeClient) {
		c.DestroyErr = errors.New("browser already gone")
	}
	reg := newTestRegistry(t, factory)

	_, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)

	require.NoError(t, reg.Destroy(context.Background(), "acct-1"), "teardown failures are absorbed")
	_, ok := reg.Get("acct-1")
	assert.False(t, ok, "entry must be removed regardless of teardown outcome")
}

func TestLifecycle_ReadySetsConnectedAtOnce(t *testing.T) {
	factory := clientfakes.NewFactory()
	sink := newRecordSink()
	reg := newTestRegistry(t, factory, func(cfg *sessions.Config) { cfg.Sink = sink })

	s, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)

	client := factory.Latest("acct-1")
	client.Emit(sessions.Event{Type: sessions.EventPairingCode, Code: "qr-blob-1"})
	waitStatus(t, s, sessions.StatusWaitingPairing)

	client.Emit(sessions.Event{Type: sessions.EventAuthenticated})
	waitStatus(t, s, sessions.StatusAuthenticated)

	client.Emit(sessions.Event{Type: sessions.EventReady})
	waitStatus(t, s, sessions.StatusReady)
	sink.wait(t, sessions.NotifyConnected)

	info := s.Snapshot()
	require.NotNil(t, info.ConnectedAt)
	first := *info.ConnectedAt

	// A disconnect does not clear connectedAt; it records the last
	// successful connection.
	client.Emit(sessions.Event{Type: sessions.EventDisconnected, Reason: "network"})
	waitStatus(t, s, sessions.StatusDisconnected)
	sink.wait(t, sessions.NotifyDisconnected)

	info = s.Snapshot()
	require.NotNil(t, info.ConnectedAt)
	assert.Equal(t, first, *info.ConnectedAt)
}

func TestLoggedOut_DropsCredentialAndRecreates(t *testing.T) {
	factory := clientfakes.NewFactory()
	probe := sessions.NewCredentialProbe(t.TempDir())
	reg := sessions.NewRegistry(sessions.Config{
		Factory:     factory.New,
		Probe:       probe,
		SettleDelay: time.Millisecond,
	})

	s, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(probe.Dir("acct-1"), 0755))

	factory.Latest("acct-1").Emit(sessions.Event{Type: sessions.EventDisconnected, Reason: sessions.DisconnectReasonLogout})
	waitStatus(t, s, sessions.StatusLoggedOut)

	deadline := time.Now().Add(2 * time.Second)
	for probe.Exists("acct-1") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, probe.Exists("acct-1"), "logout must invalidate the stored credential")

	// getOrCreate after logout is a fresh construction.
	s2, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.NotSame(t, s, s2)
	assert.Equal(t, 2, factory.ConstructedCount("acct-1"))
	assert.Equal(t, sessions.StatusInitializing, s2.Status())
}

func TestSendMessage_RequiresReady(t *testing.T) {
	factory := clientfakes.NewFactory()
	reg := newTestRegistry(t, factory)

	_, err := reg.SendMessage(context.Background(), "ghost", "11999887766", "hi")
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)

	s, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)

	_, err = reg.SendMessage(context.Background(), "acct-1", "11999887766", "hi")
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeNotReady, appErr.Code)
	assert.Empty(t, factory.Latest("acct-1").SentMessages(), "send capability must never be invoked before ready")

	client := factory.Latest("acct-1")
	client.Emit(sessions.Event{Type: sessions.EventAuthenticated})
	client.Emit(sessions.Event{Type: sessions.EventReady})
	waitStatus(t, s, sessions.StatusReady)

	receipt, err := reg.SendMessage(context.Background(), "acct-1", "11999887766", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.ID)

	sent := client.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "5511999887766@s.whatsapp.net", sent[0].Address)
	assert.Equal(t, "hi", sent[0].Text)
}

func TestWaitForReady(t *testing.T) {
	factory := clientfakes.NewFactory()
	reg := newTestRegistry(t, factory)

	_, err := reg.WaitForReady(context.Background(), "ghost", time.Second)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)

	s, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)

	_, err = reg.WaitForReady(context.Background(), "acct-1", 50*time.Millisecond)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeTimeout, appErr.Code)

	client := factory.Latest("acct-1")
	client.Emit(sessions.Event{Type: sessions.EventAuthenticated})
	client.Emit(sessions.Event{Type: sessions.EventReady})
	waitStatus(t, s, sessions.StatusReady)

	got, err := reg.WaitForReady(context.Background(), "acct-1", time.Second)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestRequestPairingCode_WindowLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	factory := clientfakes.NewFactory()
	sink := newRecordSink()
	reg := sessions.NewRegistry(sessions.Config{
		Factory:     factory.New,
		Probe:       sessions.NewCredentialProbe(t.TempDir()),
		Clock:       clock,
		Sink:        sink,
		SettleDelay: time.Millisecond,
	})

	s, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)

	factory.Latest("acct-1").Emit(sessions.Event{Type: sessions.EventPairingCode, Code: "qr-blob-1"})
	waitStatus(t, s, sessions.StatusWaitingPairing)

	bundle, err := reg.RequestPairingCode(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "qr", bundle.Status)
	assert.Equal(t, "qr-blob-1", bundle.Code)
	assert.Equal(t, 60, bundle.ExpiresInSeconds)

	active, remaining := reg.PairingState("acct-1")
	assert.True(t, active)
	assert.Equal(t, 60, remaining)

	// A second request inside the window conflicts with actionable timing.
	_, err = reg.RequestPairingCode(context.Background(), "acct-1")
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeConflict, appErr.Code)
	details, ok := appErr.Details.(map[string]int)
	require.True(t, ok)
	assert.GreaterOrEqual(t, details["retryAfterSeconds"], 0)
	assert.LessOrEqual(t, details["retryAfterSeconds"], 60)

	// The expiry is timer-driven and exact at issuedAt+60s.
	clock.BlockUntil(1)
	clock.Advance(sessions.PairingWindowTTL)
	sink.wait(t, sessions.NotifyPairingWindowExpired)

	active, _ = reg.PairingState("acct-1")
	assert.False(t, active)

	// A new window may now be opened.
	bundle, err = reg.RequestPairingCode(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "qr", bundle.Status)
}

func TestRequestPairingCode_CodeArrivalTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	factory := clientfakes.NewFactory()
	reg := sessions.NewRegistry(sessions.Config{
		Factory:     factory.New,
		Probe:       sessions.NewCredentialProbe(t.TempDir()),
		Clock:       clock,
		SettleDelay: time.Millisecond,
	})

	_, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)

	type result struct {
		bundle *sessions.CodeBundle
		err    error
	}
	done := make(chan result, 1)
	go func() {
		b, err := reg.RequestPairingCode(context.Background(), "acct-1")
		done <- result{b, err}
	}()

	// Two timers are pending: the 60s window and the caller's 10s
	// code-arrival bound.
	clock.BlockUntil(2)
	clock.Advance(10 * time.Second)

	res := <-done
	var appErr *apperrors.Error
	require.ErrorAs(t, res.err, &appErr)
	assert.Equal(t, apperrors.ErrCodeTimeout, appErr.Code)

	// A slow code arrival does not reset the caller-visible expiry clock:
	// the window is still running out on its own schedule.
	active, remaining := reg.PairingState("acct-1")
	assert.True(t, active)
	assert.Equal(t, 50, remaining)
}

func TestRequestPairingCode_ReadySession(t *testing.T) {
	factory := clientfakes.NewFactory()
	reg := newTestRegistry(t, factory)

	s, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)

	client := factory.Latest("acct-1")
	client.Emit(sessions.Event{Type: sessions.EventAuthenticated})
	client.Emit(sessions.Event{Type: sessions.EventReady})
	waitStatus(t, s, sessions.StatusReady)

	bundle, err := reg.RequestPairingCode(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "ready", bundle.Status)
	assert.Empty(t, bundle.Code)
}

func TestReplace_IsolatedPerTenant(t *testing.T) {
	factory := clientfakes.NewFactory()
	reg := newTestRegistry(t, factory)

	a1, err := reg.GetOrCreate(context.Background(), "acct-a")
	require.NoError(t, err)
	b, err := reg.GetOrCreate(context.Background(), "acct-b")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond) // ensure CreatedAt moves

	a2, err := reg.Replace(context.Background(), "acct-a", true)
	require.NoError(t, err)

	assert.NotSame(t, a1, a2)
	assert.NotEqual(t, a1.CreatedAt, a2.CreatedAt)
	assert.Equal(t, 2, factory.ConstructedCount("acct-a"))
	assert.NotNil(t, a2.Snapshot().ReplacedAt)

	// Unrelated tenants are untouched.
	got, ok := reg.Get("acct-b")
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Equal(t, 1, factory.ConstructedCount("acct-b"))
}

func TestReplace_WithoutPreserveStateDropsCredentials(t *testing.T) {
	factory := clientfakes.NewFactory()
	probe := sessions.NewCredentialProbe(t.TempDir())
	reg := newTestRegistry(t, factory, func(c *sessions.Config) { c.Probe = probe })

	_, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(probe.Dir("acct-1"), 0700))

	_, err = reg.Replace(context.Background(), "acct-1", false)
	require.NoError(t, err)
	assert.False(t, probe.Exists("acct-1"))

	// With preserveState the stored credentials survive.
	require.NoError(t, os.MkdirAll(probe.Dir("acct-1"), 0700))
	_, err = reg.Replace(context.Background(), "acct-1", true)
	require.NoError(t, err)
	assert.True(t, probe.Exists("acct-1"))
}

func TestDrainAll(t *testing.T) {
	factory := clientfakes.NewFactory()
	reg := newTestRegistry(t, factory)

	for _, id := range []string{"acct-1", "acct-2", "acct-3"} {
		_, err := reg.GetOrCreate(context.Background(), id)
		require.NoError(t, err)
	}

	reg.DrainAll(context.Background())

	for _, id := range []string{"acct-1", "acct-2", "acct-3"} {
		_, ok := reg.Get(id)
		assert.False(t, ok, "%s must be drained", id)
		assert.Equal(t, 1, factory.Latest(id).DestroyCallCount())
	}

	// Draining again is a no-op.
	reg.DrainAll(context.Background())
	for _, id := range []string{"acct-1", "acct-2", "acct-3"} {
		assert.Equal(t, 1, factory.Latest(id).DestroyCallCount())
	}
}

func TestCounts(t *testing.T) {
	factory := clientfakes.NewFactory()
	reg := newTestRegistry(t, factory)

	s1, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)
	_, err = reg.GetOrCreate(context.Background(), "acct-2")
	require.NoError(t, err)

	c := factory.Latest("acct-1")
	c.Emit(sessions.Event{Type: sessions.EventAuthenticated})
	c.Emit(sessions.Event{Type: sessions.EventReady})
	waitStatus(t, s1, sessions.StatusReady)

	counts := reg.Counts()
	assert.Equal(t, 1, counts[sessions.StatusReady])
	assert.Equal(t, 1, counts[sessions.StatusInitializing])
}

func TestMessageEventsReachSink(t *testing.T) {
	factory := clientfakes.NewFactory()
	sink := newRecordSink()
	reg := newTestRegistry(t, factory, func(cfg *sessions.Config) { cfg.Sink = sink })

	_, err := reg.GetOrCreate(context.Background(), "acct-1")
	require.NoError(t, err)

	msg := &sessions.InboundMessage{ID: "m1", From: "5511999887766", Body: "oi", Timestamp: time.Now()}
	factory.Latest("acct-1").Emit(sessions.Event{Type: sessions.EventMessage, Message: msg})

	evt := sink.wait(t, sessions.NotifyMessage)
	assert.Equal(t, "acct-1", evt.TenantID)
	assert.Equal(t, msg, evt.Data)
}
