package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"waygate/internal/pkg/errors"
	"waygate/internal/pkg/phone"
)

const readyPollInterval = time.Second

// Config wires a Registry's collaborators. Factory and Probe are required;
// everything else has a sensible default.
type Config struct {
	Factory ClientFactory
	Probe   *CredentialProbe
	Sink    Sink
	Clock   clockwork.Clock

	// SettleDelay is the mandatory pause between destroying a session and
	// recreating it for the same tenant. The old client needs time to release
	// the shared credential segment before a new one claims it; skipping the
	// delay risks contention on the credential storage.
	SettleDelay time.Duration

	ToAddress func(raw string) (string, error)
}

// Registry owns every Session and PairingWindow, keyed by tenant. It is the
// only component that creates, transitions and destroys sessions.
type Registry struct {
	factory     ClientFactory
	probe       *CredentialProbe
	sink        Sink
	clock       clockwork.Clock
	settleDelay time.Duration
	toAddress   func(string) (string, error)
	log         zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	windows  map[string]*PairingWindow
	inflight map[string]*inflightCreate
}

// inflightCreate tracks one in-progress construction. Concurrent callers for
// the same tenant all wait on done and observe the same outcome; the entry is
// removed once construction settles so a later call may retry after failure.
type inflightCreate struct {
	done    chan struct{}
	session *Session
	err     error
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Sink == nil {
		cfg.Sink = nopSink{}
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = time.Second
	}
	if cfg.ToAddress == nil {
		cfg.ToAddress = phone.WireAddress
	}

	return &Registry{
		factory:     cfg.Factory,
		probe:       cfg.Probe,
		sink:        cfg.Sink,
		clock:       cfg.Clock,
		settleDelay: cfg.SettleDelay,
		toAddress:   cfg.ToAddress,
		log:         log.With().Str("component", "registry").Logger(),
		sessions:    make(map[string]*Session),
		windows:     make(map[string]*PairingWindow),
		inflight:    make(map[string]*inflightCreate),
	}
}

// Get is a non-blocking lookup with no side effects and no disk probing.
func (r *Registry) Get(tenantID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	return s, ok
}

// GetOrCreate returns the tenant's session, constructing it when absent. A
// persisted credential segment on disk is loaded transparently. Sessions that
// have given up (disconnected or logged out) are recycled into a fresh
// construction, destroying the old entry first.
//
// Concurrent calls for the same tenant share a single in-flight construction:
// no second external client is ever built while one is being built.
func (r *Registry) GetOrCreate(ctx context.Context, tenantID string) (*Session, error) {
	for {
		r.mu.Lock()
		if s, ok := r.sessions[tenantID]; ok {
			st := s.Status()
			if st != StatusDisconnected && st != StatusLoggedOut {
				r.mu.Unlock()
				return s, nil
			}
			r.mu.Unlock()
			if err := r.Destroy(ctx, tenantID); err != nil {
				return nil, err
			}
			r.clock.Sleep(r.settleDelay)
			continue
		}

		if fl, ok := r.inflight[tenantID]; ok {
			r.mu.Unlock()
			select {
			case <-fl.done:
				return fl.session, fl.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		fl := &inflightCreate{done: make(chan struct{})}
		r.inflight[tenantID] = fl
		r.mu.Unlock()

		sess, err := r.startSession(tenantID)

		r.mu.Lock()
		if err == nil {
			r.sessions[tenantID] = sess
		}
		delete(r.inflight, tenantID)
		r.mu.Unlock()

		fl.session, fl.err = sess, err
		close(fl.done)
		return sess, err
	}
}

func (r *Registry) startSession(tenantID string) (*Session, error) {
	fromDisk := r.probe.Exists(tenantID)

	client, err := r.factory(tenantID, r.probe.Dir(tenantID))
	if err != nil {
		r.log.Error().Err(err).Str("tenant", tenantID).Msg("client construction failed")
		return nil, errors.Internal(err)
	}

	sess := &Session{
		TenantID:  tenantID,
		CreatedAt: r.clock.Now(),
		client:    client,
		status:    StatusInitializing,
	}

	r.log.Info().Str("tenant", tenantID).Bool("from_disk", fromDisk).Msg("session created")

	go r.pump(sess)
	go func() {
		if err := client.Initialize(context.Background()); err != nil {
			r.log.Error().Err(err).Str("tenant", tenantID).Msg("client initialization failed")
			r.apply(sess, Event{Type: EventAuthFailure, Error: err.Error()})
		}
	}()

	return sess, nil
}

// pump is the single reader of the client's event channel, so lifecycle
// events are observed in emission order.
func (r *Registry) pump(s *Session) {
	for ev := range s.client.Events() {
		r.apply(s, ev)
	}
}

func (r *Registry) apply(s *Session, ev Event) {
	switch ev.Type {
	case EventMessage:
		r.notify(TenantEvent{Event: NotifyMessage, TenantID: s.TenantID, Timestamp: r.clock.Now(), Data: ev.Message})
		return
	case EventMessageAck:
		r.notify(TenantEvent{Event: NotifyMessageAck, TenantID: s.TenantID, Timestamp: r.clock.Now(), Data: ev.Ack})
		return
	}

	s.mu.Lock()
	next, ok := transition(s.status, ev)
	if !ok {
		cur := s.status
		s.mu.Unlock()
		r.log.Debug().Str("tenant", s.TenantID).Str("status", string(cur)).Str("event", string(ev.Type)).Msg("ignoring event")
		return
	}
	prev := s.status
	s.status = next

	var waiters []chan string
	switch next {
	case StatusWaitingPairing:
		s.pairingCode = ev.Code
		waiters = s.codeWaiters
		s.codeWaiters = nil
	case StatusAuthenticated:
		s.pairingCode = ""
	case StatusReady:
		if s.connectedAt.IsZero() {
			s.connectedAt = r.clock.Now()
		}
	case StatusAuthFailure:
		s.lastError = ev.Error
	case StatusDisconnected, StatusLoggedOut:
		s.pairingCode = ""
	}
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- ev.Code
	}

	r.log.Info().Str("tenant", s.TenantID).Str("from", string(prev)).Str("to", string(next)).Msg("session transition")

	switch next {
	case StatusWaitingPairing:
		r.stashWindowCode(s.TenantID, ev.Code)
	case StatusAuthenticated:
		// Authenticating implicitly closes the window; no expiry notification.
		r.closeWindow(s.TenantID, false)
	case StatusReady:
		r.notify(TenantEvent{Event: NotifyConnected, TenantID: s.TenantID, Timestamp: r.clock.Now()})
	case StatusDisconnected:
		r.closeWindow(s.TenantID, false)
		r.notify(TenantEvent{Event: NotifyDisconnected, TenantID: s.TenantID, Timestamp: r.clock.Now(),
			Data: map[string]string{"reason": ev.Reason}})
	case StatusLoggedOut:
		r.closeWindow(s.TenantID, false)
		// A logout invalidates the stored credential; drop the segment so a
		// later GetOrCreate cannot reuse stale state.
		if err := r.probe.Remove(s.TenantID); err != nil {
			r.log.Warn().Err(err).Str("tenant", s.TenantID).Msg("could not remove credential segment")
		}
		r.notify(TenantEvent{Event: NotifyDisconnected, TenantID: s.TenantID, Timestamp: r.clock.Now(),
			Data: map[string]string{"reason": DisconnectReasonLogout}})
	}
}

func (r *Registry) notify(evt TenantEvent) {
	r.sink.SessionEvent(evt)
}

// Destroy tears a session down and removes it from the registry. It is
// idempotent: destroying an absent tenant is a successful no-op. Teardown
// failures are logged, never propagated; the in-memory entry and the pairing
// window are dropped regardless.
func (r *Registry) Destroy(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	s := r.sessions[tenantID]
	delete(r.sessions, tenantID)
	delete(r.windows, tenantID)
	r.mu.Unlock()

	if s == nil {
		return nil
	}

	if err := s.client.Destroy(ctx); err != nil {
		r.log.Warn().Err(err).Str("tenant", tenantID).Msg("client teardown failed")
	}
	r.log.Info().Str("tenant", tenantID).Msg("session destroyed")
	return nil
}

// Replace recreates the tenant's session: destroy, settle, create. Without
// preserveState the stored credentials are dropped too, forcing a fresh
// pairing. The settle delay is mandatory (see Config.SettleDelay).
func (r *Registry) Replace(ctx context.Context, tenantID string, preserveState bool) (*Session, error) {
	if err := r.Destroy(ctx, tenantID); err != nil {
		return nil, err
	}
	if !preserveState {
		if err := r.probe.Remove(tenantID); err != nil {
			r.log.Warn().Err(err).Str("tenant", tenantID).Msg("failed to drop stored credentials on replace")
		}
	}
	r.clock.Sleep(r.settleDelay)

	s, err := r.GetOrCreate(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.markReplaced(r.clock.Now())
	return s, nil
}

// WaitForReady blocks until the tenant's session reaches ready, polling at a
// fixed short interval. NotFound when the tenant is absent, Timeout when the
// session is still not ready after the given duration.
func (r *Registry) WaitForReady(ctx context.Context, tenantID string, timeout time.Duration) (*Session, error) {
	deadline := r.clock.After(timeout)
	ticker := r.clock.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		s, ok := r.Get(tenantID)
		if !ok {
			return nil, errors.NotFound("session not found")
		}
		if s.Status() == StatusReady {
			return s, nil
		}

		select {
		case <-deadline:
			return nil, errors.Timeout("session did not become ready in time")
		case <-ticker.Chan():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// SendMessage delivers text to a destination through the tenant's session.
// The session must be ready; in any other status the external send capability
// is never invoked. A tenant absent from memory but present on disk is loaded
// first.
func (r *Registry) SendMessage(ctx context.Context, tenantID, to, text string) (Receipt, error) {
	s, ok := r.Get(tenantID)
	if !ok {
		if !r.probe.Exists(tenantID) {
			return Receipt{}, errors.NotFound("session not found")
		}
		var err error
		s, err = r.GetOrCreate(ctx, tenantID)
		if err != nil {
			return Receipt{}, err
		}
	}

	if st := s.Status(); st != StatusReady {
		return Receipt{}, errors.NotReady("session is " + string(st) + ", not ready")
	}

	address, err := r.toAddress(to)
	if err != nil {
		return Receipt{}, err
	}

	receipt, err := s.client.SendText(ctx, address, text)
	if err != nil {
		return Receipt{}, errors.Internal(err)
	}
	return receipt, nil
}

// RequestPairingCode opens a pairing window for the tenant and returns the
// current code. Already-ready sessions short-circuit; an active window is a
// Conflict carrying the seconds left until re-issuance is allowed.
func (r *Registry) RequestPairingCode(ctx context.Context, tenantID string) (*CodeBundle, error) {
	s, err := r.GetOrCreate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if s.Status() == StatusReady {
		return &CodeBundle{Status: "ready", Message: "session already authenticated"}, nil
	}

	r.mu.Lock()
	if w := r.windows[tenantID]; w != nil && w.active {
		remaining := int(PairingWindowTTL.Seconds() - r.clock.Since(w.issuedAt).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		r.mu.Unlock()
		return nil, errors.Conflict("pairing window already active",
			map[string]int{"retryAfterSeconds": remaining})
	}
	w := &PairingWindow{active: true, issuedAt: r.clock.Now()}
	r.windows[tenantID] = w
	expiresAt := w.issuedAt.Add(PairingWindowTTL)
	r.mu.Unlock()

	go r.expireWindow(tenantID, w)

	if code, ok := s.cachedCode(); ok {
		r.stashWindowCode(tenantID, code)
		return r.codeBundle(code, expiresAt), nil
	}

	// The window timer above keeps running on its own: a slow code arrival
	// must not reset the caller-visible expiry clock.
	waiter := s.addCodeWaiter()
	select {
	case code := <-waiter:
		return r.codeBundle(code, expiresAt), nil
	case <-r.clock.After(codeArrivalTimeout):
		return nil, errors.Timeout("pairing code did not arrive in time")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) codeBundle(code string, expiresAt time.Time) *CodeBundle {
	remaining := int(expiresAt.Sub(r.clock.Now()).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &CodeBundle{
		Status:           "qr",
		Code:             code,
		ExpiresInSeconds: remaining,
		ExpiresAt:        expiresAt,
		Instructions:     pairingInstructions,
	}
}

func (r *Registry) expireWindow(tenantID string, w *PairingWindow) {
	<-r.clock.After(PairingWindowTTL)

	r.mu.Lock()
	cur := r.windows[tenantID]
	if cur != w || !w.active {
		// The window was replaced or already closed; this timer is stale.
		r.mu.Unlock()
		return
	}
	w.active = false
	r.mu.Unlock()

	r.log.Info().Str("tenant", tenantID).Msg("pairing window expired")
	r.notify(TenantEvent{Event: NotifyPairingWindowExpired, TenantID: tenantID, Timestamp: r.clock.Now()})
}

// closeWindow deactivates the tenant's pairing window, optionally dropping it
// entirely.
func (r *Registry) closeWindow(tenantID string, drop bool) {
	r.mu.Lock()
	if w := r.windows[tenantID]; w != nil {
		w.active = false
	}
	if drop {
		delete(r.windows, tenantID)
	}
	r.mu.Unlock()
}

func (r *Registry) stashWindowCode(tenantID, code string) {
	r.mu.Lock()
	if w := r.windows[tenantID]; w != nil {
		w.code = code
	}
	r.mu.Unlock()
}

// PairingState reports whether the tenant's window is active and how many
// seconds remain.
func (r *Registry) PairingState(tenantID string) (active bool, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.windows[tenantID]
	if w == nil || !w.active {
		return false, 0
	}
	remaining = int(PairingWindowTTL.Seconds() - r.clock.Since(w.issuedAt).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}

// Counts aggregates in-memory sessions by status.
func (r *Registry) Counts() map[Status]int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	counts := make(map[Status]int)
	for _, s := range sessions {
		counts[s.Status()]++
	}
	return counts
}

// AllTenants merges in-memory tenants with those persisted on disk.
func (r *Registry) AllTenants() []string {
	seen := make(map[string]bool)

	r.mu.Lock()
	for id := range r.sessions {
		seen[id] = true
	}
	r.mu.Unlock()

	for _, id := range r.probe.List() {
		seen[id] = true
	}

	tenants := make([]string, 0, len(seen))
	for id := range seen {
		tenants = append(tenants, id)
	}
	sort.Strings(tenants)
	return tenants
}

// DrainAll destroys every session concurrently and waits for all teardowns to
// settle. Individual failures are logged by Destroy and never abort the
// drain. Safe to call from a termination signal handler, repeatedly.
func (r *Registry) DrainAll(ctx context.Context) {
	r.mu.Lock()
	tenants := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		tenants = append(tenants, id)
	}
	r.mu.Unlock()

	if len(tenants) == 0 {
		return
	}
	r.log.Info().Int("count", len(tenants)).Msg("draining sessions")

	var wg sync.WaitGroup
	for _, id := range tenants {
		wg.Add(1)
		go func(tenantID string) {
			defer wg.Done()
			_ = r.Destroy(ctx, tenantID)
		}(id)
	}
	wg.Wait()
}
