package sessions

import (
	"sync"
	"time"
)

// Session is one tenant's live chat-account session. The registry exclusively
// owns all instances; at most one exists per tenant at a time.
type Session struct {
	TenantID  string
	CreatedAt time.Time

	client Client

	mu          sync.Mutex
	status      Status
	pairingCode string
	connectedAt time.Time
	lastError   string
	replacedAt  time.Time
	codeWaiters []chan string
}

// Info is the externally visible snapshot of a session.
type Info struct {
	TenantID    string     `json:"tenantId"`
	Status      Status     `json:"status"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ReplacedAt  *time.Time `json:"replacedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		TenantID:  s.TenantID,
		Status:    s.status,
		CreatedAt: s.CreatedAt,
		Error:     s.lastError,
	}
	if !s.connectedAt.IsZero() {
		t := s.connectedAt
		info.ConnectedAt = &t
	}
	if !s.replacedAt.IsZero() {
		t := s.replacedAt
		info.ReplacedAt = &t
	}
	return info
}

// cachedCode returns the pairing code last seen from the client, if any.
func (s *Session) cachedCode() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairingCode, s.pairingCode != ""
}

// addCodeWaiter registers a waiter for the next pairing code. The returned
// channel receives at most one code.
func (s *Session) addCodeWaiter() chan string {
	ch := make(chan string, 1)
	s.mu.Lock()
	s.codeWaiters = append(s.codeWaiters, ch)
	s.mu.Unlock()
	return ch
}

func (s *Session) markReplaced(at time.Time) {
	s.mu.Lock()
	s.replacedAt = at
	s.mu.Unlock()
}
