package middleware

import (
	"net/http"
	"sync"
	"time"

	"waygate/internal/pkg/errors"
)

// RateLimiter bounds per-tenant message sends with a refilling token bucket.
type RateLimiter struct {
	store *sync.Map // map[string]*bucket
	limit int
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
	lastAccess time.Time
}

func NewRateLimiter(messagesPerMinute int) *RateLimiter {
	if messagesPerMinute <= 0 {
		messagesPerMinute = 60
	}
	rl := &RateLimiter{
		store: &sync.Map{},
		limit: messagesPerMinute,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		rl.store.Range(func(key, value interface{}) bool {
			b := value.(*bucket)
			b.mu.Lock()
			if now.Sub(b.lastAccess) > 10*time.Minute {
				rl.store.Delete(key)
			}
			b.mu.Unlock()
			return true
		})
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	val, _ := rl.store.LoadOrStore(key, &bucket{
		tokens:     rl.limit,
		lastRefill: now,
		lastAccess: now,
	})

	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastAccess = now

	elapsed := now.Sub(b.lastRefill)
	refillRate := float64(rl.limit) / 60.0
	refillTokens := int(elapsed.Seconds() * refillRate)

	if refillTokens > 0 {
		if b.tokens+refillTokens > rl.limit {
			b.tokens = rl.limit
		} else {
			b.tokens += refillTokens
		}
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Handle applies the limit keyed by the validated tenant id; it must run
// after TenantMiddleware.
func (rl *RateLimiter) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(TenantID(r)) {
			w.Header().Set("Retry-After", "60")
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimited, "Message rate limit exceeded", nil)
			return
		}
		next(w, r)
	}
}
