package replay

import (
	"context"
	"sync"
	"time"
)

// Guard enforces single use of authorization codes. Consume returns true the
// first time a jti is seen and false on every later attempt until the entry
// expires. Codes are self-contained signed tokens, so without a guard the
// only replay protection is their short TTL.
type Guard interface {
	Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

// MemoryGuard is the in-process implementation. Suitable for a single
// instance; multi-instance deployments should use the Redis guard.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryGuard creates an empty guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]time.Time), now: time.Now}
}

// WithClock overrides the wall clock, for expiry tests.
func (g *MemoryGuard) WithClock(now func() time.Time) *MemoryGuard {
	g.now = now
	return g
}

// Consume records the jti and reports whether this was its first use.
func (g *MemoryGuard) Consume(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweepLocked(now)

	if expiry, ok := g.seen[jti]; ok && now.Before(expiry) {
		return false, nil
	}
	g.seen[jti] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGuard) sweepLocked(now time.Time) {
	for jti, expiry := range g.seen {
		if !now.Before(expiry) {
			delete(g.seen, jti)
		}
	}
}
