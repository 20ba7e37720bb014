package core

import (
	"sync"
	"time"
)

const (
	// DefaultMaxSkew bounds how far a request timestamp may drift from the
	// server clock.
	DefaultMaxSkew = 2 * time.Minute
	// DefaultNonceTTL is how long a nonce is remembered.
	DefaultNonceTTL = 10 * time.Minute
)

// ReplayGuard rejects stale requests and nonces that were already used.
// Expired nonces are evicted lazily on each check.
type ReplayGuard struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	maxSkew time.Duration
	ttl     time.Duration
	now     func() time.Time
}

// NewReplayGuard creates a guard. Zero durations select the defaults.
func NewReplayGuard(maxSkew, ttl time.Duration) *ReplayGuard {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &ReplayGuard{
		seen:    make(map[string]time.Time),
		maxSkew: maxSkew,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Check validates a (nonce, ts) pair, with ts in unix milliseconds.
// A missing nonce or timestamp is invalid_body.
func (g *ReplayGuard) Check(nonce string, ts int64) error {
	if nonce == "" || ts == 0 {
		return Errorf(CodeInvalidBody, "nonce and ts required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for n, at := range g.seen {
		if now.Sub(at) > g.ttl {
			delete(g.seen, n)
		}
	}

	// A remembered nonce is a replay whatever its timestamp.
	if _, ok := g.seen[nonce]; ok {
		return fail(CodeReplayDetected)
	}
	skew := now.Sub(time.UnixMilli(ts))
	if skew < 0 {
		skew = -skew
	}
	if skew > g.maxSkew {
		return Errorf(CodeStaleRequest, "timestamp off by %s", skew.Round(time.Second))
	}
	g.seen[nonce] = now
	return nil
}

// Len reports how many nonces are currently remembered.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
