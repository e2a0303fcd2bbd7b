package policy

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nbd-wtf/go-nostr"

	"relay-warden/config"
	"relay-warden/list"
)

const rateLimitedMsg = "blocked: rate limit exceeded, please slow down"

// authorState is the per-identity rate state: the timestamps of recently
// accepted events plus an optional cooldown expiry.
type authorState struct {
	window        []time.Time
	cooldownUntil time.Time
}

// RateLimiterFilter enforces a two-tier budget per identity: a sliding
// window of recent accepted events, and a hard cooldown once the window
// fills. A window alone lets an abuser post at the window boundary forever;
// the cooldown imposes an uninterruptible penalty independent of subsequent
// window arithmetic.
type RateLimiterFilter struct {
	cfg    *config.RateLimitConfig
	states *lru.LRU[string, *authorState]
	mu     sync.Mutex
	now    func() time.Time
}

func NewRateLimiterFilter(cfg *config.RateLimitConfig) *RateLimiterFilter {
	size := cfg.CacheSize
	if size <= 0 {
		size = 65536
	}
	ttl := cfg.CacheTTL
	if min := cfg.Window + cfg.Cooldown; ttl < min {
		// State must outlive the penalty it encodes.
		ttl = min
	}

	return &RateLimiterFilter{
		cfg:    cfg,
		states: lru.NewLRU[string, *authorState](size, nil, ttl),
		now:    time.Now,
	}
}

func (f *RateLimiterFilter) Name() string { return "RateLimiterFilter" }

func (f *RateLimiterFilter) Check(ctx context.Context, event *nostr.Event, remoteIP string) *Result {
	if !f.cfg.Enabled {
		return Accept()
	}

	identity := list.Normalize(event.PubKey)
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.states.Get(identity)
	if !ok {
		st = &authorState{}
	}
	// Re-add on every check so the entry's TTL runs from the identity's most
	// recent event. Without the renewal a long-active identity expires out of
	// the cache mid-cooldown and its penalty is lost.
	defer f.states.Add(identity, st)

	// An active cooldown dominates: the window is not even consulted.
	if !st.cooldownUntil.IsZero() {
		if now.Before(st.cooldownUntil) {
			return Reject(rateLimitedMsg)
		}
		st.cooldownUntil = time.Time{}
	}

	// Lazily prune entries that fell out of the window.
	kept := st.window[:0]
	for _, ts := range st.window {
		if now.Sub(ts) < f.cfg.Window {
			kept = append(kept, ts)
		}
	}
	st.window = kept

	if len(st.window) >= f.cfg.Capacity {
		st.cooldownUntil = now.Add(f.cfg.Cooldown)
		return Reject(rateLimitedMsg)
	}

	// Only an accepted event consumes budget; rejections cost nothing.
	st.window = append(st.window, now)
	return Accept()
}
