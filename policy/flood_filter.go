package policy

import (
	"context"
	"net"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/time/rate"

	"relay-warden/config"
)

// FloodGuardFilter throttles bursts of previously-unseen pubkeys per source
// address. It protects against key-churning floods that the per-identity
// limiter cannot see, since every event arrives under a fresh identity.
type FloodGuardFilter struct {
	enabled bool

	recentSeen *lru.LRU[string, struct{}]
	limiters   *lru.LRU[string, *rate.Limiter]
	rate       rate.Limit
	burst      int

	ipv4Prefix int
	ipv6Prefix int
}

func NewFloodGuardFilter(cfg *config.FloodConfig) *FloodGuardFilter {
	if cfg == nil || !cfg.Enabled {
		return &FloodGuardFilter{enabled: false}
	}
	return &FloodGuardFilter{
		enabled:    true,
		recentSeen: lru.NewLRU[string, struct{}](cfg.CacheSize, nil, cfg.TTL),
		limiters:   lru.NewLRU[string, *rate.Limiter](cfg.CacheSize, nil, cfg.TTL),
		rate:       rate.Limit(cfg.Rate),
		burst:      cfg.Burst,
		ipv4Prefix: cfg.IPv4Prefix, // 0 => off
		ipv6Prefix: cfg.IPv6Prefix, // 0 => off
	}
}

func (f *FloodGuardFilter) Name() string { return "FloodGuardFilter" }

func (f *FloodGuardFilter) Check(ctx context.Context, event *nostr.Event, remoteIP string) *Result {
	if !f.enabled || event.PubKey == "" || remoteIP == "" {
		return Accept()
	}
	if _, ok := f.recentSeen.Get(event.PubKey); ok {
		return Accept()
	}

	key := maskIP(remoteIP, f.ipv4Prefix, f.ipv6Prefix)
	lim, ok := f.limiters.Get(key)
	if !ok || lim == nil {
		lim = rate.NewLimiter(f.rate, f.burst)
		f.limiters.Add(key, lim)
	}
	if !lim.Allow() {
		return Reject("blocked: too many new pubkeys from this address")
	}

	f.recentSeen.Add(event.PubKey, struct{}{})
	return Accept()
}

// maskIP reduces an address to its configured prefix so a flood spread over
// one subnet shares a single bucket.
func maskIP(ipStr string, v4Prefix, v6Prefix int) string {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ipStr
	}
	if v4 := ip.To4(); v4 != nil {
		if v4Prefix > 0 {
			return (&net.IPNet{
				IP:   v4.Mask(net.CIDRMask(v4Prefix, 32)),
				Mask: net.CIDRMask(v4Prefix, 32),
			}).String()
		}
		return v4.String()
	}
	if v6Prefix > 0 {
		return (&net.IPNet{
			IP:   ip.Mask(net.CIDRMask(v6Prefix, 128)),
			Mask: net.CIDRMask(v6Prefix, 128),
		}).String()
	}
	return ip.String()
}
