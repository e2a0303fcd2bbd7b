package policy

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"relay-warden/config"
	"relay-warden/list"
)

const defaultNotWhitelistedMsg = "blocked: pubkey is not whitelisted on this relay"

// AllowListFilter gates writes on allow-list membership. An empty snapshot
// means "no restriction configured" and the stage is skipped, so a failed
// first fetch cannot lock every writer out.
type AllowListFilter struct {
	lists   *list.Cache
	enabled bool
	msg     string
}

func NewAllowListFilter(lists *list.Cache, cfg *config.AllowListConfig) *AllowListFilter {
	f := &AllowListFilter{lists: lists, msg: defaultNotWhitelistedMsg}
	if cfg != nil {
		f.enabled = cfg.Enabled
		if cfg.Message != "" {
			f.msg = cfg.Message
		}
	}
	return f
}

func (f *AllowListFilter) Name() string { return "AllowListFilter" }

func (f *AllowListFilter) Check(ctx context.Context, event *nostr.Event, remoteIP string) *Result {
	if !f.enabled {
		return Accept()
	}
	snap := f.lists.Current(list.Allow)
	if snap.Len() == 0 {
		return Accept()
	}
	// An absent pubkey normalizes to "" and is never a member.
	if !snap.Contains(list.Normalize(event.PubKey)) {
		return Reject(f.msg)
	}
	return Accept()
}
