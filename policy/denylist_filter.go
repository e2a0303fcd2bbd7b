package policy

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"relay-warden/config"
	"relay-warden/list"
)

// DenyListFilter rejects (or deletes, under a moderation policy) events whose
// author or source address is explicitly forbidden. It runs first: a deny hit
// overrides everything, including a stale allow-list entry.
type DenyListFilter struct {
	lists  *list.Cache
	action string
}

func NewDenyListFilter(lists *list.Cache, cfg *config.DenyListConfig) *DenyListFilter {
	action := config.ActionReject
	if cfg != nil && cfg.Action == config.ActionDelete {
		action = config.ActionDelete
	}
	return &DenyListFilter{lists: lists, action: action}
}

func (f *DenyListFilter) Name() string { return "DenyListFilter" }

func (f *DenyListFilter) Check(ctx context.Context, event *nostr.Event, remoteIP string) *Result {
	snap := f.lists.Current(list.Deny)
	if snap.Len() == 0 {
		return Accept()
	}

	if pk := list.Normalize(event.PubKey); pk != "" && snap.Contains(pk) {
		return Verdict(f.action, "blocked: pubkey is blacklisted on this relay")
	}
	if remoteIP != "" && snap.Contains(list.Normalize(remoteIP)) {
		return Verdict(f.action, "blocked: source address is blacklisted on this relay")
	}
	return Accept()
}
