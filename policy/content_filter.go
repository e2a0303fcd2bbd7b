package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"relay-warden/config"
	"relay-warden/list"
)

// ContentFilter applies the spam heuristics: a link-count ceiling and a
// banned-word containment check against the refreshed word list plus an
// optional inline seed list. It runs last; content scanning is the most
// expensive check and only reached once identity filtering has passed.
type ContentFilter struct {
	cfg    *config.ContentConfig
	lists  *list.Cache
	seed   []string
	action string
}

func NewContentFilter(lists *list.Cache, cfg *config.ContentConfig) *ContentFilter {
	action := config.ActionReject
	if cfg.Action == config.ActionDelete {
		action = config.ActionDelete
	}
	seed := make([]string, 0, len(cfg.BannedWords))
	for _, w := range cfg.BannedWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			seed = append(seed, w)
		}
	}
	return &ContentFilter{cfg: cfg, lists: lists, seed: seed, action: action}
}

func (f *ContentFilter) Name() string { return "ContentFilter" }

func (f *ContentFilter) Check(ctx context.Context, event *nostr.Event, remoteIP string) *Result {
	if !f.cfg.Enabled {
		return Accept()
	}

	// URL schemes are counted case-sensitively; the two counts are disjoint
	// since "https://" never contains "http://".
	links := strings.Count(event.Content, "http://") + strings.Count(event.Content, "https://")
	if links > f.cfg.MaxLinks {
		return Verdict(f.action, fmt.Sprintf("blocked: too many links in content (%d > %d)", links, f.cfg.MaxLinks))
	}

	// Substring containment on lowercased content, deliberately not
	// tokenized: a banned word hidden inside a longer word still matches.
	lowered := strings.ToLower(event.Content)
	for _, word := range f.seed {
		if strings.Contains(lowered, word) {
			return Verdict(f.action, "blocked: content contains a banned word")
		}
	}

	var hit bool
	f.lists.Current(list.Words).Range(func(word string) bool {
		if strings.Contains(lowered, word) {
			hit = true
			return false
		}
		return true
	})
	if hit {
		return Verdict(f.action, "blocked: content contains a banned word")
	}

	return Accept()
}
