package list

import (
	"sort"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr/nip19"
)

// Type names one of the managed lists.
type Type string

const (
	Allow Type = "allow"
	Deny  Type = "deny"
	Words Type = "words"
)

// Snapshot is an immutable point-in-time view of one list. A refresh builds
// a brand-new Snapshot and swaps it in wholesale; readers never observe a
// partially updated set.
type Snapshot struct {
	entries   map[string]struct{}
	fetchedAt time.Time
	source    string
}

// Normalize converts an identity to the canonical form used for all set
// membership: trimmed, lowercase hex.
func Normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// NewSnapshot builds a snapshot from raw entries. Every entry is normalized,
// and entries in npub form are stored under both the bech32 original and the
// decoded hex key, so a lookup succeeds regardless of which encoding the
// event's pubkey arrives in.
func NewSnapshot(entries []string, source string, fetchedAt time.Time) *Snapshot {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		e = Normalize(e)
		if e == "" {
			continue
		}
		set[e] = struct{}{}
		if strings.HasPrefix(e, "npub1") {
			if prefix, value, err := nip19.Decode(e); err == nil && prefix == "npub" {
				if hex, ok := value.(string); ok {
					set[Normalize(hex)] = struct{}{}
				}
			}
		}
	}
	return &Snapshot{entries: set, fetchedAt: fetchedAt, source: source}
}

// EmptySnapshot returns a placeholder with no entries, used before the first
// load so Cache.Current never returns nil.
func EmptySnapshot() *Snapshot {
	return &Snapshot{entries: map[string]struct{}{}}
}

// Contains reports membership of an already-normalized value.
func (s *Snapshot) Contains(v string) bool {
	_, ok := s.entries[v]
	return ok
}

// Range calls fn for every entry until fn returns false.
func (s *Snapshot) Range(fn func(entry string) bool) {
	for e := range s.entries {
		if !fn(e) {
			return
		}
	}
}

// Entries returns a sorted copy of the membership set.
func (s *Snapshot) Entries() []string {
	out := make([]string, 0, len(s.entries))
	for e := range s.entries {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func (s *Snapshot) Len() int             { return len(s.entries) }
func (s *Snapshot) FetchedAt() time.Time { return s.fetchedAt }
func (s *Snapshot) Source() string       { return s.source }
