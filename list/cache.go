package list

import "sync/atomic"

// Cache holds the current snapshot of each list type. Replacement is an
// atomic pointer swap, so a decision in progress always sees one complete
// snapshot, never a torn mix of old and new entries.
type Cache struct {
	allow atomic.Pointer[Snapshot]
	deny  atomic.Pointer[Snapshot]
	words atomic.Pointer[Snapshot]
}

func NewCache() *Cache {
	c := &Cache{}
	empty := EmptySnapshot()
	c.allow.Store(empty)
	c.deny.Store(empty)
	c.words.Store(empty)
	return c
}

// Current returns the latest committed snapshot for a list type. It never
// blocks and never returns nil.
func (c *Cache) Current(t Type) *Snapshot {
	return c.pointer(t).Load()
}

// Replace swaps in a new snapshot for a list type.
func (c *Cache) Replace(t Type, s *Snapshot) {
	if s == nil {
		return
	}
	c.pointer(t).Store(s)
}

func (c *Cache) pointer(t Type) *atomic.Pointer[Snapshot] {
	switch t {
	case Allow:
		return &c.allow
	case Deny:
		return &c.deny
	default:
		return &c.words
	}
}
