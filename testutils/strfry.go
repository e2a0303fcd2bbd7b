// testutils/strfry.go
package testutils

import (
	"context"
	"sync"
)

// MockPurger records which authors were purged.
type MockPurger struct {
	mu             sync.Mutex
	DeletedAuthors []string
}

func (c *MockPurger) DeleteEventsByAuthor(ctx context.Context, author string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DeletedAuthors = append(c.DeletedAuthors, author)
	return nil
}

func (c *MockPurger) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.DeletedAuthors))
	copy(out, c.DeletedAuthors)
	return out
}
