package list

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relay-warden/testutils"

	"github.com/stretchr/testify/require"
)

// stubSource serves queued snapshots or errors in order.
type stubSource struct {
	mu      sync.Mutex
	results []stubResult
	calls   int
}

type stubResult struct {
	entries []string
	err     error
}

func (s *stubSource) Label() string { return "stub" }

func (s *stubSource) Fetch(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return nil, errors.New("stub exhausted")
	}
	res := s.results[0]
	s.results = s.results[1:]
	s.calls++
	if res.err != nil {
		return nil, res.err
	}
	return NewSnapshot(res.entries, "stub", time.Now()), nil
}

func TestRefresherCommitsAndPersists(t *testing.T) {
	cache := NewCache()
	st := testutils.NewInMemoryStore()
	r := NewRefresher(cache, st, nil, nil)
	r.Register(Allow, &stubSource{results: []stubResult{{entries: []string{"aaa111"}}}}, 0)

	require.NoError(t, r.RefreshOnce(context.Background(), Allow))
	require.True(t, cache.Current(Allow).Contains("aaa111"))

	// Write-through: the committed snapshot is durably recorded.
	entries, _, err := st.LoadList(context.Background(), string(Allow))
	require.NoError(t, err)
	require.Equal(t, []string{"aaa111"}, entries)
}

func TestRefresherKeepsSnapshotOnFailure(t *testing.T) {
	cache := NewCache()
	st := testutils.NewInMemoryStore()
	r := NewRefresher(cache, st, nil, nil)
	r.Register(Allow, &stubSource{results: []stubResult{
		{entries: []string{"aaa111"}},
		{err: errors.New("origin down")},
	}}, 0)

	ctx := context.Background()
	require.NoError(t, r.RefreshOnce(ctx, Allow))
	require.Error(t, r.RefreshOnce(ctx, Allow))

	// The failed fetch must not overwrite the committed snapshot, in memory
	// or on disk.
	require.True(t, cache.Current(Allow).Contains("aaa111"))
	entries, _, err := st.LoadList(ctx, string(Allow))
	require.NoError(t, err)
	require.Equal(t, []string{"aaa111"}, entries)
	require.Equal(t, 1, st.SaveCalls)
}

func TestRefresherBootstrapFromPersisted(t *testing.T) {
	ctx := context.Background()
	st := testutils.NewInMemoryStore()
	require.NoError(t, st.SaveList(ctx, string(Deny), []string{"bad111"}, time.Now().Add(-time.Hour)))

	cache := NewCache()
	r := NewRefresher(cache, st, nil, nil)
	// The fetch fails, so the persisted snapshot must carry the engine.
	r.Register(Deny, &stubSource{results: []stubResult{{err: errors.New("origin down")}}}, 0)

	r.Bootstrap(ctx)
	require.True(t, cache.Current(Deny).Contains("bad111"))
}

func TestRefresherPurgesNewlyDenied(t *testing.T) {
	ctx := context.Background()
	cache := NewCache()
	purger := &testutils.MockPurger{}
	r := NewRefresher(cache, testutils.NewInMemoryStore(), purger, nil)
	r.Register(Deny, &stubSource{results: []stubResult{
		{entries: []string{"bad111"}},
		{entries: []string{"bad111", "bad222"}},
	}}, 0)

	require.NoError(t, r.RefreshOnce(ctx, Deny))
	require.NoError(t, r.RefreshOnce(ctx, Deny))

	// Each identity is purged once, when it enters the list; bad111 is not
	// purged again by the second refresh.
	require.Equal(t, []string{"bad111", "bad222"}, purger.Deleted())
}

func TestRefresherUnregisteredListIsNoop(t *testing.T) {
	r := NewRefresher(NewCache(), nil, nil, nil)
	require.NoError(t, r.RefreshOnce(context.Background(), Words))
}
