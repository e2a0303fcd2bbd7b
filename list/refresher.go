package list

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"relay-warden/store"
)

// Purger removes already-accepted events of a banned author from the relay.
type Purger interface {
	DeleteEventsByAuthor(ctx context.Context, author string) error
}

// RefreshObserver receives refresh outcomes, e.g. for metrics.
type RefreshObserver interface {
	ObserveRefresh(list string, ok bool)
	SetListEntries(list string, n int)
}

type registeredList struct {
	source   Source
	interval time.Duration
}

// Refresher periodically re-fetches each registered list on its own interval
// and swaps the result into the cache. A failed fetch keeps the previous
// snapshot; the engine never goes verdict-blind because of a transient
// failure.
type Refresher struct {
	cache    *Cache
	store    store.Store
	lists    map[Type]registeredList
	sf       singleflight.Group
	purger   Purger
	observer RefreshObserver
	now      func() time.Time
}

func NewRefresher(cache *Cache, st store.Store, purger Purger, observer RefreshObserver) *Refresher {
	return &Refresher{
		cache:    cache,
		store:    st,
		lists:    make(map[Type]registeredList),
		purger:   purger,
		observer: observer,
		now:      time.Now,
	}
}

// Register adds a list to the refresh schedule.
func (r *Refresher) Register(t Type, src Source, interval time.Duration) {
	r.lists[t] = registeredList{source: src, interval: interval}
}

// Bootstrap populates the cache before the engine starts deciding: first
// from the persisted record of each list (so a possibly stale list is usable
// immediately), then with a parallel first fetch. Fetch failures at boot are
// logged and tolerated.
func (r *Refresher) Bootstrap(ctx context.Context) {
	for t := range r.lists {
		r.loadPersisted(ctx, t)
	}

	g, gctx := errgroup.WithContext(ctx)
	for t := range r.lists {
		g.Go(func() error {
			if err := r.RefreshOnce(gctx, t); err != nil {
				slog.Warn("Initial list fetch failed, continuing with persisted snapshot",
					"list", t, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Run blocks until ctx is done, refreshing each list on its interval.
func (r *Refresher) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for t, reg := range r.lists {
		if reg.interval <= 0 {
			continue
		}
		interval := reg.interval
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := r.RefreshOnce(gctx, t); err != nil {
						slog.Warn("List refresh failed, keeping previous snapshot",
							"list", t, "error", err)
					}
				}
			}
		})
	}
	_ = g.Wait()
}

// RefreshOnce fetches one list and, on success, commits the new snapshot and
// persists it write-through. Concurrent refreshes of the same list collapse
// into one fetch.
func (r *Refresher) RefreshOnce(ctx context.Context, t Type) error {
	reg, ok := r.lists[t]
	if !ok {
		return nil
	}

	_, err, _ := r.sf.Do(string(t), func() (any, error) {
		snap, err := reg.source.Fetch(ctx)
		if err != nil {
			if r.observer != nil {
				r.observer.ObserveRefresh(string(t), false)
			}
			return nil, err
		}

		prev := r.cache.Current(t)
		r.cache.Replace(t, snap)
		r.persist(ctx, t, snap)

		if t == Deny && r.purger != nil {
			r.purgeNewlyDenied(ctx, prev, snap)
		}

		if r.observer != nil {
			r.observer.ObserveRefresh(string(t), true)
			r.observer.SetListEntries(string(t), snap.Len())
		}
		slog.Info("List refreshed", "list", t, "entries", snap.Len(), "source", snap.Source())
		return nil, nil
	})
	return err
}

func (r *Refresher) loadPersisted(ctx context.Context, t Type) {
	if r.store == nil {
		return
	}
	entries, fetchedAt, err := r.store.LoadList(ctx, string(t))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Failed to load persisted list, starting empty", "list", t, "error", err)
		}
		return
	}
	snap := NewSnapshot(entries, "persisted", fetchedAt)
	r.cache.Replace(t, snap)
	if r.observer != nil {
		r.observer.SetListEntries(string(t), snap.Len())
	}
	slog.Info("Loaded persisted list snapshot", "list", t, "entries", snap.Len(), "fetched_at", fetchedAt)
}

// persist writes the committed snapshot. Only validated fetches reach this
// point, never a payload that failed to parse.
func (r *Refresher) persist(ctx context.Context, t Type, snap *Snapshot) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveList(ctx, string(t), snap.Entries(), snap.FetchedAt()); err != nil {
		slog.Warn("Failed to persist list snapshot", "list", t, "error", err)
	}
}

// purgeNewlyDenied removes stored events of identities that entered the deny
// list with this refresh. Purge failures are logged, never fatal.
func (r *Refresher) purgeNewlyDenied(ctx context.Context, prev, next *Snapshot) {
	next.Range(func(entry string) bool {
		if prev.Contains(entry) {
			return true
		}
		if err := r.purger.DeleteEventsByAuthor(ctx, entry); err != nil {
			slog.Warn("Failed to purge events of newly denied author", "author", entry, "error", err)
		}
		return true
	})
}
