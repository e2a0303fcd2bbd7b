package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const listPrefix = "list:"

// ErrNotFound is returned when no record exists for a list.
var ErrNotFound = errors.New("store: record not found")

// Store persists one durable record per list type: the serialized entry set
// plus the time it was fetched. Records are read once at startup and written
// after each successful refresh.
type Store interface {
	SaveList(ctx context.Context, name string, entries []string, fetchedAt time.Time) error
	LoadList(ctx context.Context, name string) ([]string, time.Time, error)
	Close() error
}

type listRecord struct {
	Entries   []string  `json:"entries"`
	FetchedAt time.Time `json:"fetched_at"`
}

// BadgerStore is the production implementation of Store on BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to BadgerDB's logger interface.
type badgerLogger struct {
	*slog.Logger
}

func (l *badgerLogger) Warningf(f string, v ...any) { l.Warn(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Errorf(f string, v ...any)   { l.Error(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Infof(f string, v ...any)    {}
func (l *badgerLogger) Debugf(f string, v ...any)   {}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)

	// List records are small; keep them in the LSM tree instead of the
	// value log.
	opts.ValueThreshold = 1024
	opts.Logger = &badgerLogger{slog.Default()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) SaveList(ctx context.Context, name string, entries []string, fetchedAt time.Time) error {
	value, err := json.Marshal(listRecord{Entries: entries, FetchedAt: fetchedAt})
	if err != nil {
		return fmt.Errorf("encoding list %q: %w", name, err)
	}
	key := []byte(listPrefix + name)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *BadgerStore) LoadList(ctx context.Context, name string) ([]string, time.Time, error) {
	key := []byte(listPrefix + name)
	var rec listRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return rec.Entries, rec.FetchedAt, nil
}
