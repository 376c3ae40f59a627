// internal/adapter/memstore/store.go

package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"safeloc/internal/domain/event"
	"safeloc/internal/domain/share"
)

// Store is an in-memory event.Store. It enforces the same rules as the
// Postgres store: one active share session per owner, and share session
// updates that keep a session active only apply to active rows.
type Store struct {
	mu      sync.RWMutex
	records map[event.Kind]map[string]event.Record
	failure error
	writes  int
}

var _ event.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	records := make(map[event.Kind]map[string]event.Record, len(event.Kinds))
	for _, k := range event.Kinds {
		records[k] = make(map[string]event.Record)
	}
	return &Store{records: records}
}

// SetFailure makes every subsequent call fail with err wrapped as
// event.ErrStoreUnavailable. Pass nil to recover.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Writes returns the number of successful inserts and updates
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) failed() error {
	if s.failure != nil {
		return fmt.Errorf("%w: %v", event.ErrStoreUnavailable, s.failure)
	}
	return nil
}

// Insert stores a new record
func (s *Store) Insert(ctx context.Context, rec event.Record) (event.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failed(); err != nil {
		return nil, err
	}
	if err := checkRecord(rec); err != nil {
		return nil, err
	}
	table := s.records[rec.Kind()]
	if _, exists := table[rec.RecordID()]; exists {
		return nil, fmt.Errorf("%w: duplicate id %s", event.ErrConflict, rec.RecordID())
	}
	if sess, ok := rec.(share.Session); ok && sess.IsActive {
		for _, existing := range table {
			other := existing.(share.Session)
			if other.IsActive && other.OwnerID == sess.OwnerID {
				return nil, fmt.Errorf("%w: owner %s already has active session %s", event.ErrConflict, sess.OwnerID, other.ID)
			}
		}
	}

	table[rec.RecordID()] = rec
	s.writes++
	return rec, nil
}

// Update replaces a stored record
func (s *Store) Update(ctx context.Context, rec event.Record) (event.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failed(); err != nil {
		return nil, err
	}
	if err := checkRecord(rec); err != nil {
		return nil, err
	}
	table := s.records[rec.Kind()]
	existing, ok := table[rec.RecordID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", event.ErrNotFound, rec.Kind(), rec.RecordID())
	}
	if sess, ok := rec.(share.Session); ok && sess.IsActive {
		if !existing.(share.Session).IsActive {
			return nil, fmt.Errorf("%w: share session %s is no longer active", event.ErrNotFound, sess.ID)
		}
	}

	table[rec.RecordID()] = rec
	s.writes++
	return rec, nil
}

// Get returns a record by kind and id
func (s *Store) Get(ctx context.Context, kind event.Kind, id string) (event.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failed(); err != nil {
		return nil, err
	}
	rec, ok := s.records[kind][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", event.ErrNotFound, kind, id)
	}
	return rec, nil
}

// List returns records matching the query
func (s *Store) List(ctx context.Context, q event.Query) ([]event.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failed(); err != nil {
		return nil, err
	}

	var out []event.Record
	for _, rec := range s.records[q.Kind] {
		if q.OwnerID != "" && event.OwnerOf(rec) != q.OwnerID {
			continue
		}
		if q.ActiveOnly && !event.IsActive(rec) {
			continue
		}
		out = append(out, rec)
	}

	key := event.Record.RecordCreatedAt
	if q.OrderBy == event.OrderByUpdatedAt {
		key = event.Record.RecordUpdatedAt
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := key(out[i]), key(out[j])
		if a.Equal(b) {
			return out[i].RecordID() < out[j].RecordID()
		}
		if q.Ascending {
			return a.Before(b)
		}
		return a.After(b)
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func checkRecord(rec event.Record) error {
	switch rec.(type) {
	case share.Session, event.EmergencyAlert, event.HazardReport:
		return nil
	}
	return fmt.Errorf("%w: unsupported record type %T", event.ErrWriteRejected, rec)
}
