// internal/service/fanout/layer.go

package fanout

import (
	"context"
	"sort"
	"sync"
	"time"

	"safeloc/internal/domain/event"
)

// Layer keeps a deduplicated live view of one record kind, merging a
// catch-up read with the realtime channel. Each record id holds its
// newest version and versions older than one already seen are dropped.
// Deleted ids are tombstoned so a late catch-up row cannot bring them back.
type Layer struct {
	query     event.Query
	onApplied func(event.Change)

	mu         sync.Mutex
	records    map[string]event.Record
	seen       map[string]time.Time
	tombstones map[string]struct{}
	sub        event.Subscription
	closed     bool
}

// Follow subscribes to q.Kind and then loads the catch-up rows, so no
// change between the read and the subscription is missed. onApplied,
// when set, runs for every change that altered the view.
func (s *Service) Follow(ctx context.Context, q event.Query, onApplied func(event.Change)) (*Layer, error) {
	l := &Layer{
		query:      q,
		onApplied:  onApplied,
		records:    make(map[string]event.Record),
		seen:       make(map[string]time.Time),
		tombstones: make(map[string]struct{}),
	}

	sub, err := s.Subscribe(event.Scope{Kind: q.Kind}, l.apply)
	if err != nil {
		return nil, err
	}

	catchUp := q
	catchUp.Limit = 0
	recs, err := s.List(ctx, catchUp)
	if err != nil {
		sub.Release()
		return nil, err
	}

	l.mu.Lock()
	l.sub = sub
	for _, rec := range recs {
		l.upsertLocked(rec)
	}
	l.mu.Unlock()

	return l, nil
}

// Snapshot returns the current records, newest first
func (l *Layer) Snapshot() []event.Record {
	l.mu.Lock()
	out := make([]event.Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].RecordUpdatedAt(), out[j].RecordUpdatedAt()
		if a.Equal(b) {
			return out[i].RecordID() > out[j].RecordID()
		}
		return a.After(b)
	})
	if l.query.Limit > 0 && len(out) > l.query.Limit {
		out = out[:l.query.Limit]
	}
	return out
}

// Len returns the number of records in view
func (l *Layer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Close releases the realtime subscription
func (l *Layer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	sub := l.sub
	l.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Release()
}

func (l *Layer) apply(c event.Change) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}

	var changed bool
	if c.Type == event.EventDelete {
		changed = l.deleteLocked(c.Record.RecordID())
	} else {
		changed = l.upsertLocked(c.Record)
	}
	l.mu.Unlock()

	if changed && l.onApplied != nil {
		l.onApplied(c)
	}
}

func (l *Layer) upsertLocked(rec event.Record) bool {
	id := rec.RecordID()
	if _, gone := l.tombstones[id]; gone {
		return false
	}

	if last, ok := l.seen[id]; ok && rec.RecordUpdatedAt().Before(last) {
		return false
	}
	l.seen[id] = rec.RecordUpdatedAt()

	if !l.matches(rec) {
		if _, ok := l.records[id]; ok {
			delete(l.records, id)
			return true
		}
		return false
	}

	l.records[id] = rec
	return true
}

func (l *Layer) deleteLocked(id string) bool {
	l.tombstones[id] = struct{}{}
	if _, ok := l.records[id]; ok {
		delete(l.records, id)
		return true
	}
	return false
}

func (l *Layer) matches(rec event.Record) bool {
	if l.query.OwnerID != "" && event.OwnerOf(rec) != l.query.OwnerID {
		return false
	}
	if l.query.ActiveOnly && !event.IsActive(rec) {
		return false
	}
	return true
}
