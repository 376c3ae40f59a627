// internal/service/fanout/service.go

package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"safeloc/internal/clock"
	"safeloc/internal/domain/event"
	"safeloc/internal/domain/share"
	"safeloc/internal/metrics"
)

// Service writes records to the store of record and pushes every
// mutation to realtime subscribers. Alerts, hazard reports and share
// sessions all go through it.
type Service struct {
	store   event.Store
	bus     event.Bus
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService creates a fanout service
func NewService(store event.Store, bus event.Bus, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		bus:     bus,
		clock:   clk,
		metrics: m,
		logger:  logger,
	}
}

// Append validates and inserts a new record, then publishes an insert.
// Missing ids and timestamps are filled in.
func (s *Service) Append(ctx context.Context, rec event.Record) (event.Record, error) {
	rec = s.prepare(rec)

	if err := validate(rec); err != nil {
		s.metrics.WriteFailed(string(rec.Kind()), "rejected")
		return nil, err
	}

	stored, err := s.store.Insert(ctx, rec)
	if err != nil {
		err = classify(err)
		s.metrics.WriteFailed(string(rec.Kind()), reason(err))
		return nil, err
	}
	s.metrics.EventAppended(string(stored.Kind()))

	s.publish(ctx, event.Change{Type: event.EventInsert, Kind: stored.Kind(), Record: stored})
	return stored, nil
}

// Update persists a mutation of an existing record, then publishes it
func (s *Service) Update(ctx context.Context, rec event.Record) (event.Record, error) {
	if err := validate(rec); err != nil {
		s.metrics.WriteFailed(string(rec.Kind()), "rejected")
		return nil, err
	}

	stored, err := s.store.Update(ctx, rec)
	if err != nil {
		err = classify(err)
		s.metrics.WriteFailed(string(rec.Kind()), reason(err))
		return nil, err
	}

	s.publish(ctx, event.Change{Type: event.EventUpdate, Kind: stored.Kind(), Record: stored})
	return stored, nil
}

// Get returns one record
func (s *Service) Get(ctx context.Context, kind event.Kind, id string) (event.Record, error) {
	rec, err := s.store.Get(ctx, kind, id)
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

// List performs a one-shot catch-up read
func (s *Service) List(ctx context.Context, q event.Query) ([]event.Record, error) {
	recs, err := s.store.List(ctx, q)
	if err != nil {
		return nil, classify(err)
	}
	return recs, nil
}

// Subscribe opens a realtime channel for a scope. The subscription
// must be released by the caller.
func (s *Service) Subscribe(scope event.Scope, onChange func(event.Change)) (event.Subscription, error) {
	sub, err := s.bus.Subscribe(scope, onChange)
	if err != nil {
		return nil, classify(err)
	}
	return sub, nil
}

// publish pushes a change after a durable write. The write stands even
// if the push fails; subscribers recover through a catch-up read.
func (s *Service) publish(ctx context.Context, c event.Change) {
	if err := s.bus.Publish(ctx, c); err != nil {
		s.logger.Warn("change notification not delivered",
			"kind", c.Kind, "id", c.Record.RecordID(), "type", c.Type, "error", err)
	}
}

func (s *Service) prepare(rec event.Record) event.Record {
	now := s.clock.Now().UTC()

	switch r := rec.(type) {
	case event.EmergencyAlert:
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.Position.CapturedAt.IsZero() {
			r.Position.CapturedAt = r.CreatedAt
		}
		if strings.TrimSpace(r.Message) == "" {
			r.Message = event.DefaultAlertMessage
		}
		return r
	case event.HazardReport:
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.Position.CapturedAt.IsZero() {
			r.Position.CapturedAt = r.CreatedAt
		}
		if r.AuthorID != nil && *r.AuthorID == "" {
			r.AuthorID = nil
		}
		if strings.TrimSpace(r.Category) == "" {
			r.Category = event.DefaultHazardCategory
		}
		return r
	case share.Session:
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = r.CreatedAt
		}
		return r
	}
	return rec
}

func validate(rec event.Record) error {
	if v, ok := rec.(event.Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", event.ErrWriteRejected, rec.Kind(), err)
		}
	}
	return nil
}

// classify maps store errors onto the event taxonomy. Anything the store
// does not label is treated as transient.
func classify(err error) error {
	switch {
	case errors.Is(err, event.ErrWriteRejected),
		errors.Is(err, event.ErrStoreUnavailable),
		errors.Is(err, event.ErrNotFound),
		errors.Is(err, event.ErrConflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %v", event.ErrStoreUnavailable, err)
}

func reason(err error) string {
	switch {
	case errors.Is(err, event.ErrWriteRejected):
		return "rejected"
	case errors.Is(err, event.ErrConflict):
		return "conflict"
	case errors.Is(err, event.ErrNotFound):
		return "not_found"
	}
	return "unavailable"
}
