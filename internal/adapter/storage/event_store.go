// internal/adapter/storage/event_store.go

package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"safeloc/internal/domain/event"
	"safeloc/internal/domain/geo"
	"safeloc/internal/domain/share"
)

//go:embed schema.sql
var schema string

// DB is the subset of *pgxpool.Pool the store uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// EventStore implements event.Store on Postgres
type EventStore struct {
	db DB
}

var _ event.Store = (*EventStore)(nil)

// NewEventStore creates a new event store
func NewEventStore(db DB) *EventStore {
	return &EventStore{
		db: db,
	}
}

// Migrate creates the tables and indexes if they do not exist
func (s *EventStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("error applying schema: %w", err)
	}
	return nil
}

// table describes how one record kind maps onto its table
type table struct {
	name        string
	columns     string
	ownerColumn string
	activeOnly  string
}

var tables = map[event.Kind]table{
	event.KindEmergencyAlerts: {
		name:        "emergency_alerts",
		columns:     "id, author_id, message, latitude, longitude, accuracy_meters, captured_at, created_at",
		ownerColumn: "author_id",
	},
	event.KindHazardReports: {
		name:        "hazard_reports",
		columns:     "id, author_id, description, category, latitude, longitude, accuracy_meters, captured_at, created_at",
		ownerColumn: "author_id",
	},
	event.KindShareSessions: {
		name:        "share_sessions",
		columns:     "id, owner_id, latitude, longitude, accuracy_meters, captured_at, is_active, created_at, updated_at, expires_at",
		ownerColumn: "owner_id",
		activeOnly:  "is_active",
	},
}

func lookupTable(kind event.Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("%w: unknown kind %q", event.ErrWriteRejected, kind)
	}
	return t, nil
}

// Insert writes a new record
func (s *EventStore) Insert(ctx context.Context, rec event.Record) (event.Record, error) {
	var (
		query string
		args  []interface{}
	)

	switch r := rec.(type) {
	case event.EmergencyAlert:
		query = `
			INSERT INTO emergency_alerts (
				id, author_id, message, latitude, longitude, accuracy_meters, captured_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		args = []interface{}{
			r.ID, r.AuthorID, r.Message,
			r.Position.Latitude, r.Position.Longitude, r.Position.AccuracyMeters, r.Position.CapturedAt,
			r.CreatedAt,
		}

	case event.HazardReport:
		query = `
			INSERT INTO hazard_reports (
				id, author_id, description, category, latitude, longitude, accuracy_meters, captured_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		args = []interface{}{
			r.ID, r.AuthorID, r.Description, r.Category,
			r.Position.Latitude, r.Position.Longitude, r.Position.AccuracyMeters, r.Position.CapturedAt,
			r.CreatedAt,
		}

	case share.Session:
		query = `
			INSERT INTO share_sessions (
				id, owner_id, latitude, longitude, accuracy_meters, captured_at,
				is_active, created_at, updated_at, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		args = []interface{}{
			r.ID, r.OwnerID,
			r.Position.Latitude, r.Position.Longitude, r.Position.AccuracyMeters, r.Position.CapturedAt,
			r.IsActive, r.CreatedAt, r.UpdatedAt, r.ExpiresAt,
		}

	default:
		return nil, fmt.Errorf("%w: unsupported record type %T", event.ErrWriteRejected, rec)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return nil, mapError("inserting "+string(rec.Kind()), err)
	}
	return rec, nil
}

// Update replaces a record. A share session update that keeps the
// session active only matches a row that is still active, so a late
// refresh can never revive a stopped session.
func (s *EventStore) Update(ctx context.Context, rec event.Record) (event.Record, error) {
	var (
		query string
		args  []interface{}
	)

	switch r := rec.(type) {
	case event.EmergencyAlert:
		query = `
			UPDATE emergency_alerts
			SET message = $2, latitude = $3, longitude = $4, accuracy_meters = $5, captured_at = $6
			WHERE id = $1
		`
		args = []interface{}{
			r.ID, r.Message,
			r.Position.Latitude, r.Position.Longitude, r.Position.AccuracyMeters, r.Position.CapturedAt,
		}

	case event.HazardReport:
		query = `
			UPDATE hazard_reports
			SET description = $2, category = $3, latitude = $4, longitude = $5, accuracy_meters = $6, captured_at = $7
			WHERE id = $1
		`
		args = []interface{}{
			r.ID, r.Description, r.Category,
			r.Position.Latitude, r.Position.Longitude, r.Position.AccuracyMeters, r.Position.CapturedAt,
		}

	case share.Session:
		query = `
			UPDATE share_sessions
			SET
				latitude = $2,
				longitude = $3,
				accuracy_meters = $4,
				captured_at = $5,
				is_active = $6,
				updated_at = $7,
				expires_at = $8
			WHERE id = $1 AND (is_active OR NOT $6)
		`
		args = []interface{}{
			r.ID,
			r.Position.Latitude, r.Position.Longitude, r.Position.AccuracyMeters, r.Position.CapturedAt,
			r.IsActive, r.UpdatedAt, r.ExpiresAt,
		}

	default:
		return nil, fmt.Errorf("%w: unsupported record type %T", event.ErrWriteRejected, rec)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return nil, mapError("updating "+string(rec.Kind()), err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s %s", event.ErrNotFound, rec.Kind(), rec.RecordID())
	}
	return rec, nil
}

// Get returns a record by kind and id
func (s *EventStore) Get(ctx context.Context, kind event.Kind, id string) (event.Record, error) {
	t, err := lookupTable(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", t.columns, t.name)
	rec, err := scanRecord(kind, s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %s", event.ErrNotFound, kind, id)
		}
		return nil, mapError("querying "+string(kind), err)
	}
	return rec, nil
}

// List returns records matching the query
func (s *EventStore) List(ctx context.Context, q event.Query) ([]event.Record, error) {
	query, args, err := buildListQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("listing "+string(q.Kind), err)
	}
	defer rows.Close()

	var records []event.Record
	for rows.Next() {
		rec, err := scanRecord(q.Kind, rows)
		if err != nil {
			return nil, mapError("scanning "+string(q.Kind), err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterating "+string(q.Kind), err)
	}

	return records, nil
}

// buildListQuery renders a Query into SQL and arguments
func buildListQuery(q event.Query) (string, []interface{}, error) {
	t, err := lookupTable(q.Kind)
	if err != nil {
		return "", nil, err
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(fmt.Sprintf("SELECT %s FROM %s WHERE 1=1", t.columns, t.name))

	args := []interface{}{}
	argIndex := 1

	if q.OwnerID != "" {
		queryBuilder.WriteString(fmt.Sprintf(" AND %s = $%d", t.ownerColumn, argIndex))
		args = append(args, q.OwnerID)
		argIndex++
	}

	if q.ActiveOnly && t.activeOnly != "" {
		queryBuilder.WriteString(" AND " + t.activeOnly)
	}

	orderBy := "created_at"
	if q.OrderBy == event.OrderByUpdatedAt && q.Kind == event.KindShareSessions {
		orderBy = "updated_at"
	}
	direction := "DESC"
	if q.Ascending {
		direction = "ASC"
	}
	queryBuilder.WriteString(fmt.Sprintf(" ORDER BY %s %s, id %s", orderBy, direction, direction))

	if q.Limit > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d", argIndex))
		args = append(args, q.Limit)
	}

	return queryBuilder.String(), args, nil
}

func scanRecord(kind event.Kind, row pgx.Row) (event.Record, error) {
	switch kind {
	case event.KindEmergencyAlerts:
		var a event.EmergencyAlert
		err := row.Scan(
			&a.ID,
			&a.AuthorID,
			&a.Message,
			&a.Position.Latitude,
			&a.Position.Longitude,
			&a.Position.AccuracyMeters,
			&a.Position.CapturedAt,
			&a.CreatedAt,
		)
		return a, err

	case event.KindHazardReports:
		var h event.HazardReport
		err := row.Scan(
			&h.ID,
			&h.AuthorID,
			&h.Description,
			&h.Category,
			&h.Position.Latitude,
			&h.Position.Longitude,
			&h.Position.AccuracyMeters,
			&h.Position.CapturedAt,
			&h.CreatedAt,
		)
		return h, err

	case event.KindShareSessions:
		var sess share.Session
		var pos geo.Position
		err := row.Scan(
			&sess.ID,
			&sess.OwnerID,
			&pos.Latitude,
			&pos.Longitude,
			&pos.AccuracyMeters,
			&pos.CapturedAt,
			&sess.IsActive,
			&sess.CreatedAt,
			&sess.UpdatedAt,
			&sess.ExpiresAt,
		)
		sess.Position = pos
		return sess, err
	}
	return nil, fmt.Errorf("%w: unknown kind %q", event.ErrWriteRejected, kind)
}

// mapError classifies driver errors. Unique violations become
// event.ErrConflict, check violations event.ErrWriteRejected, and
// everything else event.ErrStoreUnavailable.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s: %s", event.ErrConflict, op, pgErr.ConstraintName)
		case "23502", "23514":
			return fmt.Errorf("%w: %s: %s", event.ErrWriteRejected, op, pgErr.Message)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("error %s: %w", op, err)
	}
	return fmt.Errorf("%w: error %s: %v", event.ErrStoreUnavailable, op, err)
}
