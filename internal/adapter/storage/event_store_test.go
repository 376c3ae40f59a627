// internal/adapter/storage/event_store_test.go

package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeloc/internal/domain/event"
)

func TestBuildListQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    event.Query
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:  "alerts newest first",
			query: event.Query{Kind: event.KindEmergencyAlerts},
			wantSQL: "SELECT id, author_id, message, latitude, longitude, accuracy_meters, captured_at, created_at" +
				" FROM emergency_alerts WHERE 1=1 ORDER BY created_at DESC, id DESC",
			wantArgs: []interface{}{},
		},
		{
			name:  "hazards by author with limit",
			query: event.Query{Kind: event.KindHazardReports, OwnerID: "u1", Limit: 20},
			wantSQL: "SELECT id, author_id, description, category, latitude, longitude, accuracy_meters, captured_at, created_at" +
				" FROM hazard_reports WHERE 1=1 AND author_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
			wantArgs: []interface{}{"u1", 20},
		},
		{
			name: "active sessions by update time ascending",
			query: event.Query{
				Kind:       event.KindShareSessions,
				ActiveOnly: true,
				OrderBy:    event.OrderByUpdatedAt,
				Ascending:  true,
				Limit:      5,
			},
			wantSQL: "SELECT id, owner_id, latitude, longitude, accuracy_meters, captured_at, is_active, created_at, updated_at, expires_at" +
				" FROM share_sessions WHERE 1=1 AND is_active ORDER BY updated_at ASC, id ASC LIMIT $1",
			wantArgs: []interface{}{5},
		},
		{
			name:  "active filter ignored for alerts",
			query: event.Query{Kind: event.KindEmergencyAlerts, ActiveOnly: true, OrderBy: event.OrderByUpdatedAt},
			wantSQL: "SELECT id, author_id, message, latitude, longitude, accuracy_meters, captured_at, created_at" +
				" FROM emergency_alerts WHERE 1=1 ORDER BY created_at DESC, id DESC",
			wantArgs: []interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := buildListQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuildListQueryUnknownKind(t *testing.T) {
	_, _, err := buildListQuery(event.Query{Kind: "parcels"})
	assert.ErrorIs(t, err, event.ErrWriteRejected)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "unique violation",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "share_sessions_one_active_per_owner"},
			want: event.ErrConflict,
		},
		{
			name: "check violation",
			err:  fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23514", Message: "latitude out of range"}),
			want: event.ErrWriteRejected,
		},
		{
			name: "connection failure",
			err:  errors.New("dial tcp: connection refused"),
			want: event.ErrStoreUnavailable,
		},
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError("inserting", tt.err), tt.want)
		})
	}
}

func TestSchemaDeclaresOneActiveSessionPerOwner(t *testing.T) {
	assert.Contains(t, schema, "CREATE UNIQUE INDEX IF NOT EXISTS share_sessions_one_active_per_owner")
	assert.Contains(t, schema, "WHERE is_active")
}
