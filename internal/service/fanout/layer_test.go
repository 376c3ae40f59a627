// internal/service/fanout/layer_test.go

package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeloc/internal/domain/event"
	"safeloc/internal/domain/geo"
	"safeloc/internal/domain/share"
)

func activeSession(id, owner string, at time.Time) share.Session {
	return share.Session{
		ID:        id,
		OwnerID:   owner,
		Position:  geo.Position{Latitude: 19.43, Longitude: -99.13, CapturedAt: at},
		IsActive:  true,
		CreatedAt: at,
		UpdatedAt: at,
		ExpiresAt: at.Add(24 * time.Hour),
	}
}

func TestLayerMergesCatchUpWithLiveChanges(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Append(ctx, event.HazardReport{Position: here(), Description: "before"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	var applied int
	layer, err := f.svc.Follow(ctx, event.Query{Kind: event.KindHazardReports}, func(event.Change) { applied++ })
	require.NoError(t, err)
	defer layer.Close()
	assert.Equal(t, 1, layer.Len())

	_, err = f.svc.Append(ctx, event.HazardReport{Position: here(), Description: "after"})
	require.NoError(t, err)

	snap := layer.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "after", snap[0].(event.HazardReport).Description)
	assert.Equal(t, 1, applied)
}

func TestLayerDedupesByNewestVersion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	layer, err := f.svc.Follow(ctx, event.Query{Kind: event.KindShareSessions}, nil)
	require.NoError(t, err)
	defer layer.Close()

	sess := activeSession("s1", "alice", t0)
	newer := sess
	newer.UpdatedAt = t0.Add(30 * time.Second)
	newer.Position.Latitude = 19.431

	layer.apply(event.Change{Type: event.EventUpdate, Kind: event.KindShareSessions, Record: newer})
	layer.apply(event.Change{Type: event.EventInsert, Kind: event.KindShareSessions, Record: sess})
	layer.apply(event.Change{Type: event.EventUpdate, Kind: event.KindShareSessions, Record: newer})

	snap := layer.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 19.431, snap[0].(share.Session).Position.Latitude)
}

func TestLayerActiveOnlyDropsDeactivatedSessions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	layer, err := f.svc.Follow(ctx, event.Query{Kind: event.KindShareSessions, ActiveOnly: true}, nil)
	require.NoError(t, err)
	defer layer.Close()

	sess := activeSession("s1", "alice", t0)
	layer.apply(event.Change{Type: event.EventInsert, Kind: event.KindShareSessions, Record: sess})
	require.Equal(t, 1, layer.Len())

	stopped := sess
	stopped.IsActive = false
	stopped.UpdatedAt = t0.Add(time.Minute)
	layer.apply(event.Change{Type: event.EventUpdate, Kind: event.KindShareSessions, Record: stopped})
	assert.Equal(t, 0, layer.Len())

	layer.apply(event.Change{Type: event.EventUpdate, Kind: event.KindShareSessions, Record: sess})
	assert.Equal(t, 0, layer.Len(), "older active version must not resurrect the session")
}

func TestLayerTombstonesDeletes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	layer, err := f.svc.Follow(ctx, event.Query{Kind: event.KindHazardReports}, nil)
	require.NoError(t, err)
	defer layer.Close()

	report := event.HazardReport{ID: "h1", Position: here(), Description: "x", CreatedAt: t0}
	layer.apply(event.Change{Type: event.EventInsert, Kind: event.KindHazardReports, Record: report})
	layer.apply(event.Change{Type: event.EventDelete, Kind: event.KindHazardReports, Record: report})
	layer.apply(event.Change{Type: event.EventInsert, Kind: event.KindHazardReports, Record: report})

	assert.Equal(t, 0, layer.Len())
}

func TestLayerCloseReleasesSubscription(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	layer, err := f.svc.Follow(ctx, event.Query{Kind: event.KindEmergencyAlerts}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.bus.Subscribers())

	require.NoError(t, layer.Close())
	require.NoError(t, layer.Close())
	assert.Equal(t, 0, f.bus.Subscribers())

	_, err = f.svc.Append(ctx, event.EmergencyAlert{AuthorID: "alice", Position: here()})
	require.NoError(t, err)
	assert.Equal(t, 0, layer.Len())
}

func TestFollowFailsWhenStoreUnavailable(t *testing.T) {
	f := newFixture()
	f.store.SetFailure(assert.AnError)

	_, err := f.svc.Follow(context.Background(), event.Query{Kind: event.KindHazardReports}, nil)
	assert.ErrorIs(t, err, event.ErrStoreUnavailable)
	assert.Equal(t, 0, f.bus.Subscribers())
}
