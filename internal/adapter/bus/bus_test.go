// internal/adapter/bus/bus_test.go

package bus

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

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func session(id string, active bool) share.Session {
	return share.Session{
		ID:        id,
		OwnerID:   "alice",
		Position:  geo.Position{Latitude: 19.43, Longitude: -99.13, AccuracyMeters: geo.Meters(5), CapturedAt: t0},
		IsActive:  active,
		CreatedAt: t0,
		UpdatedAt: t0,
		ExpiresAt: t0.Add(24 * time.Hour),
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	author := "bob"
	changes := []event.Change{
		{Type: event.EventUpdate, Kind: event.KindShareSessions, Record: session("s1", true)},
		{Type: event.EventInsert, Kind: event.KindEmergencyAlerts, Record: event.EmergencyAlert{
			ID: "a1", AuthorID: "alice", Message: "Emergency!", CreatedAt: t0,
			Position: geo.Position{Latitude: 1, Longitude: 2, CapturedAt: t0},
		}},
		{Type: event.EventInsert, Kind: event.KindHazardReports, Record: event.HazardReport{
			ID: "h1", AuthorID: &author, Description: "broken lights", Category: "General", CreatedAt: t0,
			Position: geo.Position{Latitude: 3, Longitude: 4, CapturedAt: t0},
		}},
	}

	for _, c := range changes {
		data, err := Encode(c)
		require.NoError(t, err)

		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, c.Type, got.Type)
		assert.Equal(t, c.Kind, got.Kind)
		assert.Equal(t, c.Record.RecordID(), got.Record.RecordID())
		assert.True(t, c.Record.RecordUpdatedAt().Equal(got.Record.RecordUpdatedAt()))
	}
}

func TestDecodeSessionFields(t *testing.T) {
	data, err := Encode(event.Change{Type: event.EventUpdate, Kind: event.KindShareSessions, Record: session("s1", false)})
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	sess, ok := got.Record.(share.Session)
	require.True(t, ok)
	assert.False(t, sess.IsActive)
	assert.Equal(t, "alice", sess.OwnerID)
	assert.Equal(t, 19.43, sess.Position.Latitude)
	require.NotNil(t, sess.Position.AccuracyMeters)
	assert.Equal(t, 5.0, *sess.Position.AccuracyMeters)
	assert.True(t, sess.ExpiresAt.Equal(t0.Add(24*time.Hour)))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not msgpack"))
	assert.Error(t, err)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "geo.share_sessions.s1", Subject(event.KindShareSessions, "s1"))
	assert.Equal(t, "geo.hazard_reports.*", ScopeSubject(event.Scope{Kind: event.KindHazardReports}))
	assert.Equal(t, "geo.share_sessions.s1", ScopeSubject(event.Scope{Kind: event.KindShareSessions, RecordID: "s1"}))
}

func TestMemoryBusDeliversToMatchingScopes(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	var kindWide, single, other []event.Change
	subAll, err := b.Subscribe(event.Scope{Kind: event.KindShareSessions}, func(c event.Change) { kindWide = append(kindWide, c) })
	require.NoError(t, err)
	subOne, err := b.Subscribe(event.Scope{Kind: event.KindShareSessions, RecordID: "s1"}, func(c event.Change) { single = append(single, c) })
	require.NoError(t, err)
	_, err = b.Subscribe(event.Scope{Kind: event.KindHazardReports}, func(c event.Change) { other = append(other, c) })
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, event.Change{Type: event.EventInsert, Kind: event.KindShareSessions, Record: session("s1", true)}))
	require.NoError(t, b.Publish(ctx, event.Change{Type: event.EventInsert, Kind: event.KindShareSessions, Record: session("s2", true)}))

	assert.Len(t, kindWide, 2)
	assert.Len(t, single, 1)
	assert.Empty(t, other)

	require.NoError(t, subOne.Release())
	require.NoError(t, subOne.Release())
	require.NoError(t, b.Publish(ctx, event.Change{Type: event.EventUpdate, Kind: event.KindShareSessions, Record: session("s1", false)}))
	assert.Len(t, single, 1)
	assert.Len(t, kindWide, 3)

	require.NoError(t, subAll.Release())
	assert.Equal(t, 1, b.Subscribers())
}

func TestMemoryBusKeepsOrderAcrossReleases(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	scope := event.Scope{Kind: event.KindShareSessions}

	var order []int
	subs := make([]event.Subscription, 0, 100)
	for i := 0; i < 100; i++ {
		i := i
		sub, err := b.Subscribe(scope, func(event.Change) { order = append(order, i) })
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	for i, sub := range subs {
		if i%10 != 0 {
			require.NoError(t, sub.Release())
		}
	}
	assert.Equal(t, 10, b.Subscribers())

	require.NoError(t, b.Publish(ctx, event.Change{Type: event.EventInsert, Kind: event.KindShareSessions, Record: session("s1", true)}))
	assert.Equal(t, []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}, order)
}
