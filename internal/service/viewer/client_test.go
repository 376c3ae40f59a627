// internal/service/viewer/client_test.go

package viewer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeloc/internal/adapter/bus"
	"safeloc/internal/adapter/memstore"
	"safeloc/internal/clock"
	"safeloc/internal/domain/event"
	"safeloc/internal/domain/geo"
	"safeloc/internal/domain/share"
	"safeloc/internal/service/fanout"
	"safeloc/internal/service/position"
	shareService "safeloc/internal/service/share"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store     *memstore.Store
	bus       *bus.Memory
	clock     *clock.FakeClock
	fanout    *fanout.Service
	positions *position.Registry
	manager   *shareService.Manager
	client    *Client
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		store:     memstore.New(),
		bus:       bus.NewMemory(),
		clock:     clock.Fake(t0),
		positions: position.NewRegistry(nil),
	}
	h.fanout = fanout.NewService(h.store, h.bus, h.clock, nil, nil)
	h.manager = shareService.NewManager(h.fanout, h.positions, h.clock, nil, nil, shareService.ManagerConfig{})
	h.client = NewClient(h.fanout, h.clock, nil, nil)
	t.Cleanup(func() { h.manager.Stop(context.Background()) })
	return h
}

func (h *harness) move(owner string, lat, lon float64) geo.Position {
	p := geo.Position{Latitude: lat, Longitude: lon, CapturedAt: h.clock.Now()}
	h.positions.Offer(owner, p, geo.SourceSensor)
	return p
}

func (h *harness) insert(t *testing.T, sess share.Session) {
	_, err := h.store.Insert(context.Background(), sess)
	require.NoError(t, err)
}

func drain(ch <-chan View) []View {
	var out []View
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
}

func closed(ch <-chan View) bool {
	select {
	case _, ok := <-ch:
		return !ok
	default:
		return false
	}
}

func TestEndToEndShareAndView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start := h.move("alice", 19.43, -99.13)
	sess, err := h.manager.StartSharing(ctx, "alice", &start)
	require.NoError(t, err)

	watch, err := h.client.Open(ctx, sess.ID)
	require.NoError(t, err)
	defer watch.Close()
	assert.Equal(t, StateLive, watch.Current().State)
	assert.Equal(t, 19.43, watch.Current().Session.Position.Latitude)

	h.clock.Advance(15 * time.Second)
	h.move("alice", 19.431, -99.131)
	h.clock.Advance(15 * time.Second)

	views := drain(watch.Updates())
	require.Len(t, views, 1)
	assert.Equal(t, StateLive, views[0].State)
	assert.Equal(t, 19.431, views[0].Session.Position.Latitude)
	assert.Equal(t, -99.131, views[0].Session.Position.Longitude)

	_, err = h.manager.StopSharing(ctx, sess.ID)
	require.NoError(t, err)

	views = drain(watch.Updates())
	require.Len(t, views, 1)
	assert.Equal(t, StateEnded, views[0].State)
	assert.False(t, views[0].Session.IsActive)
	assert.Equal(t, StateEnded, watch.Current().State)
	assert.Equal(t, 0, h.bus.Subscribers())

	_, err = h.client.Open(ctx, sess.ID)
	assert.ErrorIs(t, err, share.ErrLinkNotFound)
}

func TestOpenUnknownLink(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, share.ErrLinkNotFound)
	assert.Equal(t, 0, h.bus.Subscribers())
}

func TestOpenExpiredRowThatStoreStillReportsActive(t *testing.T) {
	h := newHarness(t)

	h.insert(t, share.Session{
		ID: "old", OwnerID: "alice", IsActive: true,
		Position:  geo.Position{Latitude: 19.43, Longitude: -99.13, CapturedAt: t0.Add(-25 * time.Hour)},
		CreatedAt: t0.Add(-25 * time.Hour), UpdatedAt: t0.Add(-25 * time.Hour), ExpiresAt: t0.Add(-time.Hour),
	})

	_, err := h.client.Open(context.Background(), "old")
	assert.ErrorIs(t, err, share.ErrLinkExpired)
	assert.Equal(t, 0, h.bus.Subscribers())

	rec, err := h.store.Get(context.Background(), event.KindShareSessions, "old")
	require.NoError(t, err)
	assert.False(t, rec.(share.Session).IsActive, "expired row is deactivated")
}

func TestOpenExpiresExactlyAtBoundary(t *testing.T) {
	h := newHarness(t)

	h.insert(t, share.Session{
		ID: "edge", OwnerID: "alice", IsActive: true,
		Position:  geo.Position{Latitude: 19.43, Longitude: -99.13, CapturedAt: t0},
		CreatedAt: t0.Add(-24 * time.Hour), UpdatedAt: t0, ExpiresAt: t0,
	})

	_, err := h.client.Open(context.Background(), "edge")
	assert.ErrorIs(t, err, share.ErrLinkExpired)
}

func TestClientTimerExpiresSilentSession(t *testing.T) {
	h := newHarness(t)

	h.insert(t, share.Session{
		ID: "quiet", OwnerID: "alice", IsActive: true,
		Position:  geo.Position{Latitude: 19.43, Longitude: -99.13, CapturedAt: t0},
		CreatedAt: t0, UpdatedAt: t0, ExpiresAt: t0.Add(time.Hour),
	})

	watch, err := h.client.Open(context.Background(), "quiet")
	require.NoError(t, err)

	h.clock.Advance(59 * time.Minute)
	assert.Empty(t, drain(watch.Updates()))

	h.clock.Advance(time.Minute)
	views := drain(watch.Updates())
	require.Len(t, views, 1)
	assert.Equal(t, StateExpired, views[0].State)
	assert.True(t, closed(watch.Updates()))
	assert.Equal(t, 0, h.bus.Subscribers())
}

func TestStaleUpdatesAreIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess := share.Session{
		ID: "s1", OwnerID: "alice", IsActive: true,
		Position:  geo.Position{Latitude: 19.43, Longitude: -99.13, CapturedAt: t0},
		CreatedAt: t0, UpdatedAt: t0.Add(time.Minute), ExpiresAt: t0.Add(time.Hour),
	}
	h.insert(t, sess)

	watch, err := h.client.Open(ctx, "s1")
	require.NoError(t, err)
	defer watch.Close()

	older := sess
	older.UpdatedAt = t0
	older.Position.Latitude = 1
	require.NoError(t, h.bus.Publish(ctx, event.Change{Type: event.EventUpdate, Kind: event.KindShareSessions, Record: older}))

	assert.Empty(t, drain(watch.Updates()))
	assert.Equal(t, 19.43, watch.Current().Session.Position.Latitude)
}

func TestUpdatesCoalesceToLatest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess := share.Session{
		ID: "s1", OwnerID: "alice", IsActive: true,
		Position:  geo.Position{Latitude: 19.43, Longitude: -99.13, CapturedAt: t0},
		CreatedAt: t0, UpdatedAt: t0, ExpiresAt: t0.Add(time.Hour),
	}
	h.insert(t, sess)

	watch, err := h.client.Open(ctx, "s1")
	require.NoError(t, err)
	defer watch.Close()

	for i := 1; i <= 3; i++ {
		next := sess
		next.UpdatedAt = t0.Add(time.Duration(i) * time.Second)
		next.Position.Latitude = 19.43 + float64(i)/1000
		require.NoError(t, h.bus.Publish(ctx, event.Change{Type: event.EventUpdate, Kind: event.KindShareSessions, Record: next}))
	}

	views := drain(watch.Updates())
	require.Len(t, views, 1)
	assert.InDelta(t, 19.433, views[0].Session.Position.Latitude, 1e-9)
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newHarness(t)

	h.insert(t, share.Session{
		ID: "s1", OwnerID: "alice", IsActive: true,
		Position:  geo.Position{Latitude: 19.43, Longitude: -99.13, CapturedAt: t0},
		CreatedAt: t0, UpdatedAt: t0, ExpiresAt: t0.Add(time.Hour),
	})

	watch, err := h.client.Open(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.bus.Subscribers())
	assert.Equal(t, 1, h.clock.Pending())

	require.NoError(t, watch.Close())
	require.NoError(t, watch.Close())
	assert.Equal(t, 0, h.bus.Subscribers())
	assert.Equal(t, 0, h.clock.Pending())
	assert.True(t, closed(watch.Updates()))
	assert.Equal(t, StateClosed, watch.Current().State)
}
