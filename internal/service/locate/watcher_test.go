// internal/service/locate/watcher_test.go

package locate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeloc/internal/adapter/sensor"
	"safeloc/internal/clock"
	"safeloc/internal/domain/geo"
	"safeloc/internal/domain/share"
	"safeloc/internal/service/position"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu          sync.Mutex
	found       []geo.Position
	unavailable []error
}

func (r *recorder) LocationFound(pos geo.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.found = append(r.found, pos)
}

func (r *recorder) LocationUnavailable(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = append(r.unavailable, err)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.found), len(r.unavailable)
}

type setup struct {
	clock    *clock.FakeClock
	sensor   *sensor.Local
	mux      *position.Multiplexer
	view     *MapView
	listener *recorder
	watcher  *Watcher
}

func newSetup() *setup {
	s := &setup{
		clock:    clock.Fake(t0),
		mux:      position.NewMultiplexer(),
		view:     NewMapView(),
		listener: &recorder{},
	}
	s.sensor = sensor.NewLocal(s.clock)
	s.watcher = NewWatcher("alice", s.sensor, s.mux, s.view, s.listener, DefaultWatcherConfig(), nil)
	return s
}

func fixAt(lat, lon float64, at time.Time) geo.Position {
	return geo.Position{Latitude: lat, Longitude: lon, CapturedAt: at}
}

func TestMapViewDefaults(t *testing.T) {
	v := NewMapView()
	assert.Equal(t, DefaultLatitude, v.Center().Latitude)
	assert.Equal(t, DefaultLongitude, v.Center().Longitude)
	assert.Equal(t, DefaultZoom, v.Zoom())
}

func TestLocateOneShotReportsAndRecenters(t *testing.T) {
	s := newSetup()
	s.sensor.Push("alice", fixAt(19.43, -99.13, t0))

	pos, err := s.watcher.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 19.43, pos.Latitude)

	assert.Equal(t, ModeIdle, s.watcher.Mode())
	current, ok := s.mux.Current()
	require.True(t, ok)
	assert.Equal(t, geo.SourceSensor, current.Source)
	assert.Equal(t, 19.43, s.view.Center().Latitude)
	assert.Equal(t, 16, s.view.Zoom())

	found, unavailable := s.listener.counts()
	assert.Equal(t, 1, found)
	assert.Equal(t, 0, unavailable)
}

func TestLocateErrorIsLocationUnavailable(t *testing.T) {
	s := newSetup()

	errs := make(chan error, 1)
	go func() {
		_, err := s.watcher.Locate(context.Background())
		errs <- err
	}()

	require.Eventually(t, func() bool { return s.sensor.Waiting("alice") == 1 }, time.Second, time.Millisecond)
	s.sensor.Fail("alice", errors.New("permission denied"))

	err := <-errs
	assert.ErrorIs(t, err, geo.ErrLocationUnavailable)
	assert.Equal(t, ModeIdle, s.watcher.Mode())
	_, unavailable := s.listener.counts()
	assert.Equal(t, 1, unavailable)

	_, ok := s.mux.Current()
	assert.False(t, ok)
}

func TestContinuousPansWithoutZoom(t *testing.T) {
	s := newSetup()

	require.NoError(t, s.watcher.StartWatching())
	require.NoError(t, s.watcher.StartWatching())
	assert.Equal(t, ModeContinuous, s.watcher.Mode())
	assert.Equal(t, 1, s.sensor.Watches("alice"))

	s.sensor.Push("alice", fixAt(19.43, -99.13, t0))
	s.sensor.Push("alice", fixAt(19.44, -99.14, t0.Add(time.Second)))

	current, _ := s.mux.Current()
	assert.Equal(t, 19.44, current.Position.Latitude)
	assert.Equal(t, 19.44, s.view.Center().Latitude)
	assert.Equal(t, DefaultZoom, s.view.Zoom())

	s.watcher.Stop()
	assert.Equal(t, ModeIdle, s.watcher.Mode())
	assert.Equal(t, 0, s.sensor.Watches("alice"))

	s.sensor.Push("alice", fixAt(1, 1, t0.Add(2*time.Second)))
	current, _ = s.mux.Current()
	assert.Equal(t, 19.44, current.Position.Latitude, "the multiplexer is only fed while watching")
}

func TestContinuousErrorKeepsMode(t *testing.T) {
	s := newSetup()
	require.NoError(t, s.watcher.StartWatching())

	s.sensor.Fail("alice", errors.New("signal lost"))
	s.clock.Advance(5 * time.Second)

	assert.Equal(t, ModeContinuous, s.watcher.Mode())
	_, unavailable := s.listener.counts()
	assert.Equal(t, 2, unavailable)

	s.listener.mu.Lock()
	for _, err := range s.listener.unavailable {
		assert.ErrorIs(t, err, geo.ErrLocationUnavailable)
	}
	s.listener.mu.Unlock()
}

func TestStartWatchingCancelsPendingOneShot(t *testing.T) {
	s := newSetup()

	errs := make(chan error, 1)
	go func() {
		_, err := s.watcher.Locate(context.Background())
		errs <- err
	}()
	require.Eventually(t, func() bool { return s.sensor.Waiting("alice") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.watcher.StartWatching())

	assert.ErrorIs(t, <-errs, ErrSuperseded)
	assert.Equal(t, ModeContinuous, s.watcher.Mode())
	assert.Equal(t, 0, s.sensor.Waiting("alice"))

	found, unavailable := s.listener.counts()
	assert.Equal(t, 0, found)
	assert.Equal(t, 0, unavailable)
}

func TestLocateLeavesContinuous(t *testing.T) {
	s := newSetup()
	require.NoError(t, s.watcher.StartWatching())
	s.sensor.Push("alice", fixAt(19.43, -99.13, t0))

	_, err := s.watcher.Locate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ModeIdle, s.watcher.Mode())
	assert.Equal(t, 0, s.sensor.Watches("alice"))
}

func TestCloseReleasesAcquisition(t *testing.T) {
	s := newSetup()
	require.NoError(t, s.watcher.StartWatching())

	s.watcher.Close()
	assert.Equal(t, 0, s.sensor.Watches("alice"))
	assert.Equal(t, 0, s.clock.Pending())

	_, err := s.watcher.Locate(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.watcher.StartWatching(), ErrClosed)
}

func TestServiceKeepsWatcherPerOwner(t *testing.T) {
	clk := clock.Fake(t0)
	local := sensor.NewLocal(clk)
	registry := position.NewRegistry(nil)
	svc := NewService(local, registry, DefaultWatcherConfig(), nil)
	defer svc.Close()

	assert.Same(t, svc.Watcher("alice"), svc.Watcher("alice"))
	assert.NotSame(t, svc.Watcher("alice"), svc.Watcher("bob"))

	require.NoError(t, svc.StartWatching("alice"))
	assert.Equal(t, ModeContinuous, svc.Mode("alice"))
	assert.Equal(t, ModeIdle, svc.Mode("bob"))

	local.Push("alice", fixAt(19.43, -99.13, t0))
	pos, ok := registry.CurrentPosition("alice")
	require.True(t, ok)
	assert.Equal(t, 19.43, pos.Latitude)
	assert.Equal(t, 19.43, svc.View("alice").Center().Latitude)

	svc.StopWatching("alice")
	assert.Equal(t, ModeIdle, svc.Mode("alice"))

	svc.Forget("alice")
	_, ok = registry.CurrentPosition("alice")
	assert.False(t, ok)
}

func TestShareTransitionsDriveOwnerContext(t *testing.T) {
	clk := clock.Fake(t0)
	local := sensor.NewLocal(clk)
	registry := position.NewRegistry(nil)
	svc := NewService(local, registry, DefaultWatcherConfig(), nil)
	defer svc.Close()

	sess := share.Session{ID: "s1", OwnerID: "alice", IsActive: true}
	svc.OnShareTransition(sess, share.TransitionStarted)
	assert.Equal(t, ModeContinuous, svc.Mode("alice"))
	assert.Equal(t, 1, local.Watches("alice"))

	local.Push("alice", fixAt(19.43, -99.13, t0))
	_, ok := registry.CurrentPosition("alice")
	require.True(t, ok)

	sess.IsActive = false
	svc.OnShareTransition(sess, share.TransitionStopped)
	assert.Equal(t, 0, local.Watches("alice"), "sensor watch released")
	assert.Equal(t, ModeIdle, svc.Mode("alice"))
	assert.Empty(t, registry.Owners())

	svc.OnShareTransition(share.Session{ID: "s2", OwnerID: "bob"}, share.TransitionStarted)
	svc.OnShareTransition(share.Session{ID: "s2", OwnerID: "bob"}, share.TransitionExpired)
	assert.Equal(t, 0, local.Watches("bob"))
	assert.Empty(t, registry.Owners())
}

func TestSweepDropsIdleOwners(t *testing.T) {
	clk := clock.Fake(t0)
	local := sensor.NewLocal(clk)
	registry := position.NewRegistry(nil)
	svc := NewService(local, registry, DefaultWatcherConfig(), nil)
	defer svc.Close()

	// telemetry-only owner with an old fix
	registry.Offer("bob", fixAt(47.75, -8.90, t0), geo.SourceTelemetry)
	// continuous owner with an old fix
	require.NoError(t, svc.StartWatching("alice"))
	local.Push("alice", fixAt(19.43, -99.13, t0))
	// idle owner with a recent fix
	registry.Offer("carol", fixAt(1, 1, t0.Add(time.Hour)), geo.SourceSensor)

	dropped := svc.Sweep(t0.Add(30 * time.Minute))
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []string{"alice", "carol"}, registry.Owners())
	assert.Equal(t, ModeContinuous, svc.Mode("alice"))

	svc.StopWatching("alice")
	assert.Equal(t, 1, svc.Sweep(t0.Add(30*time.Minute)))
	assert.Equal(t, []string{"carol"}, registry.Owners())
}
