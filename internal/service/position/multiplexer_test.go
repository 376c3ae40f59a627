// internal/service/position/multiplexer_test.go

package position

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeloc/internal/domain/geo"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func pos(lat, lon float64, at time.Time) geo.Position {
	return geo.Position{Latitude: lat, Longitude: lon, CapturedAt: at}
}

func TestMultiplexerAcceptsFirstFix(t *testing.T) {
	m := NewMultiplexer()

	_, ok := m.Current()
	assert.False(t, ok)

	require.True(t, m.Offer(pos(19.43, -99.13, t0), geo.SourceSensor))

	fix, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, geo.SourceSensor, fix.Source)
	assert.Equal(t, 19.43, fix.Position.Latitude)
}

func TestMultiplexerOlderTelemetryDoesNotOverwriteSensor(t *testing.T) {
	m := NewMultiplexer()
	require.True(t, m.Offer(pos(19.43, -99.13, t0), geo.SourceSensor))

	assert.False(t, m.Offer(pos(47.75, -8.90, t0.Add(-time.Minute)), geo.SourceTelemetry))
	assert.False(t, m.Offer(pos(47.75, -8.90, t0), geo.SourceTelemetry), "equal timestamps are not newer")

	fix, _ := m.Current()
	assert.Equal(t, geo.SourceSensor, fix.Source)

	assert.True(t, m.Offer(pos(47.75, -8.90, t0.Add(time.Second)), geo.SourceTelemetry))
	fix, _ = m.Current()
	assert.Equal(t, geo.SourceTelemetry, fix.Source)
}

func TestMultiplexerRejectsInvalidFix(t *testing.T) {
	m := NewMultiplexer()

	assert.False(t, m.Offer(pos(91, 0, t0), geo.SourceSensor))
	assert.False(t, m.Offer(pos(math.NaN(), 0, t0), geo.SourceSensor))
	assert.False(t, m.Offer(pos(10, 10, time.Time{}), geo.SourceSensor))

	_, ok := m.Current()
	assert.False(t, ok)
}

func TestMultiplexerListenersFireOncePerAcceptedFix(t *testing.T) {
	m := NewMultiplexer()

	var seen []geo.Fix
	release := m.OnPositionChanged(func(f geo.Fix) { seen = append(seen, f) })

	m.Offer(pos(1, 1, t0), geo.SourceSensor)
	m.Offer(pos(2, 2, t0), geo.SourceSensor)
	m.Offer(pos(3, 3, t0.Add(time.Second)), geo.SourceTelemetry)
	require.Len(t, seen, 2)
	assert.Equal(t, 3.0, seen[1].Position.Latitude)

	release()
	release()
	m.Offer(pos(4, 4, t0.Add(2*time.Second)), geo.SourceSensor)
	assert.Len(t, seen, 2)
	assert.Equal(t, 0, m.Listeners())
}

func TestMultiplexerReleaseKeepsRemainingOrder(t *testing.T) {
	m := NewMultiplexer()

	var order []string
	releaseA := m.OnPositionChanged(func(geo.Fix) { order = append(order, "a") })
	m.OnPositionChanged(func(geo.Fix) { order = append(order, "b") })
	releaseC := m.OnPositionChanged(func(geo.Fix) { order = append(order, "c") })
	m.OnPositionChanged(func(geo.Fix) { order = append(order, "d") })

	releaseA()
	releaseC()
	assert.Equal(t, 2, m.Listeners())

	m.Offer(pos(1, 1, t0), geo.SourceSensor)
	assert.Equal(t, []string{"b", "d"}, order)
}

func TestRegistryOwnsContextsPerOwner(t *testing.T) {
	r := NewRegistry(nil)

	_, ok := r.CurrentPosition("alice")
	assert.False(t, ok)
	_, ok = r.Lookup("alice")
	assert.False(t, ok)

	assert.True(t, r.Offer("alice", pos(19.43, -99.13, t0), geo.SourceSensor))
	assert.True(t, r.Offer("bob", pos(47.75, -8.90, t0), geo.SourceTelemetry))

	p, ok := r.CurrentPosition("alice")
	require.True(t, ok)
	assert.Equal(t, 19.43, p.Latitude)
	assert.Equal(t, []string{"alice", "bob"}, r.Owners())

	r.Forget("alice")
	_, ok = r.CurrentPosition("alice")
	assert.False(t, ok)
	assert.Equal(t, []string{"bob"}, r.Owners())
}

func TestRegistryIdleOwners(t *testing.T) {
	r := NewRegistry(nil)

	r.Offer("stale", pos(1, 1, t0), geo.SourceTelemetry)
	r.Offer("fresh", pos(2, 2, t0.Add(time.Hour)), geo.SourceSensor)
	r.Get("empty")
	r.Offer("listened", pos(3, 3, t0), geo.SourceSensor)
	release := r.Get("listened").OnPositionChanged(func(geo.Fix) {})

	cutoff := t0.Add(30 * time.Minute)
	assert.Equal(t, []string{"empty", "stale"}, r.Idle(cutoff))

	release()
	assert.Equal(t, []string{"empty", "listened", "stale"}, r.Idle(cutoff))
}
