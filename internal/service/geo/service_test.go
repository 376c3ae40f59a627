// internal/service/geo/service_test.go

package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeloc/internal/domain/event"
	"safeloc/internal/domain/geo"
)

func at(lat, lon float64) geo.Position {
	return geo.Position{Latitude: lat, Longitude: lon, CapturedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCalculateDistance(t *testing.T) {
	// Zócalo to Ángel de la Independencia
	d := CalculateDistance(at(19.4326, -99.1332), at(19.4270, -99.1677))
	assert.InDelta(t, 3.67, d, 0.1)

	assert.Equal(t, 0.0, CalculateDistance(at(10, 10), at(10, 10)))

	// one degree of latitude
	assert.InDelta(t, 111.19, CalculateDistance(at(0, 0), at(1, 0)), 0.01)
}

func TestNearbyRadiusBoundary(t *testing.T) {
	s := NewProximityService(ProximityConfig{DefaultRadius: 5, MinRadius: 0.5, MaxRadius: 50})
	center := at(19.43, -99.13)

	records := []event.Record{
		event.HazardReport{ID: "inside", Position: at(19.431, -99.131), Description: "pothole"},
		event.HazardReport{ID: "outside", Position: at(19.53, -99.13), Description: "flood"},
	}

	nearby := s.Nearby(records, center, 1)
	require.Len(t, nearby, 1)
	assert.Equal(t, "inside", nearby[0].Record.RecordID())
}

func TestRadiusClamp(t *testing.T) {
	s := NewProximityService(ProximityConfig{DefaultRadius: 5, MinRadius: 0.5, MaxRadius: 50})

	assert.Equal(t, 5.0, s.Radius(0))
	assert.Equal(t, 5.0, s.Radius(-3))
	assert.Equal(t, 0.5, s.Radius(0.1))
	assert.Equal(t, 50.0, s.Radius(500))
	assert.Equal(t, 12.0, s.Radius(12))
}

func TestNearbyOrdersByDistance(t *testing.T) {
	s := NewProximityService(ProximityConfig{DefaultRadius: 5, MinRadius: 0.5, MaxRadius: 50})
	center := at(19.43, -99.13)

	records := []event.Record{
		event.HazardReport{ID: "far", Position: at(19.47, -99.13), Description: "flood"},
		event.HazardReport{ID: "out", Position: at(20.43, -99.13), Description: "fire"},
		event.EmergencyAlert{ID: "near", Position: at(19.431, -99.13), AuthorID: "u1"},
	}

	nearby := s.Nearby(records, center, 10)
	require.Len(t, nearby, 2)
	assert.Equal(t, "near", nearby[0].Record.RecordID())
	assert.Equal(t, "far", nearby[1].Record.RecordID())
	assert.Less(t, nearby[0].DistanceKm, nearby[1].DistanceKm)
}

func TestNearbyEmpty(t *testing.T) {
	s := NewProximityService(ProximityConfig{DefaultRadius: 5, MinRadius: 0.5, MaxRadius: 50})
	assert.Empty(t, s.Nearby(nil, at(0, 0), 1))
}
