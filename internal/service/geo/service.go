// internal/service/geo/service.go

package geo

import (
	"math"
	"sort"

	"safeloc/internal/domain/event"
	"safeloc/internal/domain/geo"
)

// ProximityConfig contains radius bounds for proximity queries, in kilometers
type ProximityConfig struct {
	DefaultRadius float64
	MinRadius     float64
	MaxRadius     float64
}

// Nearby is a record annotated with its distance from the query center
type Nearby struct {
	Record     event.Record `json:"record"`
	DistanceKm float64      `json:"distance_km"`
}

// ProximityService answers "what is near me" questions over records
// already read from the event store
type ProximityService struct {
	config ProximityConfig
}

// NewProximityService creates a new proximity service
func NewProximityService(config ProximityConfig) *ProximityService {
	return &ProximityService{
		config: config,
	}
}

// Radius clamps a requested radius to the configured bounds. Zero or
// negative requests get the default radius.
func (s *ProximityService) Radius(requestedKm float64) float64 {
	if requestedKm <= 0 || math.IsNaN(requestedKm) {
		return s.config.DefaultRadius
	}
	return math.Max(s.config.MinRadius, math.Min(s.config.MaxRadius, requestedKm))
}

// Nearby returns the located records within radiusKm of center, closest
// first. Records without a position are skipped.
func (s *ProximityService) Nearby(records []event.Record, center geo.Position, radiusKm float64) []Nearby {
	radius := s.Radius(radiusKm)

	var nearby []Nearby
	for _, rec := range records {
		located, ok := rec.(event.Located)
		if !ok {
			continue
		}

		distance := CalculateDistance(center, located.Location())
		if distance <= radius {
			nearby = append(nearby, Nearby{Record: rec, DistanceKm: distance})
		}
	}

	sort.SliceStable(nearby, func(i, j int) bool {
		return nearby[i].DistanceKm < nearby[j].DistanceKm
	})

	return nearby
}

// CalculateDistance calculates the distance between two positions in kilometers
func CalculateDistance(a, b geo.Position) float64 {
	// Haversine formula on a spherical earth
	const earthRadiusKm = 6371.0

	lat1 := a.Latitude * math.Pi / 180.0
	lon1 := a.Longitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	lon2 := b.Longitude * math.Pi / 180.0

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLon / 2)
	vSin *= vSin

	h := hSin + math.Cos(lat1)*math.Cos(lat2)*vSin

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
