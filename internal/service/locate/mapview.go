// internal/service/locate/mapview.go

package locate

import (
	"sync"

	"safeloc/internal/domain/geo"
)

const (
	DefaultLatitude  = 20.5937
	DefaultLongitude = -100.3995
	DefaultZoom      = 13
)

// MapView holds an owner's map center and zoom
type MapView struct {
	mu     sync.RWMutex
	center geo.Position
	zoom   int
}

// NewMapView creates a view at the default center and zoom
func NewMapView() *MapView {
	return &MapView{
		center: geo.Position{Latitude: DefaultLatitude, Longitude: DefaultLongitude},
		zoom:   DefaultZoom,
	}
}

// PanTo moves the center and keeps the zoom
func (v *MapView) PanTo(pos geo.Position) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.center = pos
}

// SetView moves the center and zooms to maxZoom
func (v *MapView) SetView(pos geo.Position, maxZoom int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.center = pos
	v.zoom = maxZoom
}

// Center returns the current map center
func (v *MapView) Center() geo.Position {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.center
}

// Zoom returns the current zoom level
func (v *MapView) Zoom() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.zoom
}
