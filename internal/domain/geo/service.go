// internal/domain/geo/service.go

package geo

import (
	"context"
	"time"
)

// AcquireOptions tunes a sensor request
type AcquireOptions struct {
	// HighAccuracy asks the device for its best fix (GPS over network)
	HighAccuracy bool

	// Timeout bounds a single fix. In a standing watch it is the longest
	// silence tolerated before an error is reported.
	Timeout time.Duration

	// MaximumAge allows a cached fix no older than this. Zero means a
	// fresh fix is required.
	MaximumAge time.Duration
}

// Sensor is a device position source
type Sensor interface {
	// Locate returns a single fix
	Locate(ctx context.Context, ownerID string, opts AcquireOptions) (Position, error)

	// Watch starts a standing subscription. The returned func cancels it
	// and is safe to call more than once.
	Watch(ownerID string, opts AcquireOptions, onFix func(Position), onError func(error)) (func(), error)
}

// Listener is told about acquisition outcomes
type Listener interface {
	LocationFound(pos Position)
	LocationUnavailable(err error)
}

// Viewport is the map a watcher keeps centered on the owner
type Viewport interface {
	// PanTo moves the center and keeps the zoom
	PanTo(pos Position)

	// SetView moves the center and zooms in no further than maxZoom
	SetView(pos Position, maxZoom int)
}
