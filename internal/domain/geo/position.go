// internal/domain/geo/position.go

package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// ErrLocationUnavailable is reported when the position sensor cannot
// produce a fix (permission denied, timeout, no signal).
var ErrLocationUnavailable = errors.New("location unavailable")

// ErrInvalidOwner is returned for owner ids that cannot name a device
var ErrInvalidOwner = errors.New("invalid owner id")

// MaxOwnerIDLength bounds owner ids
const MaxOwnerIDLength = 128

// ValidateOwnerID checks that an owner id is a single subject and topic
// token: non-empty, bounded, with no separators, wildcards or spaces.
func ValidateOwnerID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: required", ErrInvalidOwner)
	case len(id) > MaxOwnerIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidOwner, MaxOwnerIDLength)
	case strings.ContainsAny(id, ".*>/+#"):
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidOwner, id)
	case strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0:
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidOwner, id)
	}
	return nil
}

// Source identifies which acquisition path produced a fix
type Source string

const (
	SourceSensor    Source = "sensor"
	SourceTelemetry Source = "telemetry"
)

// Position is an immutable geographic fix. Entities embed copies of it,
// never references to a live value.
type Position struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters *float64  `json:"accuracy_meters,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Validate checks that the coordinates are finite and within range
func (p Position) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude: must be between -90 and 90")
	}
	if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude: must be between -180 and 180")
	}
	if p.AccuracyMeters != nil && *p.AccuracyMeters < 0 {
		return fmt.Errorf("accuracy_meters: must not be negative")
	}
	return nil
}

// SameFix reports whether two positions describe the same reading
func (p Position) SameFix(other Position) bool {
	return p.Latitude == other.Latitude &&
		p.Longitude == other.Longitude &&
		p.CapturedAt.Equal(other.CapturedAt)
}

// Meters returns an accuracy value suitable for Position.AccuracyMeters
func Meters(v float64) *float64 {
	return &v
}

// Fix is a position tagged with the source that produced it
type Fix struct {
	Position Position `json:"position"`
	Source   Source   `json:"source"`
}
