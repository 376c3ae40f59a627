// internal/domain/telemetry/model.go

package telemetry

import (
	"errors"
	"fmt"
	"time"

	"safeloc/internal/domain/geo"
)

// ErrMalformedPayload is matched by every decode failure
var ErrMalformedPayload = errors.New("malformed payload")

// Reason is a machine-readable decode failure code
type Reason string

const (
	ReasonLength   Reason = "invalid_length"
	ReasonEncoding Reason = "invalid_hex"
)

// DecodeError describes why a payload could not be decoded
type DecodeError struct {
	Reason Reason
	Detail string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed payload (%s): %s", e.Reason, e.Detail)
}

// Is makes errors.Is(err, ErrMalformedPayload) hold for any DecodeError
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformedPayload
}

// Fix is a decoded store-and-forward device report
type Fix struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters uint8     `json:"accuracy_meters"`
	BatteryPercent uint8     `json:"battery_percent"`
	RSSI           *float64  `json:"rssi,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Position converts the fix into a canonical position snapshot
func (f Fix) Position() geo.Position {
	return geo.Position{
		Latitude:       f.Latitude,
		Longitude:      f.Longitude,
		AccuracyMeters: geo.Meters(float64(f.AccuracyMeters)),
		CapturedAt:     f.CapturedAt,
	}
}

// Uplink is a device message as delivered by the network backend
type Uplink struct {
	Device  string   `json:"device"`
	Payload string   `json:"data"`
	Time    int64    `json:"time"` // unix seconds
	RSSI    *float64 `json:"rssi,omitempty"`
}
