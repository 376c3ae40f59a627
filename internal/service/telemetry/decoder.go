// internal/service/telemetry/decoder.go

package telemetry

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"safeloc/internal/domain/telemetry"
)

const (
	// PayloadHexLength is the size of an encoded report
	PayloadHexLength = 22

	coordinateScale = 1e7
)

// Decode parses a hex-encoded device report laid out as
// [reserved:1][lat:4][lon:4][accuracy:1][battery:1]. Coordinates are
// big-endian signed integers in 1e-7 degree units. The result carries
// no capture time; see DecodeUplink.
func Decode(payloadHex string) (telemetry.Fix, error) {
	if len(payloadHex) != PayloadHexLength {
		return telemetry.Fix{}, &telemetry.DecodeError{
			Reason: telemetry.ReasonLength,
			Detail: fmt.Sprintf("expected %d hex characters, got %d", PayloadHexLength, len(payloadHex)),
		}
	}

	raw, err := hex.DecodeString(payloadHex)
	if err != nil {
		return telemetry.Fix{}, &telemetry.DecodeError{
			Reason: telemetry.ReasonEncoding,
			Detail: err.Error(),
		}
	}

	lat := int32(binary.BigEndian.Uint32(raw[1:5]))
	lon := int32(binary.BigEndian.Uint32(raw[5:9]))

	return telemetry.Fix{
		Latitude:       float64(lat) / coordinateScale,
		Longitude:      float64(lon) / coordinateScale,
		AccuracyMeters: raw[9],
		BatteryPercent: raw[10],
	}, nil
}

// DecodeUplink decodes the uplink payload and stamps it with the
// network-reported capture time and signal strength
func DecodeUplink(up telemetry.Uplink) (telemetry.Fix, error) {
	fix, err := Decode(up.Payload)
	if err != nil {
		return telemetry.Fix{}, err
	}
	if up.Time > 0 {
		fix.CapturedAt = time.Unix(up.Time, 0).UTC()
	}
	fix.RSSI = up.RSSI
	return fix, nil
}
