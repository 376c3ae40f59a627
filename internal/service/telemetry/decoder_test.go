// internal/service/telemetry/decoder_test.go

package telemetry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeloc/internal/domain/geo"
	"safeloc/internal/domain/telemetry"
)

const fixture = "001c761b03fab1be005a60"

func TestDecodeFixture(t *testing.T) {
	fix, err := Decode(fixture)
	require.NoError(t, err)

	assert.InDelta(t, 47.7502211, fix.Latitude, 1e-9)
	assert.InDelta(t, -8.9014784, fix.Longitude, 1e-9)
	assert.Equal(t, uint8(90), fix.AccuracyMeters)
	assert.Equal(t, uint8(96), fix.BatteryPercent)
	assert.NotZero(t, fix.BatteryPercent)
	assert.True(t, fix.CapturedAt.IsZero())
}

func TestDecodeIsDeterministic(t *testing.T) {
	first, err := Decode(fixture)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Decode(fixture)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	upper, err := Decode(strings.ToUpper(fixture))
	require.NoError(t, err)
	assert.Equal(t, first, upper)
}

func TestDecodeNegativeLatitude(t *testing.T) {
	// -33.8688000 / 151.2093000
	fix, err := Decode("00ebd008005a20b5480a32")
	require.NoError(t, err)
	assert.InDelta(t, -33.8688, fix.Latitude, 1e-7)
	assert.InDelta(t, 151.2093, fix.Longitude, 1e-7)
	assert.Equal(t, uint8(10), fix.AccuracyMeters)
	assert.Equal(t, uint8(50), fix.BatteryPercent)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	for n := 0; n <= 30; n++ {
		if n == PayloadHexLength {
			continue
		}
		payload := strings.Repeat("0", n)
		_, err := Decode(payload)
		require.Error(t, err, "length %d", n)
		assert.True(t, errors.Is(err, telemetry.ErrMalformedPayload))

		var decodeErr *telemetry.DecodeError
		require.True(t, errors.As(err, &decodeErr))
		assert.Equal(t, telemetry.ReasonLength, decodeErr.Reason)
	}
}

func TestDecodeRejectsNonHex(t *testing.T) {
	_, err := Decode("zz1c761b03fab1be005a60")
	require.Error(t, err)
	assert.ErrorIs(t, err, telemetry.ErrMalformedPayload)

	var decodeErr *telemetry.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, telemetry.ReasonEncoding, decodeErr.Reason)
}

func TestDecodeUplinkStampsTimeAndRSSI(t *testing.T) {
	rssi := -112.0
	fix, err := DecodeUplink(telemetry.Uplink{
		Device:  "1C2E3F",
		Payload: fixture,
		Time:    1715003456,
		RSSI:    &rssi,
	})
	require.NoError(t, err)

	assert.True(t, fix.CapturedAt.Equal(time.Unix(1715003456, 0)))
	require.NotNil(t, fix.RSSI)
	assert.Equal(t, -112.0, *fix.RSSI)

	p := fix.Position()
	require.NotNil(t, p.AccuracyMeters)
	assert.Equal(t, 90.0, *p.AccuracyMeters)
	assert.NoError(t, p.Validate())
	assert.Equal(t, geo.Position{
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		AccuracyMeters: geo.Meters(90),
		CapturedAt:     fix.CapturedAt,
	}, p)
}
