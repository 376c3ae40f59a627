// internal/service/telemetry/ingest.go

package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"safeloc/internal/clock"
	"safeloc/internal/domain/geo"
	"safeloc/internal/domain/telemetry"
	"safeloc/internal/metrics"
)

// DefaultTopic matches uplinks for every owner
const DefaultTopic = "safeloc/+/telemetry"

// FixSink receives decoded positions
type FixSink interface {
	Offer(ownerID string, pos geo.Position, source geo.Source) bool
}

// IngestConfig contains configuration for the uplink subscriber
type IngestConfig struct {
	Topic string
	QoS   byte
}

// Ingest turns device uplinks into telemetry fixes for the position
// multiplexer. Uplinks arrive over MQTT or through Accept.
type Ingest struct {
	client  mqtt.Client
	sink    FixSink
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
	config  IngestConfig
}

// NewIngest creates an uplink ingest. client may be nil when uplinks
// only arrive through the HTTP callback.
func NewIngest(client mqtt.Client, sink FixSink, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger, config IngestConfig) *Ingest {
	if config.Topic == "" {
		config.Topic = DefaultTopic
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingest{
		client:  client,
		sink:    sink,
		clock:   clk,
		metrics: m,
		logger:  logger,
		config:  config,
	}
}

// Start subscribes to the uplink topic
func (i *Ingest) Start() error {
	if i.client == nil {
		return nil
	}
	token := i.client.Subscribe(i.config.Topic, i.config.QoS, i.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", i.config.Topic, err)
	}
	i.logger.Info("telemetry ingest subscribed", "topic", i.config.Topic)
	return nil
}

// Stop unsubscribes from the uplink topic
func (i *Ingest) Stop() error {
	if i.client == nil {
		return nil
	}
	token := i.client.Unsubscribe(i.config.Topic)
	token.Wait()
	return token.Error()
}

// Accept decodes an uplink and offers it as the owner's position.
// Uplinks without a network timestamp are stamped with the current time.
// The returned bool reports whether the multiplexer took the fix.
func (i *Ingest) Accept(ownerID string, up telemetry.Uplink) (telemetry.Fix, bool, error) {
	if err := geo.ValidateOwnerID(ownerID); err != nil {
		return telemetry.Fix{}, false, err
	}

	fix, err := DecodeUplink(up)
	if err != nil {
		i.metrics.TelemetryUplink("rejected")
		return telemetry.Fix{}, false, err
	}
	if fix.CapturedAt.IsZero() {
		fix.CapturedAt = i.clock.Now().UTC()
	}

	accepted := i.sink.Offer(ownerID, fix.Position(), geo.SourceTelemetry)
	if accepted {
		i.metrics.TelemetryUplink("accepted")
	} else {
		i.metrics.TelemetryUplink("stale")
	}
	return fix, accepted, nil
}

func (i *Ingest) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	ownerID, err := ownerFromTopic(msg.Topic())
	if err != nil {
		i.logger.Warn("invalid telemetry topic", "topic", msg.Topic(), "error", err)
		return
	}

	var up telemetry.Uplink
	if err := json.Unmarshal(msg.Payload(), &up); err != nil {
		i.metrics.TelemetryUplink("rejected")
		i.logger.Warn("invalid telemetry message", "owner", ownerID, "error", err)
		return
	}

	fix, accepted, err := i.Accept(ownerID, up)
	if err != nil {
		i.logger.Warn("telemetry decode failed", "owner", ownerID, "device", up.Device, "error", err)
		return
	}
	i.logger.Debug("telemetry fix decoded",
		"owner", ownerID,
		"device", up.Device,
		"battery", fix.BatteryPercent,
		"accepted", accepted,
	)
}

// ownerFromTopic extracts the owner from safeloc/<ownerID>/telemetry
func ownerFromTopic(topic string) (string, error) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) != 3 || parts[2] != "telemetry" {
		return "", fmt.Errorf("unexpected topic layout %q", topic)
	}
	if err := geo.ValidateOwnerID(parts[1]); err != nil {
		return "", fmt.Errorf("topic %q: %w", topic, err)
	}
	return parts[1], nil
}
