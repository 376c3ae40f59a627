// internal/service/dispatch/publisher.go

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"safeloc/internal/domain/event"
)

const (
	ExchangeName = "safeloc.alerts"
	QueueName    = "emergency_alerts"
)

// AMQPPublisher publishes alerts to a RabbitMQ fanout exchange that
// downstream notifiers (SMS, push) consume
type AMQPPublisher struct {
	ch *amqp.Channel
}

// NewAMQPPublisher declares the exchange and queue and binds them
func NewAMQPPublisher(conn *amqp.Connection) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(QueueName, "", ExchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	return &AMQPPublisher{ch: ch}, nil
}

type alertMessage struct {
	AlertID   string        `json:"alert_id"`
	AuthorID  string        `json:"author_id"`
	Message   string        `json:"message"`
	Location  alertLocation `json:"location"`
	Timestamp int64         `json:"timestamp"`
}

type alertLocation struct {
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
}

func newAlertMessage(alert event.EmergencyAlert) alertMessage {
	return alertMessage{
		AlertID:  alert.ID,
		AuthorID: alert.AuthorID,
		Message:  alert.Message,
		Location: alertLocation{
			Latitude:       alert.Position.Latitude,
			Longitude:      alert.Position.Longitude,
			AccuracyMeters: alert.Position.AccuracyMeters,
		},
		Timestamp: alert.CreatedAt.Unix(),
	}
}

// PublishAlert sends one alert
func (p *AMQPPublisher) PublishAlert(ctx context.Context, alert event.EmergencyAlert) error {
	body, err := json.Marshal(newAlertMessage(alert))
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	return p.ch.PublishWithContext(ctx, ExchangeName, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    alert.ID,
		Timestamp:    alert.CreatedAt,
		Body:         body,
	})
}

// Close closes the channel
func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}
