// internal/service/dispatch/dispatcher.go

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"safeloc/internal/domain/event"
)

// Publisher forwards alerts to downstream notifiers
type Publisher interface {
	PublishAlert(ctx context.Context, alert event.EmergencyAlert) error
}

// Subscriber is the realtime surface the dispatcher listens on
type Subscriber interface {
	Subscribe(scope event.Scope, onChange func(event.Change)) (event.Subscription, error)
}

// Dispatcher relays every newly inserted emergency alert to a Publisher
type Dispatcher struct {
	source    Subscriber
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger

	mu  sync.Mutex
	sub event.Subscription
}

// NewDispatcher creates a dispatcher
func NewDispatcher(source Subscriber, publisher Publisher, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		source:    source,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start subscribes to emergency alerts
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sub != nil {
		return nil
	}
	sub, err := d.source.Subscribe(event.Scope{Kind: event.KindEmergencyAlerts}, d.handle)
	if err != nil {
		return fmt.Errorf("subscribe emergency alerts: %w", err)
	}
	d.sub = sub
	return nil
}

// Stop releases the subscription
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	sub := d.sub
	d.sub = nil
	d.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Release()
}

func (d *Dispatcher) handle(c event.Change) {
	if c.Type != event.EventInsert {
		return
	}
	alert, ok := c.Record.(event.EmergencyAlert)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.publisher.PublishAlert(ctx, alert); err != nil {
		d.logger.Error("alert dispatch failed", "alert", alert.ID, "author", alert.AuthorID, "error", err)
		return
	}
	d.logger.Info("alert dispatched", "alert", alert.ID, "author", alert.AuthorID)
}
