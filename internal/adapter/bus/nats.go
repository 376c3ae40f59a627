// internal/adapter/bus/nats.go

package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"safeloc/internal/domain/event"
)

// NATS is an event.Bus over NATS subjects geo.<kind>.<recordID>.
// Reconnection is handled by the connection options.
type NATS struct {
	conn   *nats.Conn
	logger *slog.Logger
}

var _ event.Bus = (*NATS)(nil)

// NewNATS creates a bus on an established connection
func NewNATS(conn *nats.Conn, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{conn: conn, logger: logger}
}

// Subject returns the subject a change for one record is published on
func Subject(kind event.Kind, recordID string) string {
	return fmt.Sprintf("geo.%s.%s", kind, recordID)
}

// ScopeSubject returns the subject pattern a scope listens on
func ScopeSubject(scope event.Scope) string {
	if scope.RecordID == "" {
		return fmt.Sprintf("geo.%s.*", scope.Kind)
	}
	return Subject(scope.Kind, scope.RecordID)
}

// Publish sends a change to its record subject
func (b *NATS) Publish(ctx context.Context, c event.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(c)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(Subject(c.Kind, c.Record.RecordID()), data); err != nil {
		return fmt.Errorf("%w: publish %s: %v", event.ErrStoreUnavailable, c.Kind, err)
	}
	return nil
}

// Subscribe listens for changes in a scope. Messages for one subscription
// are delivered in order on a single goroutine.
func (b *NATS) Subscribe(scope event.Scope, onChange func(event.Change)) (event.Subscription, error) {
	subject := ScopeSubject(scope)

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		c, err := Decode(msg.Data)
		if err != nil {
			b.logger.Warn("dropping undecodable change", "subject", msg.Subject, "error", err)
			return
		}
		if !scope.Matches(c) {
			return
		}
		onChange(c)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", event.ErrStoreUnavailable, subject, err)
	}
	return natsSubscription{sub: sub}, nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

// Release unsubscribes. Releasing twice is not an error.
func (s natsSubscription) Release() error {
	if !s.sub.IsValid() {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrBadSubscription && err != nats.ErrConnectionClosed {
		return err
	}
	return nil
}
