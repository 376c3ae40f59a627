// internal/adapter/sensor/nats.go

package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"safeloc/internal/clock"
	"safeloc/internal/domain/geo"
)

// FixSubject is where a device publishes its fixes
func FixSubject(ownerID string) string {
	return fmt.Sprintf("device.%s.fix", ownerID)
}

// ControlSubject is where acquisition requests for a device are sent
func ControlSubject(ownerID string) string {
	return fmt.Sprintf("device.%s.control", ownerID)
}

// Control is the request sent to a device
type Control struct {
	Action       string `json:"action"` // locate | watch | unwatch
	HighAccuracy bool   `json:"high_accuracy"`
	TimeoutMs    int64  `json:"timeout_ms"`
	MaxAgeMs     int64  `json:"maximum_age_ms"`
}

// NATS is a geo.Sensor backed by devices publishing on NATS. Start must
// be called to keep the cache of latest fixes used for MaximumAge.
type NATS struct {
	conn   *nats.Conn
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.RWMutex
	last  map[string]geo.Position
	cache *nats.Subscription
}

var _ geo.Sensor = (*NATS)(nil)

// NewNATS creates a NATS-backed sensor
func NewNATS(conn *nats.Conn, clk clock.Clock, logger *slog.Logger) *NATS {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{
		conn:   conn,
		clock:  clk,
		logger: logger,
		last:   make(map[string]geo.Position),
	}
}

// Start subscribes to every device's fixes to keep the cache warm
func (s *NATS) Start() error {
	sub, err := s.conn.Subscribe("device.*.fix", func(msg *nats.Msg) {
		owner, ok := ownerFromSubject(msg.Subject)
		if !ok {
			return
		}
		pos, err := decodeFix(msg.Data)
		if err != nil {
			s.logger.Warn("invalid device fix", "subject", msg.Subject, "error", err)
			return
		}
		s.mu.Lock()
		s.last[owner] = pos
		s.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("subscribe device fixes: %w", err)
	}

	s.mu.Lock()
	s.cache = sub
	s.mu.Unlock()
	return nil
}

// Stop drops the cache subscription
func (s *NATS) Stop() error {
	s.mu.Lock()
	sub := s.cache
	s.cache = nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// Forget drops the owner's cached fix
func (s *NATS) Forget(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, ownerID)
}

// PublishFix publishes a device fix, as the device gateway does
func (s *NATS) PublishFix(ownerID string, pos geo.Position) error {
	if err := geo.ValidateOwnerID(ownerID); err != nil {
		return err
	}
	if err := pos.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal fix: %w", err)
	}
	return s.conn.Publish(FixSubject(ownerID), data)
}

// Locate returns a cached fix within opts.MaximumAge or asks the device
// for one and waits
func (s *NATS) Locate(ctx context.Context, ownerID string, opts geo.AcquireOptions) (geo.Position, error) {
	if err := geo.ValidateOwnerID(ownerID); err != nil {
		return geo.Position{}, err
	}
	s.mu.RLock()
	pos, ok := s.last[ownerID]
	s.mu.RUnlock()
	if ok && fresh(pos, s.clock.Now(), opts.MaximumAge) {
		return pos, nil
	}

	fixes := make(chan *nats.Msg, 1)
	sub, err := s.conn.ChanSubscribe(FixSubject(ownerID), fixes)
	if err != nil {
		return geo.Position{}, fmt.Errorf("subscribe %s: %w", FixSubject(ownerID), err)
	}
	defer sub.Unsubscribe()

	if err := s.control(ownerID, "locate", opts); err != nil {
		return geo.Position{}, err
	}

	timedOut := make(chan struct{})
	if opts.Timeout > 0 {
		timer := s.clock.AfterFunc(opts.Timeout, func() { close(timedOut) })
		defer timer.Stop()
	}

	for {
		select {
		case msg := <-fixes:
			pos, err := decodeFix(msg.Data)
			if err != nil {
				s.logger.Warn("invalid device fix", "owner", ownerID, "error", err)
				continue
			}
			return pos, nil
		case <-timedOut:
			return geo.Position{}, ErrTimeout
		case <-ctx.Done():
			return geo.Position{}, ctx.Err()
		}
	}
}

// Watch asks the device to stream fixes and forwards them
func (s *NATS) Watch(ownerID string, opts geo.AcquireOptions, onFix func(geo.Position), onError func(error)) (func(), error) {
	if err := geo.ValidateOwnerID(ownerID); err != nil {
		return nil, err
	}
	dog := newWatchdog(s.clock, opts.Timeout, func() { onError(ErrTimeout) })

	sub, err := s.conn.Subscribe(FixSubject(ownerID), func(msg *nats.Msg) {
		pos, err := decodeFix(msg.Data)
		if err != nil {
			onError(err)
			return
		}
		dog.kick()
		onFix(pos)
	})
	if err != nil {
		dog.stop()
		return nil, fmt.Errorf("subscribe %s: %w", FixSubject(ownerID), err)
	}

	if err := s.control(ownerID, "watch", opts); err != nil {
		dog.stop()
		sub.Unsubscribe()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			dog.stop()
			if err := sub.Unsubscribe(); err != nil {
				s.logger.Debug("unsubscribe device fixes", "owner", ownerID, "error", err)
			}
			if err := s.control(ownerID, "unwatch", geo.AcquireOptions{}); err != nil {
				s.logger.Debug("unwatch device", "owner", ownerID, "error", err)
			}
		})
	}, nil
}

func (s *NATS) control(ownerID, action string, opts geo.AcquireOptions) error {
	data, err := json.Marshal(Control{
		Action:       action,
		HighAccuracy: opts.HighAccuracy,
		TimeoutMs:    opts.Timeout.Milliseconds(),
		MaxAgeMs:     opts.MaximumAge.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("marshal control: %w", err)
	}
	if err := s.conn.Publish(ControlSubject(ownerID), data); err != nil {
		return fmt.Errorf("publish %s: %w", ControlSubject(ownerID), err)
	}
	return nil
}

func decodeFix(data []byte) (geo.Position, error) {
	var pos geo.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return geo.Position{}, fmt.Errorf("decode fix: %w", err)
	}
	if err := pos.Validate(); err != nil {
		return geo.Position{}, err
	}
	return pos, nil
}

func ownerFromSubject(subject string) (string, bool) {
	if !strings.HasPrefix(subject, "device.") || !strings.HasSuffix(subject, ".fix") {
		return "", false
	}
	owner := strings.TrimSuffix(strings.TrimPrefix(subject, "device."), ".fix")
	return owner, owner != "" && !strings.Contains(owner, ".")
}
