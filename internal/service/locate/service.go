// internal/service/locate/service.go

package locate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"safeloc/internal/domain/geo"
	"safeloc/internal/domain/share"
	"safeloc/internal/service/position"
)

// Service owns a watcher and map view per owner, feeding each owner's
// multiplexer in the position registry
type Service struct {
	sensor   geo.Sensor
	registry *position.Registry
	config   WatcherConfig
	logger   *slog.Logger

	mu       sync.Mutex
	watchers map[string]*Watcher
	views    map[string]*MapView
}

// NewService creates a locate service
func NewService(sensor geo.Sensor, registry *position.Registry, config WatcherConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sensor:   sensor,
		registry: registry,
		config:   config,
		logger:   logger,
		watchers: make(map[string]*Watcher),
		views:    make(map[string]*MapView),
	}
}

// Watcher returns the owner's watcher, creating it on first use
func (s *Service) Watcher(ownerID string) *Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watchers[ownerID]
	if !ok {
		view := NewMapView()
		w = NewWatcher(
			ownerID,
			s.sensor,
			s.registry.Get(ownerID),
			view,
			logListener{ownerID: ownerID, logger: s.logger},
			s.config,
			s.logger,
		)
		s.watchers[ownerID] = w
		s.views[ownerID] = view
	}
	return w
}

// View returns the owner's map view
func (s *Service) View(ownerID string) *MapView {
	s.Watcher(ownerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views[ownerID]
}

// Locate performs a one-shot fix for the owner
func (s *Service) Locate(ctx context.Context, ownerID string) (geo.Position, error) {
	return s.Watcher(ownerID).Locate(ctx)
}

// StartWatching puts the owner's watcher in continuous mode
func (s *Service) StartWatching(ownerID string) error {
	return s.Watcher(ownerID).StartWatching()
}

// StopWatching returns the owner's watcher to idle
func (s *Service) StopWatching(ownerID string) {
	s.mu.Lock()
	w, ok := s.watchers[ownerID]
	s.mu.Unlock()

	if ok {
		w.Stop()
	}
}

// Mode returns the owner's acquisition mode
func (s *Service) Mode(ownerID string) Mode {
	s.mu.Lock()
	w, ok := s.watchers[ownerID]
	s.mu.Unlock()

	if !ok {
		return ModeIdle
	}
	return w.Mode()
}

// Forget closes the owner's watcher and drops the owner's state, including
// the sensor's cached fix when the sensor keeps one
func (s *Service) Forget(ownerID string) {
	s.forget(ownerID, false)
}

// forget drops the owner. With idleOnly it leaves owners whose watcher is
// busy untouched and reports false.
func (s *Service) forget(ownerID string, idleOnly bool) bool {
	s.mu.Lock()
	w, ok := s.watchers[ownerID]
	if ok && idleOnly && w.Mode() != ModeIdle {
		s.mu.Unlock()
		return false
	}
	delete(s.watchers, ownerID)
	delete(s.views, ownerID)
	// the multiplexer goes with the watcher, both under s.mu
	s.registry.Forget(ownerID)
	s.mu.Unlock()

	if ok {
		w.Close()
	}
	if f, ok := s.sensor.(forgetter); ok {
		f.Forget(ownerID)
	}
	s.logger.Debug("owner position context dropped", "owner", ownerID)
	return true
}

// forgetter is implemented by sensors that cache per-owner fixes
type forgetter interface {
	Forget(ownerID string)
}

// OnShareTransition follows the owner's share session: a started session
// keeps the owner's watcher continuous, and a stopped or expired one tears
// the owner's position context down.
func (s *Service) OnShareTransition(sess share.Session, transition share.Transition) {
	switch transition {
	case share.TransitionStarted:
		if err := s.StartWatching(sess.OwnerID); err != nil {
			s.logger.Warn("failed to start watching owner", "owner", sess.OwnerID, "error", err)
		}
	case share.TransitionStopped, share.TransitionExpired:
		s.Forget(sess.OwnerID)
	}
}

// Sweep forgets owners whose watcher is idle and whose newest fix is older
// than cutoff. It returns the number of owners dropped.
func (s *Service) Sweep(cutoff time.Time) int {
	dropped := 0
	for _, ownerID := range s.registry.Idle(cutoff) {
		if s.forget(ownerID, true) {
			dropped++
		}
	}
	if dropped > 0 {
		s.logger.Info("idle owners evicted", "count", dropped)
	}
	return dropped
}

// RunSweeper calls Sweep every interval until ctx is done
func (s *Service) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now.Add(-idle))
		}
	}
}

// Close closes every watcher
func (s *Service) Close() {
	s.mu.Lock()
	watchers := make([]*Watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.watchers = make(map[string]*Watcher)
	s.views = make(map[string]*MapView)
	s.mu.Unlock()

	for _, w := range watchers {
		w.Close()
	}
}

type logListener struct {
	ownerID string
	logger  *slog.Logger
}

func (l logListener) LocationFound(pos geo.Position) {
	l.logger.Debug("location found", "owner", l.ownerID, "lat", pos.Latitude, "lon", pos.Longitude)
}

func (l logListener) LocationUnavailable(err error) {
	l.logger.Info("location unavailable", "owner", l.ownerID, "error", err)
}
