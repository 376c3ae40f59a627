// internal/service/locate/watcher.go

package locate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"safeloc/internal/domain/geo"
)

// ErrSuperseded is returned by a one-shot request that was cancelled by
// a later Locate, StartWatching, Stop or Close
var ErrSuperseded = errors.New("location request superseded")

// ErrClosed is returned once the watcher has been closed
var ErrClosed = errors.New("watcher closed")

// Mode is the acquisition mode of a watcher
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeOneShot    Mode = "one_shot"
	ModeContinuous Mode = "continuous"
)

// PositionSink receives accepted fixes
type PositionSink interface {
	Offer(pos geo.Position, source geo.Source) bool
}

// WatcherConfig contains configuration for a watcher
type WatcherConfig struct {
	OneShotTimeout time.Duration
	OneShotMaxAge  time.Duration
	WatchTimeout   time.Duration
	LocateMaxZoom  int
}

// DefaultWatcherConfig returns the default acquisition settings
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		OneShotTimeout: 10 * time.Second,
		OneShotMaxAge:  time.Minute,
		WatchTimeout:   5 * time.Second,
		LocateMaxZoom:  16,
	}
}

// Watcher runs one owner's acquisition state machine. One-shot and
// continuous acquisition are mutually exclusive; starting either cancels
// the other, and at most one acquisition is outstanding.
type Watcher struct {
	ownerID  string
	sensor   geo.Sensor
	sink     PositionSink
	viewport geo.Viewport
	listener geo.Listener
	config   WatcherConfig
	logger   *slog.Logger

	mu           sync.Mutex
	mode         Mode
	generation   uint64
	cancelLocate context.CancelFunc
	cancelWatch  func()
	closed       bool
}

// NewWatcher creates an idle watcher. viewport and listener may be nil.
func NewWatcher(
	ownerID string,
	sensor geo.Sensor,
	sink PositionSink,
	viewport geo.Viewport,
	listener geo.Listener,
	config WatcherConfig,
	logger *slog.Logger,
) *Watcher {
	defaults := DefaultWatcherConfig()
	if config.OneShotTimeout <= 0 {
		config.OneShotTimeout = defaults.OneShotTimeout
	}
	if config.WatchTimeout <= 0 {
		config.WatchTimeout = defaults.WatchTimeout
	}
	if config.OneShotMaxAge < 0 {
		config.OneShotMaxAge = 0
	}
	if config.LocateMaxZoom <= 0 {
		config.LocateMaxZoom = defaults.LocateMaxZoom
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		ownerID:  ownerID,
		sensor:   sensor,
		sink:     sink,
		viewport: viewport,
		listener: listener,
		config:   config,
		logger:   logger,
		mode:     ModeIdle,
	}
}

// Mode returns the current acquisition mode
func (w *Watcher) Mode() Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Locate requests a single fix, reports it and re-centers the viewport
// with a capped zoom. It leaves continuous mode if active and returns the
// watcher to idle when done.
func (w *Watcher) Locate(ctx context.Context) (geo.Position, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return geo.Position{}, ErrClosed
	}
	w.releaseLocked()
	w.generation++
	gen := w.generation
	w.mode = ModeOneShot
	lctx, cancel := context.WithCancel(ctx)
	w.cancelLocate = cancel
	w.mu.Unlock()

	pos, err := w.sensor.Locate(lctx, w.ownerID, geo.AcquireOptions{
		Timeout:    w.config.OneShotTimeout,
		MaximumAge: w.config.OneShotMaxAge,
	})
	cancel()

	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		return geo.Position{}, ErrSuperseded
	}
	w.cancelLocate = nil
	w.mode = ModeIdle
	w.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: %v", geo.ErrLocationUnavailable, err)
		w.unavailable(err)
		return geo.Position{}, err
	}

	w.sink.Offer(pos, geo.SourceSensor)
	if w.viewport != nil {
		w.viewport.SetView(pos, w.config.LocateMaxZoom)
	}
	if w.listener != nil {
		w.listener.LocationFound(pos)
	}
	return pos, nil
}

// StartWatching enters continuous mode, cancelling a pending one-shot.
// Calling it while already watching is a no-op. If the sensor refuses
// the subscription the watcher stays in its previous mode.
func (w *Watcher) StartWatching() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.mode == ModeContinuous {
		w.mu.Unlock()
		return nil
	}
	previous := w.mode
	w.releaseLocked()
	w.generation++
	gen := w.generation
	w.mode = ModeContinuous
	w.mu.Unlock()

	cancel, err := w.sensor.Watch(w.ownerID, geo.AcquireOptions{
		HighAccuracy: true,
		Timeout:      w.config.WatchTimeout,
		MaximumAge:   0,
	}, w.onFix(gen), w.onError(gen))

	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return ErrSuperseded
	}
	if err != nil {
		if previous == ModeOneShot {
			previous = ModeIdle
		}
		w.mode = previous
		w.mu.Unlock()

		err = fmt.Errorf("%w: %v", geo.ErrLocationUnavailable, err)
		w.unavailable(err)
		return err
	}
	w.cancelWatch = cancel
	w.mu.Unlock()

	w.logger.Debug("continuous location started", "owner", w.ownerID)
	return nil
}

// Stop cancels any acquisition and returns to idle
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.releaseLocked()
	w.generation++
	w.mode = ModeIdle
}

// Close stops the watcher for good
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.releaseLocked()
	w.generation++
	w.mode = ModeIdle
	w.closed = true
}

// releaseLocked cancels the outstanding acquisition, if any
func (w *Watcher) releaseLocked() {
	if w.cancelLocate != nil {
		w.cancelLocate()
		w.cancelLocate = nil
	}
	if w.cancelWatch != nil {
		w.cancelWatch()
		w.cancelWatch = nil
	}
}

func (w *Watcher) current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return gen == w.generation && w.mode == ModeContinuous
}

func (w *Watcher) onFix(gen uint64) func(geo.Position) {
	return func(pos geo.Position) {
		if !w.current(gen) {
			return
		}
		w.sink.Offer(pos, geo.SourceSensor)
		if w.viewport != nil {
			w.viewport.PanTo(pos)
		}
		if w.listener != nil {
			w.listener.LocationFound(pos)
		}
	}
}

func (w *Watcher) onError(gen uint64) func(error) {
	return func(err error) {
		if !w.current(gen) {
			return
		}
		w.unavailable(fmt.Errorf("%w: %v", geo.ErrLocationUnavailable, err))
	}
}

func (w *Watcher) unavailable(err error) {
	w.logger.Debug("location unavailable", "owner", w.ownerID, "error", err)
	if w.listener != nil {
		w.listener.LocationUnavailable(err)
	}
}
