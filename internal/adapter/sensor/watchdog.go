// internal/adapter/sensor/watchdog.go

package sensor

import (
	"sync"
	"time"

	"safeloc/internal/clock"
	"safeloc/internal/domain/geo"
)

// watchdog fires when no fix arrives for timeout, then re-arms
type watchdog struct {
	clock   clock.Clock
	timeout time.Duration
	onIdle  func()

	mu      sync.Mutex
	timer   *clock.Timer
	stopped bool
}

func newWatchdog(clk clock.Clock, timeout time.Duration, onIdle func()) *watchdog {
	d := &watchdog{clock: clk, timeout: timeout, onIdle: onIdle}
	if timeout > 0 {
		d.timer = clk.AfterFunc(timeout, d.fire)
	}
	return d
}

func (d *watchdog) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = d.clock.AfterFunc(d.timeout, d.fire)
	d.mu.Unlock()

	d.onIdle()
}

func (d *watchdog) kick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || d.timer == nil {
		return
	}
	d.timer.Stop()
	d.timer = d.clock.AfterFunc(d.timeout, d.fire)
}

func (d *watchdog) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

// fresh reports whether a cached fix satisfies maxAge at now
func fresh(pos geo.Position, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(pos.CapturedAt) <= maxAge
}
