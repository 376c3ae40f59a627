// internal/adapter/sensor/local.go

package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"safeloc/internal/clock"
	"safeloc/internal/domain/geo"
)

// ErrTimeout is reported when no fix arrives within the request timeout
var ErrTimeout = errors.New("position acquisition timed out")

// Local is an in-process geo.Sensor fed through Push and Fail. It backs
// the memory deployment and tests.
type Local struct {
	clock clock.Clock

	mu       sync.Mutex
	last     map[string]geo.Position
	watchers map[string]map[int]*localWatch
	waiters  map[string][]chan result
	nextID   int
}

var _ geo.Sensor = (*Local)(nil)

type localWatch struct {
	onFix   func(geo.Position)
	onError func(error)
	dog     *watchdog
}

type result struct {
	pos geo.Position
	err error
}

// NewLocal creates an in-process sensor
func NewLocal(clk clock.Clock) *Local {
	if clk == nil {
		clk = clock.Real()
	}
	return &Local{
		clock:    clk,
		last:     make(map[string]geo.Position),
		watchers: make(map[string]map[int]*localWatch),
		waiters:  make(map[string][]chan result),
	}
}

// Push delivers a device fix to pending requests and standing watches
func (l *Local) Push(ownerID string, pos geo.Position) {
	l.mu.Lock()
	l.last[ownerID] = pos
	waiters := l.waiters[ownerID]
	delete(l.waiters, ownerID)
	watches := l.watchesLocked(ownerID)
	l.mu.Unlock()

	for _, ch := range waiters {
		ch <- result{pos: pos}
	}
	for _, w := range watches {
		w.dog.kick()
		w.onFix(pos)
	}
}

// PublishFix validates a device fix and pushes it
func (l *Local) PublishFix(ownerID string, pos geo.Position) error {
	if err := geo.ValidateOwnerID(ownerID); err != nil {
		return err
	}
	if err := pos.Validate(); err != nil {
		return err
	}
	l.Push(ownerID, pos)
	return nil
}

// Forget drops the owner's cached fix
func (l *Local) Forget(ownerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, ownerID)
}

// Fail reports a device error to pending requests and standing watches
func (l *Local) Fail(ownerID string, err error) {
	l.mu.Lock()
	waiters := l.waiters[ownerID]
	delete(l.waiters, ownerID)
	watches := l.watchesLocked(ownerID)
	l.mu.Unlock()

	for _, ch := range waiters {
		ch <- result{err: err}
	}
	for _, w := range watches {
		w.onError(err)
	}
}

// Locate returns a cached fix within opts.MaximumAge, or waits for the
// next pushed fix
func (l *Local) Locate(ctx context.Context, ownerID string, opts geo.AcquireOptions) (geo.Position, error) {
	l.mu.Lock()
	if pos, ok := l.last[ownerID]; ok && fresh(pos, l.clock.Now(), opts.MaximumAge) {
		l.mu.Unlock()
		return pos, nil
	}
	ch := make(chan result, 1)
	l.waiters[ownerID] = append(l.waiters[ownerID], ch)
	l.mu.Unlock()

	timedOut := make(chan struct{})
	if opts.Timeout > 0 {
		timer := l.clock.AfterFunc(opts.Timeout, func() { close(timedOut) })
		defer timer.Stop()
	}

	select {
	case r := <-ch:
		return r.pos, r.err
	case <-timedOut:
		l.dropWaiter(ownerID, ch)
		return geo.Position{}, ErrTimeout
	case <-ctx.Done():
		l.dropWaiter(ownerID, ch)
		return geo.Position{}, ctx.Err()
	}
}

// Watch starts a standing subscription. With a timeout, silence longer
// than opts.Timeout is reported through onError and the wait restarts.
func (l *Local) Watch(ownerID string, opts geo.AcquireOptions, onFix func(geo.Position), onError func(error)) (func(), error) {
	if onFix == nil || onError == nil {
		return nil, fmt.Errorf("watch %s: callbacks required", ownerID)
	}

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	w := &localWatch{onFix: onFix, onError: onError}
	w.dog = newWatchdog(l.clock, opts.Timeout, func() { onError(ErrTimeout) })
	if l.watchers[ownerID] == nil {
		l.watchers[ownerID] = make(map[int]*localWatch)
	}
	l.watchers[ownerID][id] = w
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.dog.stop()
			l.mu.Lock()
			delete(l.watchers[ownerID], id)
			if len(l.watchers[ownerID]) == 0 {
				delete(l.watchers, ownerID)
			}
			l.mu.Unlock()
		})
	}, nil
}

// Watches returns the number of standing watches for an owner
func (l *Local) Watches(ownerID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.watchers[ownerID])
}

// Waiting returns the number of one-shot requests blocked on an owner
func (l *Local) Waiting(ownerID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters[ownerID])
}

func (l *Local) watchesLocked(ownerID string) []*localWatch {
	out := make([]*localWatch, 0, len(l.watchers[ownerID]))
	for _, w := range l.watchers[ownerID] {
		out = append(out, w)
	}
	return out
}

func (l *Local) dropWaiter(ownerID string, ch chan result) {
	l.mu.Lock()
	defer l.mu.Unlock()

	waiters := l.waiters[ownerID]
	for i, c := range waiters {
		if c == ch {
			l.waiters[ownerID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(l.waiters[ownerID]) == 0 {
		delete(l.waiters, ownerID)
	}
}
