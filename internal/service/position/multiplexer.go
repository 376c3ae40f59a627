// internal/service/position/multiplexer.go

package position

import (
	"sync"

	"safeloc/internal/domain/geo"
)

// Multiplexer merges fixes from every source into one current position.
// The most recent capture time wins regardless of source.
type Multiplexer struct {
	notifyMu  sync.Mutex
	mu        sync.RWMutex
	current   *geo.Fix
	listeners []listener
	nextID    int
}

type listener struct {
	id int
	fn func(geo.Fix)
}

// NewMultiplexer creates an empty multiplexer
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{}
}

// Offer proposes a fix. It is accepted only if there is no current fix
// or it was captured strictly later. Listeners run once per accepted
// fix, in acceptance order, and must not call Offer themselves.
func (m *Multiplexer) Offer(pos geo.Position, source geo.Source) bool {
	if pos.Validate() != nil || pos.CapturedAt.IsZero() {
		return false
	}

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.current != nil && !pos.CapturedAt.After(m.current.Position.CapturedAt) {
		m.mu.Unlock()
		return false
	}
	fix := geo.Fix{Position: pos, Source: source}
	m.current = &fix

	listeners := make([]listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.fn(fix)
	}
	return true
}

// Current returns the current fix, if any
func (m *Multiplexer) Current() (geo.Fix, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return geo.Fix{}, false
	}
	return *m.current, true
}

// OnPositionChanged registers a listener for accepted fixes. The
// returned func removes it and is safe to call more than once.
func (m *Multiplexer) OnPositionChanged(fn func(geo.Fix)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Listeners returns the number of registered listeners
func (m *Multiplexer) Listeners() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}
