// internal/service/position/registry.go

package position

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"safeloc/internal/domain/geo"
)

// Registry owns one multiplexer per owner
type Registry struct {
	mu     sync.Mutex
	owners map[string]*Multiplexer
	logger *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		owners: make(map[string]*Multiplexer),
		logger: logger,
	}
}

// Get returns the owner's multiplexer, creating it on first access
func (r *Registry) Get(ownerID string) *Multiplexer {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.owners[ownerID]
	if !ok {
		m = NewMultiplexer()
		r.owners[ownerID] = m
	}
	return m
}

// Lookup returns the owner's multiplexer without creating one
func (r *Registry) Lookup(ownerID string) (*Multiplexer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.owners[ownerID]
	return m, ok
}

// Offer proposes a fix for an owner
func (r *Registry) Offer(ownerID string, pos geo.Position, source geo.Source) bool {
	accepted := r.Get(ownerID).Offer(pos, source)
	if !accepted {
		r.logger.Debug("position fix discarded",
			"owner", ownerID, "source", source, "captured_at", pos.CapturedAt)
	}
	return accepted
}

// Current returns the owner's current fix
func (r *Registry) Current(ownerID string) (geo.Fix, bool) {
	m, ok := r.Lookup(ownerID)
	if !ok {
		return geo.Fix{}, false
	}
	return m.Current()
}

// CurrentPosition returns the owner's current position
func (r *Registry) CurrentPosition(ownerID string) (geo.Position, bool) {
	fix, ok := r.Current(ownerID)
	return fix.Position, ok
}

// Forget drops the owner's context. Listeners registered on the old
// multiplexer receive nothing further.
func (r *Registry) Forget(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.owners, ownerID)
}

// Idle lists owners whose newest fix was captured before cutoff, or who
// have none, and that nobody listens to
func (r *Registry) Idle(cutoff time.Time) []string {
	r.mu.Lock()
	owners := make(map[string]*Multiplexer, len(r.owners))
	for id, m := range r.owners {
		owners[id] = m
	}
	r.mu.Unlock()

	var ids []string
	for id, m := range owners {
		if m.Listeners() > 0 {
			continue
		}
		if fix, ok := m.Current(); ok && !fix.Position.CapturedAt.Before(cutoff) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Owners lists owners with a position context
func (r *Registry) Owners() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.owners))
	for id := range r.owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
