// internal/adapter/bus/memory.go

package bus

import (
	"context"
	"sync"

	"safeloc/internal/domain/event"
)

// Memory is an in-process event.Bus. Publish delivers synchronously to
// every matching subscription in subscription order.
type Memory struct {
	mu   sync.RWMutex
	subs []*memorySub
}

var _ event.Bus = (*Memory)(nil)

type memorySub struct {
	bus      *Memory
	scope    event.Scope
	onChange func(event.Change)
	once     sync.Once
	released bool
}

// NewMemory creates an in-process bus
func NewMemory() *Memory {
	return &Memory{}
}

// Publish delivers a change to matching subscribers
func (b *Memory) Publish(ctx context.Context, c event.Change) error {
	b.mu.RLock()
	targets := make([]*memorySub, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.scope.Matches(c) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if sub.active() {
			sub.onChange(c)
		}
	}
	return nil
}

// Subscribe registers a callback for a scope
func (b *Memory) Subscribe(scope event.Scope, onChange func(event.Change)) (event.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &memorySub{bus: b, scope: scope, onChange: onChange}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Subscribers returns the number of open subscriptions
func (b *Memory) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *memorySub) active() bool {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return !s.released
}

// Release removes the subscription. Safe to call more than once.
func (s *memorySub) Release() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		s.released = true
		for i, sub := range s.bus.subs {
			if sub == s {
				s.bus.subs = append(s.bus.subs[:i:i], s.bus.subs[i+1:]...)
				return
			}
		}
	})
	return nil
}
