// internal/domain/event/store.go

package event

import (
	"context"
	"errors"
)

var (
	// ErrWriteRejected is returned when a record fails validation
	ErrWriteRejected = errors.New("write rejected")

	// ErrStoreUnavailable wraps transient store and channel failures
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned when a record does not exist, or when a
	// conditional update matched no row
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when an insert violates a uniqueness rule,
	// such as a second active share session for one owner
	ErrConflict = errors.New("conflicting record")
)

// EventType is the kind of mutation carried by a change notification
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Change is a single notification delivered to subscribers
type Change struct {
	Type   EventType
	Kind   Kind
	Record Record
}

// Scope selects which changes a subscription receives. An empty
// RecordID means every record of Kind.
type Scope struct {
	Kind     Kind
	RecordID string
}

// Matches reports whether a change falls inside the scope
func (s Scope) Matches(c Change) bool {
	if c.Kind != s.Kind {
		return false
	}
	return s.RecordID == "" || (c.Record != nil && c.Record.RecordID() == s.RecordID)
}

// OrderField is a column that List can sort by
type OrderField string

const (
	OrderByCreatedAt OrderField = "created_at"
	OrderByUpdatedAt OrderField = "updated_at"
)

// Query describes a one-shot catch-up read
type Query struct {
	Kind       Kind
	OwnerID    string
	ActiveOnly bool
	OrderBy    OrderField
	Ascending  bool
	Limit      int
}

// Store is the durable store of record
type Store interface {
	// Insert writes a new record and returns it as stored
	Insert(ctx context.Context, rec Record) (Record, error)

	// Update replaces an existing record. Share sessions are only
	// updated to an active state while the stored row is still active.
	Update(ctx context.Context, rec Record) (Record, error)

	// Get returns a record by kind and id
	Get(ctx context.Context, kind Kind, id string) (Record, error)

	// List returns records matching the query
	List(ctx context.Context, q Query) ([]Record, error)
}

// Subscription is a standing notification channel. It must be released.
type Subscription interface {
	Release() error
}

// Bus pushes change notifications to subscribers
type Bus interface {
	// Publish delivers a change to every matching subscription
	Publish(ctx context.Context, c Change) error

	// Subscribe opens a notification channel for a scope
	Subscribe(scope Scope, onChange func(Change)) (Subscription, error)
}
