// internal/domain/share/manager.go

package share

import (
	"context"

	"safeloc/internal/domain/geo"
)

// Manager defines the interface for share session management
type Manager interface {
	// StartSharing creates an active session at the given position
	StartSharing(ctx context.Context, ownerID string, position *geo.Position) (*Session, error)

	// StopSharing revokes a session. Stopping an inactive session is a no-op.
	StopSharing(ctx context.Context, sessionID string) (*Session, error)

	// RefreshPosition writes a new position into an active session
	RefreshPosition(ctx context.Context, sessionID string, position geo.Position) (*Session, error)

	// GetSession returns a session from the store of record
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// ActiveSession returns the owner's active session, if any
	ActiveSession(ownerID string) (*Session, bool)

	// ShareLink returns the public viewer URL for a session
	ShareLink(sessionID string) string

	// RegisterLifecycleHandler registers a callback for session transitions
	RegisterLifecycleHandler(handler func(Session, Transition))
}

// PositionSource supplies an owner's current position to refresh ticks
type PositionSource interface {
	CurrentPosition(ownerID string) (geo.Position, bool)
}
