// internal/domain/share/model.go

package share

import (
	"errors"
	"strings"
	"time"

	"safeloc/internal/domain/event"
	"safeloc/internal/domain/geo"
)

var (
	// ErrNoActiveOwnerPosition is returned when sharing starts without a position
	ErrNoActiveOwnerPosition = errors.New("no active owner position")

	// ErrAlreadySharing is returned when the owner already has an active session
	ErrAlreadySharing = errors.New("owner already has an active share session")

	// ErrLinkNotFound is returned to viewers for unknown or revoked sessions
	ErrLinkNotFound = errors.New("share link not found")

	// ErrLinkExpired is returned to viewers once expiresAt has passed
	ErrLinkExpired = errors.New("share link expired")
)

// Session is a time-bounded, revocable live-location share
type Session struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"owner_id"`
	Position  geo.Position `json:"position"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (s Session) Kind() event.Kind           { return event.KindShareSessions }
func (s Session) RecordID() string           { return s.ID }
func (s Session) RecordCreatedAt() time.Time { return s.CreatedAt }
func (s Session) RecordUpdatedAt() time.Time { return s.UpdatedAt }
func (s Session) Owner() string              { return s.OwnerID }
func (s Session) Active() bool               { return s.IsActive }
func (s Session) Location() geo.Position     { return s.Position }

// Validate checks the session before it is written
func (s Session) Validate() error {
	if s.OwnerID == "" {
		return errors.New("owner_id: required")
	}
	if !s.ExpiresAt.After(s.CreatedAt) && s.IsActive {
		return errors.New("expires_at: must be after created_at")
	}
	return s.Position.Validate()
}

// ExpiredAt reports whether the session is past its expiry at the given instant
func (s Session) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// ViewableAt reports whether a viewer may see the session at the given instant
func (s Session) ViewableAt(now time.Time) bool {
	return s.IsActive && !s.ExpiredAt(now)
}

// Transition is a lifecycle change of a session
type Transition string

const (
	TransitionStarted Transition = "started"
	TransitionStopped Transition = "stopped"
	TransitionExpired Transition = "expired"
)

// Link builds the public viewer URL for a session
func Link(origin, sessionID string) string {
	return strings.TrimRight(origin, "/") + "/view-share/" + sessionID
}
