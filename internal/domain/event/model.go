// internal/domain/event/model.go

package event

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"safeloc/internal/domain/geo"
)

// Kind identifies a record collection distributed through the fanout
type Kind string

const (
	KindEmergencyAlerts Kind = "emergency_alerts"
	KindHazardReports   Kind = "hazard_reports"
	KindShareSessions   Kind = "share_sessions"
)

// Kinds lists every kind known to the store
var Kinds = []Kind{KindEmergencyAlerts, KindHazardReports, KindShareSessions}

// ParseKind validates a kind name
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// DefaultAlertMessage is used when an alert is raised without a message
const DefaultAlertMessage = "Emergency!"

// DefaultHazardCategory is used when a report has no category
const DefaultHazardCategory = "General"

// Record is anything stored and fanned out by the event store
type Record interface {
	Kind() Kind
	RecordID() string
	RecordCreatedAt() time.Time
	RecordUpdatedAt() time.Time
}

// Owned is implemented by records attributed to a user
type Owned interface {
	Owner() string
}

// Activatable is implemented by records that can be deactivated
type Activatable interface {
	Active() bool
}

// OwnerOf returns the user a record belongs to, or "" for anonymous records
func OwnerOf(rec Record) string {
	if o, ok := rec.(Owned); ok {
		return o.Owner()
	}
	return ""
}

// IsActive reports whether a record is live. Records without an active
// flag are always live.
func IsActive(rec Record) bool {
	if a, ok := rec.(Activatable); ok {
		return a.Active()
	}
	return true
}

// Located is implemented by records pinned to a position
type Located interface {
	Location() geo.Position
}

// Validator is implemented by records that can reject themselves before
// they are written
type Validator interface {
	Validate() error
}

// EmergencyAlert is a user-raised emergency broadcast at a position
type EmergencyAlert struct {
	ID        string       `json:"id"`
	Position  geo.Position `json:"position"`
	AuthorID  string       `json:"author_id"`
	Message   string       `json:"message"`
	CreatedAt time.Time    `json:"created_at"`
}

func (a EmergencyAlert) Kind() Kind                 { return KindEmergencyAlerts }
func (a EmergencyAlert) RecordID() string           { return a.ID }
func (a EmergencyAlert) RecordCreatedAt() time.Time { return a.CreatedAt }
func (a EmergencyAlert) RecordUpdatedAt() time.Time { return a.CreatedAt }
func (a EmergencyAlert) Owner() string              { return a.AuthorID }
func (a EmergencyAlert) Location() geo.Position     { return a.Position }

// Validate checks the alert before it is written
func (a EmergencyAlert) Validate() error {
	if a.AuthorID == "" {
		return errors.New("author_id: required")
	}
	return a.Position.Validate()
}

// HazardReport marks an unsafe location. Reports may be anonymous.
type HazardReport struct {
	ID          string       `json:"id"`
	Position    geo.Position `json:"position"`
	AuthorID    *string      `json:"author_id,omitempty"`
	Description string       `json:"description"`
	Category    string       `json:"category"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (h HazardReport) Kind() Kind                 { return KindHazardReports }
func (h HazardReport) RecordID() string           { return h.ID }
func (h HazardReport) RecordCreatedAt() time.Time { return h.CreatedAt }
func (h HazardReport) RecordUpdatedAt() time.Time { return h.CreatedAt }
func (h HazardReport) Location() geo.Position     { return h.Position }

// Owner returns the reporting user, or "" for anonymous reports
func (h HazardReport) Owner() string {
	if h.AuthorID == nil {
		return ""
	}
	return *h.AuthorID
}

// Validate checks the report before it is written
func (h HazardReport) Validate() error {
	if strings.TrimSpace(h.Description) == "" {
		return errors.New("description: required")
	}
	return h.Position.Validate()
}
