// internal/server/handlers/events.go

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"safeloc/internal/clock"
	"safeloc/internal/domain/event"
	"safeloc/internal/domain/geo"
	"safeloc/internal/domain/share"
	"safeloc/internal/service/fanout"
	geosvc "safeloc/internal/service/geo"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// EventHandler handles alert and hazard report requests
type EventHandler struct {
	events    *fanout.Service
	positions share.PositionSource
	proximity *geosvc.ProximityService
	clock     clock.Clock
}

// NewEventHandler creates a new event handler
func NewEventHandler(
	events *fanout.Service,
	positions share.PositionSource,
	proximity *geosvc.ProximityService,
	clk clock.Clock,
) *EventHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &EventHandler{
		events:    events,
		positions: positions,
		proximity: proximity,
		clock:     clk,
	}
}

// ListAlerts returns recent emergency alerts
func (h *EventHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, event.KindEmergencyAlerts)
}

// ListHazards returns recent hazard reports
func (h *EventHandler) ListHazards(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, event.KindHazardReports)
}

// list reads the newest records of a kind. With lat and lon it returns
// the records within radius_km instead, closest first.
func (h *EventHandler) list(w http.ResponseWriter, r *http.Request, kind event.Kind) {
	lat, hasLat, err := queryFloat(r, "lat")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid latitude", err)
		return
	}
	lon, hasLon, err := queryFloat(r, "lon")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid longitude", err)
		return
	}
	if hasLat != hasLon {
		respondWithError(w, http.StatusBadRequest, "Missing location parameters", nil)
		return
	}
	radius, _, err := queryFloat(r, "radius_km")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid radius", err)
		return
	}

	limit := queryLimit(r, defaultListLimit, maxListLimit)
	q := event.Query{
		Kind:    kind,
		OwnerID: r.URL.Query().Get("author_id"),
		Limit:   limit,
	}
	if hasLat {
		q.Limit = maxListLimit
	}

	records, err := h.events.List(r.Context(), q)
	if err != nil {
		respondWithDomainError(w, "Failed to list "+string(kind), err)
		return
	}

	if !hasLat {
		if records == nil {
			records = []event.Record{}
		}
		respondWithJSON(w, http.StatusOK, records)
		return
	}

	center := geo.Position{Latitude: lat, Longitude: lon}
	if err := center.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid location", err)
		return
	}

	nearby := h.proximity.Nearby(records, center, radius)
	if len(nearby) > limit {
		nearby = nearby[:limit]
	}
	if nearby == nil {
		nearby = []geosvc.Nearby{}
	}
	respondWithJSON(w, http.StatusOK, nearby)
}

// CreateAlert raises an emergency alert at the given position, or at the
// caller's current position when none is sent
func (h *EventHandler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	type createAlertRequest struct {
		Position *positionRequest `json:"position"`
		Message  string           `json:"message"`
	}

	author, err := callerID(r)
	if err != nil {
		respondWithDomainError(w, "Authentication required", err)
		return
	}

	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	pos, err := h.resolvePosition(author, req.Position)
	if err != nil {
		respondWithDomainError(w, "No position for alert", err)
		return
	}

	rec, err := h.events.Append(r.Context(), event.EmergencyAlert{
		Position: *pos,
		AuthorID: author,
		Message:  req.Message,
	})
	if err != nil {
		respondWithDomainError(w, "Failed to raise alert", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, rec)
}

// CreateHazard files a hazard report. Reports without a caller, or with
// anonymous set, carry no author.
func (h *EventHandler) CreateHazard(w http.ResponseWriter, r *http.Request) {
	type createHazardRequest struct {
		Position    *positionRequest `json:"position"`
		Description string           `json:"description"`
		Category    string           `json:"category"`
		Anonymous   bool             `json:"anonymous"`
	}

	var req createHazardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	caller, err := callerID(r)
	if err != nil && !errors.Is(err, ErrMissingUser) {
		respondWithDomainError(w, "Invalid caller", err)
		return
	}
	pos, err := h.resolvePosition(caller, req.Position)
	if err != nil {
		respondWithDomainError(w, "No position for hazard report", err)
		return
	}

	report := event.HazardReport{
		Position:    *pos,
		Description: req.Description,
		Category:    req.Category,
	}
	if caller != "" && !req.Anonymous {
		report.AuthorID = &caller
	}

	rec, err := h.events.Append(r.Context(), report)
	if err != nil {
		respondWithDomainError(w, "Failed to report hazard", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, rec)
}

// resolvePosition prefers the position in the request and falls back to
// the owner's current fix
func (h *EventHandler) resolvePosition(ownerID string, req *positionRequest) (*geo.Position, error) {
	pos, err := req.toPosition(h.clock.Now())
	if err != nil {
		return nil, errors.Join(event.ErrWriteRejected, err)
	}
	if pos != nil {
		return pos, nil
	}

	if ownerID != "" {
		if current, ok := h.positions.CurrentPosition(ownerID); ok {
			return &current, nil
		}
	}
	return nil, geo.ErrLocationUnavailable
}
