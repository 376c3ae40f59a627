// internal/server/handlers/position.go

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"safeloc/internal/clock"
	"safeloc/internal/domain/geo"
	"safeloc/internal/service/locate"
	"safeloc/internal/service/position"
)

// FixPublisher forwards device sensor fixes to the position sensor
type FixPublisher interface {
	PublishFix(ownerID string, pos geo.Position) error
}

// PositionHandler handles current-position and locate requests
type PositionHandler struct {
	registry *position.Registry
	locator  *locate.Service
	fixes    FixPublisher
	clock    clock.Clock
}

// NewPositionHandler creates a new position handler
func NewPositionHandler(registry *position.Registry, locator *locate.Service, fixes FixPublisher, clk clock.Clock) *PositionHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &PositionHandler{
		registry: registry,
		locator:  locator,
		fixes:    fixes,
		clock:    clk,
	}
}

type viewResponse struct {
	Center geo.Position `json:"center"`
	Zoom   int          `json:"zoom"`
}

type locateResponse struct {
	Position geo.Position `json:"position"`
	Mode     locate.Mode  `json:"mode"`
	View     viewResponse `json:"view"`
}

// GetPosition returns the caller's current fix and its source
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	owner, err := callerID(r)
	if err != nil {
		respondWithDomainError(w, "Authentication required", err)
		return
	}

	fix, ok := h.registry.Current(owner)
	if !ok {
		respondWithError(w, http.StatusNotFound, "No current position", nil)
		return
	}

	respondWithJSON(w, http.StatusOK, fix)
}

// Locate runs a one-shot fix request for the caller
func (h *PositionHandler) Locate(w http.ResponseWriter, r *http.Request) {
	owner, err := callerID(r)
	if err != nil {
		respondWithDomainError(w, "Authentication required", err)
		return
	}

	pos, err := h.locator.Locate(r.Context(), owner)
	if err != nil {
		respondWithDomainError(w, "Location unavailable", err)
		return
	}

	respondWithJSON(w, http.StatusOK, h.locateResponse(owner, pos))
}

// StartWatching puts the caller's watcher into continuous mode
func (h *PositionHandler) StartWatching(w http.ResponseWriter, r *http.Request) {
	owner, err := callerID(r)
	if err != nil {
		respondWithDomainError(w, "Authentication required", err)
		return
	}

	if err := h.locator.StartWatching(owner); err != nil {
		respondWithDomainError(w, "Location unavailable", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]locate.Mode{"mode": h.locator.Mode(owner)})
}

// StopWatching returns the caller's watcher to idle
func (h *PositionHandler) StopWatching(w http.ResponseWriter, r *http.Request) {
	owner, err := callerID(r)
	if err != nil {
		respondWithDomainError(w, "Authentication required", err)
		return
	}

	h.locator.StopWatching(owner)
	respondWithJSON(w, http.StatusOK, map[string]locate.Mode{"mode": h.locator.Mode(owner)})
}

// DeviceFix accepts a sensor fix pushed by a device
func (h *PositionHandler) DeviceFix(w http.ResponseWriter, r *http.Request) {
	type deviceFixRequest struct {
		positionRequest
		CapturedAt *time.Time `json:"captured_at"`
	}

	owner, err := ownerParam(r)
	if err != nil {
		respondWithDomainError(w, "Invalid owner", err)
		return
	}

	var req deviceFixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	capturedAt := h.clock.Now()
	if req.CapturedAt != nil {
		capturedAt = *req.CapturedAt
	}
	pos, err := req.positionRequest.toPosition(capturedAt)
	if err != nil || pos == nil {
		respondWithError(w, http.StatusBadRequest, "Invalid position", err)
		return
	}

	if err := h.fixes.PublishFix(owner, *pos); err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "Failed to publish fix", err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, pos)
}

func (h *PositionHandler) locateResponse(owner string, pos geo.Position) locateResponse {
	view := h.locator.View(owner)
	return locateResponse{
		Position: pos,
		Mode:     h.locator.Mode(owner),
		View: viewResponse{
			Center: view.Center(),
			Zoom:   view.Zoom(),
		},
	}
}
