// internal/server/handlers/share.go

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"safeloc/internal/clock"
	"safeloc/internal/domain/event"
	"safeloc/internal/domain/share"
	"safeloc/internal/service/viewer"
)

// ShareHandler handles share session requests
type ShareHandler struct {
	manager   share.Manager
	positions share.PositionSource
	viewer    *viewer.Client
	clock     clock.Clock
}

// NewShareHandler creates a new share handler
func NewShareHandler(
	manager share.Manager,
	positions share.PositionSource,
	viewer *viewer.Client,
	clk clock.Clock,
) *ShareHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &ShareHandler{
		manager:   manager,
		positions: positions,
		viewer:    viewer,
		clock:     clk,
	}
}

type shareResponse struct {
	Session share.Session `json:"session"`
	Link    string        `json:"link"`
}

// StartSharing starts a live share for the caller
func (h *ShareHandler) StartSharing(w http.ResponseWriter, r *http.Request) {
	type startShareRequest struct {
		Position *positionRequest `json:"position"`
	}

	owner, err := callerID(r)
	if err != nil {
		respondWithDomainError(w, "Authentication required", err)
		return
	}

	var req startShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	pos, err := req.Position.toPosition(h.clock.Now())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid position", err)
		return
	}
	if pos == nil {
		if current, ok := h.positions.CurrentPosition(owner); ok {
			pos = &current
		}
	}

	sess, err := h.manager.StartSharing(r.Context(), owner, pos)
	if err != nil {
		respondWithDomainError(w, "Failed to start sharing", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, shareResponse{
		Session: *sess,
		Link:    h.manager.ShareLink(sess.ID),
	})
}

// ActiveShare returns the caller's active share
func (h *ShareHandler) ActiveShare(w http.ResponseWriter, r *http.Request) {
	owner, err := callerID(r)
	if err != nil {
		respondWithDomainError(w, "Authentication required", err)
		return
	}

	sess, ok := h.manager.ActiveSession(owner)
	if !ok {
		respondWithError(w, http.StatusNotFound, "No active share session", nil)
		return
	}

	respondWithJSON(w, http.StatusOK, shareResponse{
		Session: *sess,
		Link:    h.manager.ShareLink(sess.ID),
	})
}

// StopSharing revokes one of the caller's shares
func (h *ShareHandler) StopSharing(w http.ResponseWriter, r *http.Request) {
	owner, err := callerID(r)
	if err != nil {
		respondWithDomainError(w, "Authentication required", err)
		return
	}

	sessionID := chi.URLParam(r, "id")
	sess, err := h.manager.GetSession(r.Context(), sessionID)
	if err != nil {
		respondWithDomainError(w, "Share session not found", err)
		return
	}
	if sess.OwnerID != owner {
		respondWithError(w, http.StatusForbidden, "Share session belongs to another user", nil)
		return
	}

	stopped, err := h.manager.StopSharing(r.Context(), sessionID)
	if err != nil {
		respondWithDomainError(w, "Failed to stop sharing", err)
		return
	}

	respondWithJSON(w, http.StatusOK, shareResponse{
		Session: *stopped,
		Link:    h.manager.ShareLink(stopped.ID),
	})
}

// RefreshShare pushes a position into one of the caller's shares without
// waiting for the next refresh tick
func (h *ShareHandler) RefreshShare(w http.ResponseWriter, r *http.Request) {
	owner, err := callerID(r)
	if err != nil {
		respondWithDomainError(w, "Authentication required", err)
		return
	}

	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	pos, err := req.toPosition(h.clock.Now())
	if err != nil || pos == nil {
		respondWithError(w, http.StatusBadRequest, "Invalid position", err)
		return
	}

	sessionID := chi.URLParam(r, "id")
	current, ok := h.manager.ActiveSession(owner)
	if !ok || current.ID != sessionID {
		respondWithDomainError(w, "No active share session", event.ErrNotFound)
		return
	}

	sess, err := h.manager.RefreshPosition(r.Context(), sessionID, *pos)
	if err != nil {
		respondWithDomainError(w, "Failed to refresh share", err)
		return
	}

	respondWithJSON(w, http.StatusOK, shareResponse{
		Session: *sess,
		Link:    h.manager.ShareLink(sess.ID),
	})
}

// ViewShare returns what an anonymous viewer of a link sees right now
func (h *ShareHandler) ViewShare(w http.ResponseWriter, r *http.Request) {
	watch, err := h.viewer.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithDomainError(w, "Share link unavailable", err)
		return
	}
	defer watch.Close()

	respondWithJSON(w, http.StatusOK, watch.Current())
}
