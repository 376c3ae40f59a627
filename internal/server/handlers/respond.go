// internal/server/handlers/respond.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"safeloc/internal/domain/event"
	"safeloc/internal/domain/geo"
	"safeloc/internal/domain/share"
	"safeloc/internal/domain/telemetry"
	"safeloc/internal/service/locate"
)

// UserHeader carries the authenticated caller's id, set by the gateway
const UserHeader = "X-User-ID"

// ErrMissingUser is returned when a request has no caller id
var ErrMissingUser = errors.New("missing " + UserHeader + " header")

// callerID returns the authenticated owner of a request
func callerID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		return "", ErrMissingUser
	}
	if err := geo.ValidateOwnerID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ownerParam returns the validated {ownerID} route parameter
func ownerParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "ownerID")
	if err := geo.ValidateOwnerID(id); err != nil {
		return "", err
	}
	return id, nil
}

// positionRequest is the wire shape of a position in request bodies
type positionRequest struct {
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
}

// toPosition returns nil when no coordinates were sent
func (p *positionRequest) toPosition(capturedAt time.Time) (*geo.Position, error) {
	if p == nil || (p.Latitude == nil && p.Longitude == nil) {
		return nil, nil
	}
	if p.Latitude == nil || p.Longitude == nil {
		return nil, errors.New("position needs both latitude and longitude")
	}
	pos := geo.Position{
		Latitude:       *p.Latitude,
		Longitude:      *p.Longitude,
		AccuracyMeters: p.AccuracyMeters,
		CapturedAt:     capturedAt.UTC(),
	}
	if err := pos.Validate(); err != nil {
		return nil, err
	}
	return &pos, nil
}

// queryFloat parses an optional float query parameter
func queryFloat(r *http.Request, name string) (float64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// queryLimit parses the limit parameter, falling back to def
func queryLimit(r *http.Request, def, max int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// errorStatus maps domain errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrMissingUser):
		return http.StatusUnauthorized
	case errors.Is(err, telemetry.ErrMalformedPayload), errors.Is(err, geo.ErrInvalidOwner):
		return http.StatusBadRequest
	case errors.Is(err, event.ErrWriteRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, share.ErrAlreadySharing),
		errors.Is(err, share.ErrNoActiveOwnerPosition),
		errors.Is(err, geo.ErrLocationUnavailable),
		errors.Is(err, locate.ErrSuperseded),
		errors.Is(err, event.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, share.ErrLinkExpired):
		return http.StatusGone
	case errors.Is(err, share.ErrLinkNotFound), errors.Is(err, event.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, event.ErrStoreUnavailable), errors.Is(err, locate.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondWithDomainError writes err with the status errorStatus picks
func respondWithDomainError(w http.ResponseWriter, message string, err error) {
	respondWithError(w, errorStatus(err), message, err)
}

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	response := map[string]string{"error": message}

	if err != nil {
		if code >= 500 {
			slog.Error("HTTP error", "code", code, "message", message, "error", err)
		} else {
			response["detail"] = err.Error()
		}
	}

	jsonResponse, _ := json.Marshal(response)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(jsonResponse)
}
