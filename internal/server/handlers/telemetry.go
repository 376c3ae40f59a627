// internal/server/handlers/telemetry.go

package handlers

import (
	"encoding/json"
	"net/http"

	"safeloc/internal/domain/telemetry"
	telemetrysvc "safeloc/internal/service/telemetry"
)

// TelemetryHandler handles binary telemetry requests
type TelemetryHandler struct {
	ingest *telemetrysvc.Ingest
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(ingest *telemetrysvc.Ingest) *TelemetryHandler {
	return &TelemetryHandler{
		ingest: ingest,
	}
}

// Decode decodes a payload without touching any owner's position
func (h *TelemetryHandler) Decode(w http.ResponseWriter, r *http.Request) {
	var req telemetry.Uplink
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	fix, err := telemetrysvc.DecodeUplink(req)
	if err != nil {
		respondWithDomainError(w, "Malformed telemetry payload", err)
		return
	}

	respondWithJSON(w, http.StatusOK, fix)
}

// Uplink is the store-and-forward network callback for one owner's device
func (h *TelemetryHandler) Uplink(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		respondWithDomainError(w, "Invalid owner", err)
		return
	}

	var req telemetry.Uplink
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	fix, accepted, err := h.ingest.Accept(owner, req)
	if err != nil {
		respondWithDomainError(w, "Malformed telemetry payload", err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"fix":      fix,
		"accepted": accepted,
	})
}
