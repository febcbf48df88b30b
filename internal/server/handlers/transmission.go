// internal/server/handlers/transmission.go

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"latent/internal/domain/geo"
	"latent/internal/domain/transmission"
	"latent/internal/service/engine"
)

const (
	defaultTransmissionLimit = 20
	maxTransmissionLimit     = 500
)

// Engine is the part of the engine the HTTP layer drives
type Engine interface {
	ObservePosition(ctx context.Context, pos geo.Position) (*transmission.Transmission, error)
	Generate(ctx context.Context, style *transmission.Style) (*transmission.Transmission, error)
	Transmission(ctx context.Context, id string) (*transmission.Transmission, error)
	RecentTransmissions(ctx context.Context, limit int) ([]transmission.Transmission, error)
	ClearTransmissions(ctx context.Context) error
	Settings(ctx context.Context) (transmission.Settings, error)
	UpdateSettings(ctx context.Context, s transmission.Settings) error
	NearbyAnchors(ctx context.Context, pos geo.Position, radiusMeters float64) ([]geo.Anchor, error)
	PreviewPhantom(ctx context.Context, pos geo.Position, radiusMeters float64) (geo.PhantomLocation, []geo.Anchor, error)
	State() engine.State
}

// TransmissionHandler handles position, transmission and settings requests
type TransmissionHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewTransmissionHandler creates a new transmission handler
func NewTransmissionHandler(engine Engine, logger *zap.Logger) *TransmissionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransmissionHandler{
		engine: engine,
		logger: logger,
	}
}

// observeResponse wraps the outcome of a position update
type observeResponse struct {
	Transmission *transmission.Transmission `json:"transmission"`
}

// ObservePosition records a position and returns any transmission it triggered
func (h *TransmissionHandler) ObservePosition(w http.ResponseWriter, r *http.Request) {
	var pos geo.Position
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if pos.Latitude < -90 || pos.Latitude > 90 || pos.Longitude < -180 || pos.Longitude > 180 {
		respondWithError(w, h.logger, http.StatusBadRequest, "Coordinates out of range", nil)
		return
	}

	t, err := h.engine.ObservePosition(r.Context(), pos)
	if err != nil {
		respondWithError(w, h.logger, statusFor(err), "Failed to process position", err)
		return
	}

	respondWithJSON(w, http.StatusOK, observeResponse{Transmission: t})
}

// ListTransmissions returns recent transmissions, newest first
func (h *TransmissionHandler) ListTransmissions(w http.ResponseWriter, r *http.Request) {
	limit := defaultTransmissionLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			respondWithError(w, h.logger, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = min(parsed, maxTransmissionLimit)
	}

	transmissions, err := h.engine.RecentTransmissions(r.Context(), limit)
	if err != nil {
		respondWithError(w, h.logger, http.StatusInternalServerError, "Failed to list transmissions", err)
		return
	}

	respondWithJSON(w, http.StatusOK, transmissions)
}

// GetTransmission returns a single transmission
func (h *TransmissionHandler) GetTransmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := h.engine.Transmission(r.Context(), id)
	if err != nil {
		respondWithError(w, h.logger, statusFor(err), "Failed to get transmission", err)
		return
	}

	respondWithJSON(w, http.StatusOK, t)
}

// generateRequest optionally pins the style of a manual generation
type generateRequest struct {
	Style string `json:"style"`
}

// CreateTransmission runs a manual generation cycle
func (h *TransmissionHandler) CreateTransmission(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	var style *transmission.Style
	if req.Style != "" {
		parsed, err := transmission.ParseStyle(req.Style)
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err.Error(), nil)
			return
		}
		style = &parsed
	}

	t, err := h.engine.Generate(r.Context(), style)
	if err != nil {
		respondWithError(w, h.logger, statusFor(err), err.Error(), err)
		return
	}

	respondWithJSON(w, http.StatusCreated, t)
}

// ClearTransmissions deletes the transmission log
func (h *TransmissionHandler) ClearTransmissions(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearTransmissions(r.Context()); err != nil {
		respondWithError(w, h.logger, http.StatusInternalServerError, "Failed to clear transmissions", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetSettings returns the current settings
func (h *TransmissionHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.engine.Settings(r.Context())
	if err != nil {
		respondWithError(w, h.logger, http.StatusInternalServerError, "Failed to get settings", err)
		return
	}

	respondWithJSON(w, http.StatusOK, settings)
}

// UpdateSettings replaces the settings
func (h *TransmissionHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings transmission.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := settings.Validate(); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := h.engine.UpdateSettings(r.Context(), settings); err != nil {
		respondWithError(w, h.logger, http.StatusInternalServerError, "Failed to save settings", err)
		return
	}

	respondWithJSON(w, http.StatusOK, settings)
}

// GetState returns the engine snapshot
func (h *TransmissionHandler) GetState(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.engine.State())
}
