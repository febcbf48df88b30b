// internal/server/handlers/geo.go

package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"latent/internal/domain/geo"
)

// GeoHandler handles anchor and phantom lookups
type GeoHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewGeoHandler creates a new geo handler
func NewGeoHandler(engine Engine, logger *zap.Logger) *GeoHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeoHandler{
		engine: engine,
		logger: logger,
	}
}

// phantomResponse pairs a preview phantom with the anchors it was built from
type phantomResponse struct {
	Phantom geo.PhantomLocation `json:"phantom"`
	Anchors []geo.Anchor        `json:"anchors"`
}

// GetAnchors returns anchors near a location, nearest first
func (h *GeoHandler) GetAnchors(w http.ResponseWriter, r *http.Request) {
	pos, radius, ok := h.location(w, r)
	if !ok {
		return
	}

	anchors, err := h.engine.NearbyAnchors(r.Context(), pos, radius)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadGateway, "Failed to get anchors", err)
		return
	}

	respondWithJSON(w, http.StatusOK, anchors)
}

// GetPhantom previews the phantom location for a location without
// generating text
func (h *GeoHandler) GetPhantom(w http.ResponseWriter, r *http.Request) {
	pos, radius, ok := h.location(w, r)
	if !ok {
		return
	}

	phantom, anchors, err := h.engine.PreviewPhantom(r.Context(), pos, radius)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadGateway, "Failed to synthesize phantom", err)
		return
	}

	respondWithJSON(w, http.StatusOK, phantomResponse{Phantom: phantom, Anchors: anchors})
}

func (h *GeoHandler) location(w http.ResponseWriter, r *http.Request) (geo.Position, float64, bool) {
	defaultRadius := 1000.0
	if settings, err := h.engine.Settings(r.Context()); err == nil {
		defaultRadius = settings.RadarRangeMeters
	}

	pos, radius, err := parseLocation(r, defaultRadius)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err.Error(), nil)
		return geo.Position{}, 0, false
	}
	return pos, radius, true
}
