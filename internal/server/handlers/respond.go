// internal/server/handlers/respond.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"latent/internal/domain/geo"
	"latent/internal/domain/transmission"
	"latent/internal/service/engine"
)

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
func respondWithError(w http.ResponseWriter, logger *zap.Logger, code int, message string, err error) {
	response := map[string]string{"error": message}

	if err != nil && code >= 500 && logger != nil {
		logger.Error("HTTP error",
			zap.Int("code", code),
			zap.String("message", message),
			zap.Error(err))
	}

	jsonResponse, _ := json.Marshal(response)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(jsonResponse)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoPosition):
		return http.StatusPreconditionFailed
	case errors.Is(err, transmission.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, transmission.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseLocation reads lat, lng and an optional radius from the query string
func parseLocation(r *http.Request, defaultRadius float64) (geo.Position, float64, error) {
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")

	if latStr == "" || lngStr == "" {
		return geo.Position{}, 0, errors.New("missing location parameters")
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || math.IsNaN(lat) || lat < -90 || lat > 90 {
		return geo.Position{}, 0, errors.New("invalid latitude")
	}

	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil || math.IsNaN(lng) || lng < -180 || lng > 180 {
		return geo.Position{}, 0, errors.New("invalid longitude")
	}

	radius := defaultRadius
	if radiusStr := r.URL.Query().Get("radius"); radiusStr != "" {
		radius, err = strconv.ParseFloat(radiusStr, 64)
		if err != nil || math.IsNaN(radius) || math.IsInf(radius, 0) || radius <= 0 {
			return geo.Position{}, 0, errors.New("invalid radius")
		}
	}

	return geo.Position{
		Latitude:  lat,
		Longitude: lng,
		Timestamp: time.Now().UTC(),
	}, radius, nil
}
