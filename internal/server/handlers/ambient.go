// internal/server/handlers/ambient.go

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"latent/internal/ambient"
)

const (
	defaultStaticSeconds = 10
	maxStaticSeconds     = 30
)

// StaticHandler serves the ambient static bed as WAV
func StaticHandler(cfg ambient.Config, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seconds := defaultStaticSeconds
		if secondsStr := r.URL.Query().Get("seconds"); secondsStr != "" {
			parsed, err := strconv.Atoi(secondsStr)
			if err != nil || parsed < 1 || parsed > maxStaticSeconds {
				respondWithError(w, logger, http.StatusBadRequest, "seconds must be between 1 and 30", nil)
				return
			}
			seconds = parsed
		}

		seed := time.Now().UnixNano()
		if seedStr := r.URL.Query().Get("seed"); seedStr != "" {
			parsed, err := strconv.ParseInt(seedStr, 10, 64)
			if err != nil {
				respondWithError(w, logger, http.StatusBadRequest, "Invalid seed", err)
				return
			}
			seed = parsed
		}

		var buf ambient.Buffer
		if err := ambient.RenderWAV(&buf, time.Duration(seconds)*time.Second, seed, cfg); err != nil {
			respondWithError(w, logger, http.StatusInternalServerError, "Failed to render static", err)
			return
		}

		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Content-Length", strconv.Itoa(len(buf.Bytes())))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}
