package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gopxl/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latent/internal/ambient"
)

func TestStaticHandler(t *testing.T) {
	cfg := ambient.DefaultConfig()
	cfg.SampleRate = beep.SampleRate(8000)
	h := StaticHandler(cfg, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static.wav?seconds=1&seed=3", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, "RIFF", rec.Body.String()[:4])
	assert.Equal(t, 44+8000*4, rec.Body.Len())
}

func TestStaticHandlerBounds(t *testing.T) {
	h := StaticHandler(ambient.DefaultConfig(), nil)

	for _, target := range []string{"/static.wav?seconds=0", "/static.wav?seconds=31", "/static.wav?seconds=x", "/static.wav?seed=x"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}
