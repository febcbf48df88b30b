package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latent/internal/adapter/events"
)

func TestTransmissionWebSocketStreamsEvents(t *testing.T) {
	bus := events.NewLocalBus()
	srv := httptest.NewServer(TransmissionWebSocketHandler(bus, "transmission.created", nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, welcome, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(welcome), `"welcome"`)

	require.NoError(t, bus.Publish("transmission.created", []byte(`{"id":"t-1"}`)))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t-1"}`, string(msg))
}
