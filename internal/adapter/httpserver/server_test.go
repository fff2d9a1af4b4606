package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoSocket() http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(mt, msg)
	})
}

func TestServer_WebSocketRoute(t *testing.T) {
	srv := NewServer(Options{
		WebSocket:              echoSocket(),
		HandshakeRatePerSecond: 0.01,
		HandshakeBurst:         1,
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ping"}`, string(msg))

	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServer_MetricsRoute(t *testing.T) {
	srv := NewServer(Options{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("eventrelay_up 1\n"))
	})})

	rec := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "eventrelay_up 1\n", rec.Body.String())
}

func TestServer_OptionalRoutesAbsent(t *testing.T) {
	srv := NewServer(Options{})

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/ws").Code)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/metrics").Code)
}
