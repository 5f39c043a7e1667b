package http

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateWebSocket(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/estimate"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(validRequest()))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EstimateMessage, msg.Type)
	require.NotNil(t, msg.Data)
	assert.Greater(t, msg.Data.Value, 0.0)
	assert.True(t, strings.HasSuffix(msg.RequestID, "-1"))

	bad := validRequest()
	bad["engine"] = -1
	require.NoError(t, conn.WriteJSON(bad))
	msg = wsMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ErrorMessage, msg.Type)
	assert.Equal(t, "invalid_input", msg.Error)
	assert.True(t, strings.HasSuffix(msg.RequestID, "-2"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{}")))
	msg = wsMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "schema_mismatch", msg.Error)

	require.NoError(t, conn.WriteJSON(validRequest()))
	msg = wsMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	require.NotNil(t, msg.Data)
	assert.True(t, msg.Data.Cached)
}

func TestEstimateWebSocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t)
	env.server.upgrader.CheckOrigin = originChecker([]string{"https://knowyourcar.example"})
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/estimate"
	header := map[string][]string{"Origin": {"https://elsewhere.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 403, resp.StatusCode)
	}
}
