package serve

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, assets map[string]string) (*Server, *httptest.Server) {
	t.Helper()
	s := New(":0", func(path string) ([]byte, bool) {
		content, ok := assets[path]
		return []byte(content), ok
	})
	ts := httptest.NewServer(s.Handler(context.Background()))
	t.Cleanup(ts.Close)
	return s, ts
}

func TestServeAssets(t *testing.T) {
	_, ts := newTestServer(t, map[string]string{
		"web/main.txt":   "hello",
		"web/index.html": "<html></html>",
	})

	resp, err := http.Get(ts.URL + "/web/main.txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	// Directory requests fall back to index.html.
	resp2, err := http.Get(ts.URL + "/web/")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	// Unknown assets 404.
	resp3, err := http.Get(ts.URL + "/missing.txt")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestLiveReloadBroadcast(t *testing.T) {
	s, ts := newTestServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + LiveReloadPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered asynchronously with the upgrade; wait
	// until the client is seen before broadcasting once.
	event := BuildEvent{Succeeded: true, Actions: 3, Outputs: 2}
	require.Eventually(t, func() bool {
		s.mu.Lock()
		n := len(s.conns)
		s.mu.Unlock()
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Broadcast(context.Background(), event)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var received BuildEvent
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, event, received)
}
