// ABOUTME: Tests for the coordinator websocket endpoint.
// ABOUTME: Exercises heartbeat acks, dedupe, dispatch, and the health check.

package coordinator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/wire"
)

// testServer wires the coordinator handlers onto an httptest listener
// without going through Run.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New("unused", nil)
	t.Cleanup(s.window.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/relay", s.handleRelay)
	mux.HandleFunc("/health", s.handleHealth)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func dialRelay(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/relay"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg wire.Message) {
	t.Helper()
	data, err := wire.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestHeartbeatGetsAck(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialRelay(t, ts)

	writeMessage(t, conn, wire.New(wire.TypeHeartbeat, nil))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	msg, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeHeartbeatAck, msg.Type)
}

func TestRepeatedHeartbeatsAllAcked(t *testing.T) {
	// Heartbeats are identical frames; they must bypass dedupe entirely.
	_, ts := newTestServer(t)
	conn := dialRelay(t, ts)

	for i := 0; i < 3; i++ {
		writeMessage(t, conn, wire.New(wire.TypeHeartbeat, nil))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		msg, err := wire.Decode(data)
		require.NoError(t, err)
		require.Equal(t, wire.TypeHeartbeatAck, msg.Type)
	}
}

func TestDispatchToRegisteredHandlers(t *testing.T) {
	s, ts := newTestServer(t)

	var debugCount, zipCount atomic.Int32
	s.Handle(wire.TypeDebug, func(clientID string, msg wire.Message) {
		assert.NotEmpty(t, clientID)
		assert.Equal(t, "hello", msg.Data)
		debugCount.Add(1)
	})
	s.Handle(wire.TypeZipData, func(string, wire.Message) { zipCount.Add(1) })

	conn := dialRelay(t, ts)
	writeMessage(t, conn, wire.New(wire.TypeDebug, "hello"))

	require.Eventually(t, func() bool { return debugCount.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), zipCount.Load())
}

func TestRedeliveredFrameDroppedOnce(t *testing.T) {
	s, ts := newTestServer(t)

	var count atomic.Int32
	s.Handle(wire.TypeSetCommitMessage, func(string, wire.Message) { count.Add(1) })

	conn := dialRelay(t, ts)

	msg := wire.New(wire.TypeSetCommitMessage, "identical payload")
	writeMessage(t, conn, msg)
	writeMessage(t, conn, msg)
	writeMessage(t, conn, msg)

	// Force the read loop past the duplicates before checking.
	writeMessage(t, conn, wire.New(wire.TypeHeartbeat, nil))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	assert.Equal(t, int32(1), count.Load())
}

func TestDedupeIsPerClient(t *testing.T) {
	s, ts := newTestServer(t)

	var count atomic.Int32
	s.Handle(wire.TypeDebug, func(string, wire.Message) { count.Add(1) })

	conn1 := dialRelay(t, ts)
	conn2 := dialRelay(t, ts)

	msg := wire.New(wire.TypeDebug, "same frame")
	writeMessage(t, conn1, msg)
	writeMessage(t, conn2, msg)

	require.Eventually(t, func() bool { return count.Load() == 2 }, 2*time.Second, 5*time.Millisecond,
		"identical frames from distinct clients are not duplicates")
}

func TestMalformedAndUnknownFramesSkipped(t *testing.T) {
	s, ts := newTestServer(t)

	var count atomic.Int32
	s.Handle(wire.TypeDebug, func(string, wire.Message) { count.Add(1) })

	conn := dialRelay(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"NO_SUCH_TYPE"}`)))
	writeMessage(t, conn, wire.New(wire.TypeDebug, "still alive"))

	require.Eventually(t, func() bool { return count.Load() == 1 }, 2*time.Second, 5*time.Millisecond,
		"read loop should survive bad frames")
}

func TestHandlerPanicIsolated(t *testing.T) {
	s, ts := newTestServer(t)

	var after atomic.Int32
	s.Handle(wire.TypeDebug, func(string, wire.Message) { panic("handler bug") })
	s.Handle(wire.TypeUploadStatus, func(string, wire.Message) { after.Add(1) })

	conn := dialRelay(t, ts)
	writeMessage(t, conn, wire.New(wire.TypeDebug, "boom"))
	writeMessage(t, conn, wire.New(wire.TypeUploadStatus, "ok"))

	require.Eventually(t, func() bool { return after.Load() == 1 }, 2*time.Second, 5*time.Millisecond,
		"a panicking handler must not kill the read loop")
}

func TestSendToClient(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialRelay(t, ts)

	// Wait for registration, then grab the server-side client ID.
	var clientID string
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for id := range s.clients {
			clientID = id
		}
		return len(s.clients) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Send(clientID, wire.New(wire.TypeOpenSettings, nil)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	msg, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeOpenSettings, msg.Type)

	assert.Error(t, s.Send("no-such-client", wire.New(wire.TypeDebug, nil)))
}

func TestHealthReportsClientCount(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0, body.Clients)

	dialRelay(t, ts)
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.clients) == 1
	}, 2*time.Second, 5*time.Millisecond)

	resp2, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	assert.Equal(t, 1, body.Clients)
}
