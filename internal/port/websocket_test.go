// ABOUTME: Tests for the websocket-backed Port against a live test server.

package port

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/wire"
)

// echoServer accepts one websocket connection and echoes frames back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestWebSocketRoundTrip(t *testing.T) {
	ts := echoServer(t)
	f := NewWebSocketFactory(wsURL(ts), nil)

	p, err := f.Dial(context.Background())
	require.NoError(t, err)
	defer p.Close()

	assert.NotEmpty(t, p.Name())

	require.NoError(t, p.Send(wire.New(wire.TypeDebug, "ping")))

	select {
	case msg := <-p.Inbound():
		assert.Equal(t, wire.TypeDebug, msg.Type)
		assert.Equal(t, "ping", msg.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("echoed message never arrived")
	}
}

func TestDialFailure(t *testing.T) {
	f := NewWebSocketFactory("ws://127.0.0.1:1/relay", nil)

	_, err := f.Dial(context.Background())
	require.Error(t, err)
}

func TestDialHonorsContext(t *testing.T) {
	ts := echoServer(t)
	f := NewWebSocketFactory(wsURL(ts), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Dial(ctx)
	require.Error(t, err)
}

func TestCloseFiresNotifyAndFailsSends(t *testing.T) {
	ts := echoServer(t)
	f := NewWebSocketFactory(wsURL(ts), nil)

	p, err := f.Dial(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())

	select {
	case <-p.CloseNotify():
	case <-time.After(2 * time.Second):
		t.Fatal("close notification never fired")
	}

	assert.ErrorIs(t, p.Send(wire.New(wire.TypeDebug, "late")), ErrClosed)
}

func TestServerSideCloseDetected(t *testing.T) {
	ts := echoServer(t)
	f := NewWebSocketFactory(wsURL(ts), nil)

	p, err := f.Dial(context.Background())
	require.NoError(t, err)
	defer p.Close()

	// Tearing the server down kills the socket under the port.
	ts.CloseClientConnections()

	select {
	case <-p.CloseNotify():
	case <-time.After(2 * time.Second):
		t.Fatal("server-side close never observed")
	}
}

func TestDistinctPortIdentities(t *testing.T) {
	ts := echoServer(t)
	f := NewWebSocketFactory(wsURL(ts), nil)

	p1, err := f.Dial(context.Background())
	require.NoError(t, err)
	defer p1.Close()

	p2, err := f.Dial(context.Background())
	require.NoError(t, err)
	defer p2.Close()

	assert.NotEqual(t, p1.Name(), p2.Name())
}
