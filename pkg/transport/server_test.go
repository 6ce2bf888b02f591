package transport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termlink-protocol/termlink-go/pkg/transport"
)

// startServer runs a server on an ephemeral port and returns it plus its
// ws:// URL.
func startServer(t *testing.T, config transport.Config) (*transport.Server, string) {
	t.Helper()

	config.Addr = "127.0.0.1:0"
	srv, err := transport.NewServer(config)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })

	return srv, "ws://" + srv.Addr() + transport.DefaultPath
}

func TestServer_DeliversFramesInOrder(t *testing.T) {
	var mu sync.Mutex
	var frames []string

	_, url := startServer(t, transport.Config{
		OnMessage: func(_ *transport.Conn, data []byte) {
			mu.Lock()
			frames = append(frames, string(data))
			mu.Unlock()
		},
	})

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	for _, msg := range []string{`{"cmd":"reg"}`, `{"cmd":"sendlog"}`, `{"cmd":"senduser"}`} {
		require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(msg)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"cmd":"reg"}`, `{"cmd":"sendlog"}`, `{"cmd":"senduser"}`}, frames)
}

func TestServer_SendReachesClient(t *testing.T) {
	connCh := make(chan *transport.Conn, 1)
	_, url := startServer(t, transport.Config{
		OnConnect: func(c *transport.Conn) { connCh <- c },
	})

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	conn := <-connCh
	require.NoError(t, conn.Send([]byte(`{"cmd":"gettime"}`)))

	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"cmd":"gettime"}`, string(data))
}

func TestServer_DisconnectCallbackFires(t *testing.T) {
	disconnected := make(chan string, 1)
	srv, url := startServer(t, transport.Config{
		OnConnect: func(c *transport.Conn) { c.SetSerial("ZX1") },
		OnDisconnect: func(c *transport.Conn) {
			disconnected <- c.Serial()
		},
	})

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	client.Close()

	select {
	case serial := <-disconnected:
		assert.Equal(t, "ZX1", serial)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never fired")
	}

	require.Eventually(t, func() bool { return srv.ConnCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestConn_SendAfterClose(t *testing.T) {
	connCh := make(chan *transport.Conn, 1)
	_, url := startServer(t, transport.Config{
		OnConnect: func(c *transport.Conn) { connCh <- c },
	})

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	conn := <-connCh
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send([]byte(`{}`)), transport.ErrConnClosed)
}

func TestNewServer_RequiresAddr(t *testing.T) {
	_, err := transport.NewServer(transport.Config{})
	assert.Error(t, err)
}
