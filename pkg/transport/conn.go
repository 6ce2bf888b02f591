package transport

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned when sending on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// Conn wraps one terminal's WebSocket connection. Sends are serialized
// with a mutex because gorilla/websocket allows only one concurrent writer.
type Conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex
	closed  atomic.Bool

	// serial is set once the terminal registers; it rides on the
	// connection for the socket's lifetime.
	serial atomic.Value
}

func newConn(id string, ws *websocket.Conn) *Conn {
	c := &Conn{id: id, ws: ws}
	c.serial.Store("")
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address, for logging.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// SetSerial binds the terminal's serial number to this connection.
func (c *Conn) SetSerial(serial string) {
	c.serial.Store(serial)
}

// Serial returns the bound serial number, empty before registration.
func (c *Conn) Serial() string {
	s, _ := c.serial.Load().(string)
	return s
}

// Send writes one frame as a text message. Safe for concurrent use.
func (c *Conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.ws.Close()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}
