package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Defaults.
const (
	DefaultPath           = "/ws"
	DefaultMaxMessageSize = 256 * 1024
)

// Config configures a terminal-facing WebSocket server.
type Config struct {
	// Addr to listen on (e.g. ":7788").
	Addr string

	// Path is the WebSocket endpoint path (default "/ws").
	Path string

	// MaxMessageSize caps inbound frame size in bytes.
	MaxMessageSize int64

	// Logger for transport-level events (optional).
	Logger *slog.Logger

	// OnConnect is called when a terminal connects.
	OnConnect func(conn *Conn)

	// OnMessage is called for each received frame.
	OnMessage func(conn *Conn, data []byte)

	// OnDisconnect is called when a connection closes, after the read
	// loop exits.
	OnDisconnect func(conn *Conn)

	// OnError is called for read errors other than a normal close.
	OnError func(conn *Conn, err error)
}

// Server accepts persistent connections from terminals. Each connection
// gets a dedicated read goroutine; frames are delivered to OnMessage in
// arrival order per connection.
type Server struct {
	config   Config
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	conns   map[*Conn]struct{}
	connsMu sync.Mutex

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewServer creates a server; Start begins listening.
func NewServer(config Config) (*Server, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("transport: Addr is required")
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Terminals are not browsers; no origin policy applies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*Conn]struct{}),
	}, nil
}

// Start begins accepting connections. It returns once the listener is
// bound; serving continues in the background until Stop or ctx cancel.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return fmt.Errorf("transport: server already running")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleUpgrade)

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("transport: listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.config.Logger.Error("transport serve failed", "error", err)
		}
	}()

	context.AfterFunc(ctx, func() { _ = s.Stop() })

	s.config.Logger.Info("terminal transport listening",
		"addr", listener.Addr().String(), "path", s.config.Path)
	return nil
}

// Addr returns the bound listen address, useful when Addr was ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and every live connection, then waits for the
// read loops to drain.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)

	s.connsMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return err
}

// ConnCount returns the number of live connections.
func (s *Server) ConnCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.config.Logger.Warn("websocket upgrade failed",
			"remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(uuid.NewString(), ws)
	ws.SetReadLimit(s.config.MaxMessageSize)

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	s.config.Logger.Debug("terminal connected",
		"conn_id", conn.ID(), "remote", conn.RemoteAddr())
	if s.config.OnConnect != nil {
		s.config.OnConnect(conn)
	}

	s.wg.Add(1)
	go s.readLoop(conn)
}

func (s *Server) readLoop(conn *Conn) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()

		s.config.Logger.Debug("terminal disconnected",
			"conn_id", conn.ID(), "serial", conn.Serial())
		if s.config.OnDisconnect != nil {
			s.config.OnDisconnect(conn)
		}
	}()

	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if !conn.IsClosed() &&
				!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if s.config.OnError != nil {
					s.config.OnError(conn, err)
				}
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if s.config.OnMessage != nil {
			s.config.OnMessage(conn, data)
		}
	}
}
