// Command termlink-server is the fleet sync server for biometric access
// terminals.
//
// Terminals dial in over a persistent WebSocket, register with their
// serial number, and from then on the server reconciles each terminal
// toward the state recorded in the store: credentials, display names,
// deletions, enable flags, device settings and the clock. Access events
// uploaded by terminals are paired into entry/exit rows.
//
// Usage:
//
//	termlink-server [flags]
//
// Flags:
//
//	-config string   Configuration file path (YAML)
//	-listen string   Terminal WebSocket listen address (overrides config)
//	-http string     Admin HTTP API listen address (overrides config)
//	-db string       SQLite database path; empty runs in memory
//	-log-level string  Log level: debug, info, warn, error
//
// Environment variables (TERMLINK_*) override the config file; see
// internal/config.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/termlink-protocol/termlink-go/internal/config"
	"github.com/termlink-protocol/termlink-go/internal/httpapi"
	"github.com/termlink-protocol/termlink-go/pkg/engine"
	"github.com/termlink-protocol/termlink-go/pkg/protolog"
	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/store/memory"
	"github.com/termlink-protocol/termlink-go/pkg/store/sqlite"
	"github.com/termlink-protocol/termlink-go/pkg/transport"
)

func main() {
	var (
		configFile string
		listenAddr string
		httpAddr   string
		dbPath     string
		logLevel   string
	)
	flag.StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&listenAddr, "listen", "", "Terminal WebSocket listen address")
	flag.StringVar(&httpAddr, "http", "", "Admin HTTP API listen address")
	flag.StringVar(&dbPath, "db", "", "SQLite database path; empty runs in memory")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := newLogger(cfg.LogLevel)

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	eng := engine.New(st, engine.Config{
		CompanyID:      cfg.CompanyID,
		LogCloseAfter:  cfg.LogCloseAfter.Std(),
		TrackerTimeout: cfg.TrackerTimeout.Std(),
		MinFirmware:    cfg.MinFirmware,
	}, logger.With("component", "engine"))
	if cfg.ProtocolLog {
		eng.SetProtocolLogger(protolog.NewSlogAdapter(logger.With("component", "protocol")))
	}

	server, err := transport.NewServer(transport.Config{
		Addr:   cfg.ListenAddr,
		Path:   cfg.WSPath,
		Logger: logger.With("component", "transport"),
		OnConnect: func(conn *transport.Conn) {
			eng.OnConnect(conn)
		},
		OnMessage: func(conn *transport.Conn, data []byte) {
			eng.OnMessage(conn, data)
		},
		OnDisconnect: func(conn *transport.Conn) {
			eng.OnDisconnect(conn)
		},
		OnError: func(conn *transport.Conn, err error) {
			logger.Warn("transport read error", "conn", conn.ID(), "error", err)
		},
	})
	if err != nil {
		logger.Error("create terminal server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Error("start terminal server", "error", err)
		os.Exit(1)
	}
	logger.Info("terminal listener up", "addr", cfg.ListenAddr, "path", cfg.WSPath)

	eng.Start(ctx)

	api := httpapi.NewServer(eng, logger.With("component", "httpapi"))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("admin API up", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin API", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	eng.Stop()
	server.Stop()
	logger.Info("goodbye")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openStore(cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabasePath == "" {
		logger.Warn("no database path configured, state is held in memory")
		return memory.New(), func() {}, nil
	}

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("sqlite store open", "path", cfg.DatabasePath)
	return db, func() { _ = db.Close() }, nil
}
