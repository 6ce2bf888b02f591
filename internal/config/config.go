// Package config loads the server configuration: defaults, overridden by
// an optional YAML file, overridden by environment variables. A .env file
// in the working directory is honored for development setups.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written the way
// operators expect: "6h", "90m", or a bare number of seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds int64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(time.Duration(seconds) * time.Second)
	return nil
}

// Config is the full server configuration.
type Config struct {
	// ListenAddr is the terminal-facing WebSocket listener.
	ListenAddr string `yaml:"listen_addr"`

	// WSPath is the WebSocket endpoint path.
	WSPath string `yaml:"ws_path"`

	// HTTPAddr is the admin HTTP API listener.
	HTTPAddr string `yaml:"http_addr"`

	// DatabasePath selects the SQLite file; empty runs on the in-memory
	// store (state is lost on restart).
	DatabasePath string `yaml:"database_path"`

	// CompanyID is the default company for devices that register without
	// a known owner.
	CompanyID int64 `yaml:"company_id"`

	// LogCloseAfter is the open-entry age the access-log sweep closes at.
	LogCloseAfter Duration `yaml:"log_close_after"`

	// TrackerTimeout abandons a stalled bulk push after this long.
	TrackerTimeout Duration `yaml:"tracker_timeout"`

	// MinFirmware, when set, makes the server warn about terminals
	// registering with older firmware.
	MinFirmware string `yaml:"min_firmware"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// ProtocolLog enables per-frame protocol logging at debug level.
	ProtocolLog bool `yaml:"protocol_log"`
}

// Load builds the configuration. file may be empty; a missing named file
// is an error, since the operator asked for it.
func Load(file string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:     ":7788",
		WSPath:         "/ws",
		HTTPAddr:       ":8080",
		CompanyID:      1,
		LogCloseAfter:  Duration(12 * time.Hour),
		TrackerTimeout: Duration(2 * time.Minute),
		LogLevel:       "info",
	}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", file, err)
		}
	}

	cfg.ListenAddr = getenv("TERMLINK_LISTEN_ADDR", cfg.ListenAddr)
	cfg.WSPath = getenv("TERMLINK_WS_PATH", cfg.WSPath)
	cfg.HTTPAddr = getenv("TERMLINK_HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabasePath = getenv("TERMLINK_DB_PATH", cfg.DatabasePath)
	cfg.CompanyID = getenvInt64("TERMLINK_COMPANY_ID", cfg.CompanyID)
	cfg.LogCloseAfter = Duration(getenvDuration("TERMLINK_LOG_CLOSE_AFTER", cfg.LogCloseAfter.Std()))
	cfg.TrackerTimeout = Duration(getenvDuration("TERMLINK_TRACKER_TIMEOUT", cfg.TrackerTimeout.Std()))
	cfg.MinFirmware = getenv("TERMLINK_MIN_FIRMWARE", cfg.MinFirmware)
	cfg.LogLevel = getenv("TERMLINK_LOG_LEVEL", cfg.LogLevel)
	cfg.ProtocolLog = getenvBool("TERMLINK_PROTOCOL_LOG", cfg.ProtocolLog)

	return cfg, nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
