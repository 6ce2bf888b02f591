// Package httpapi exposes the admin surface: fleet overview, door
// releases, maintenance commands and recent access logs. It is a thin
// layer over the engine; all device work goes through the dispatchers so
// the retry and confirmation rules hold for API-initiated commands too.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/termlink-protocol/termlink-go/pkg/engine"
	"github.com/termlink-protocol/termlink-go/pkg/session"
	"github.com/termlink-protocol/termlink-go/pkg/store"
)

// Server is the admin HTTP API.
type Server struct {
	eng *engine.Engine
	log *slog.Logger
}

// NewServer creates the API over the given engine. A nil logger discards.
func NewServer(eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{eng: eng, log: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/devices", s.handleDevices)
	r.Route("/devices/{serial}", func(r chi.Router) {
		r.Post("/open-door", s.handleOpenDoor)
		r.Post("/maintenance", s.handleMaintenance)
		r.Put("/settings", s.handleSettings)
		r.Get("/logs", s.handleLogs)
	})

	return r
}

type deviceResponse struct {
	Serial          string `json:"serial"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	Online          bool   `json:"online"`
	ModelName       string `json:"model_name,omitempty"`
	Firmware        string `json:"firmware,omitempty"`
	UsersUsed       int    `json:"users_used"`
	UserCap         int    `json:"user_capacity"`
	LastSeenAt      string `json:"last_seen_at,omitempty"`
	SettingsPending bool   `json:"settings_pending"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	views, err := s.eng.Devices(r.Context())
	if err != nil {
		s.log.Error("list devices", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	out := make([]deviceResponse, 0, len(views))
	for _, v := range views {
		resp := deviceResponse{
			Serial:          v.Serial,
			Name:            v.Name,
			Status:          string(v.Status),
			Online:          v.Online,
			ModelName:       v.ModelName,
			Firmware:        v.Firmware,
			UsersUsed:       v.UsersUsed,
			UserCap:         v.UserCapacity,
			SettingsPending: v.SettingsPending,
		}
		if !v.LastSeenAt.IsZero() {
			resp.LastSeenAt = v.LastSeenAt.Format(time.RFC3339)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOpenDoor(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var body struct {
		Door int `json:"door"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body")
			return
		}
	}

	if err := s.eng.OpenDoor(serial, body.Door); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			writeError(w, http.StatusConflict, "device_offline")
			return
		}
		s.log.Error("open door", "serial", serial, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	err := s.eng.Maintenance(serial, body.Action)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	case errors.Is(err, engine.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, "unknown_action")
	case errors.Is(err, session.ErrNotConnected):
		writeError(w, http.StatusConflict, "device_offline")
	default:
		s.log.Error("maintenance", "serial", serial, "action", body.Action, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var body struct {
		DeviceName  string `json:"device_name"`
		Language    int    `json:"language"`
		Volume      int    `json:"volume"`
		ScreenSaver int    `json:"screensaver"`
		VerifyMode  int    `json:"verify_mode"`
		Sleep       int    `json:"sleep"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	err := s.eng.PushSettings(r.Context(), serial, store.DeviceSettings{
		DeviceName:  body.DeviceName,
		Language:    body.Language,
		Volume:      body.Volume,
		ScreenSaver: body.ScreenSaver,
		VerifyMode:  body.VerifyMode,
		Sleep:       body.Sleep,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "device_not_found")
	default:
		s.log.Error("push settings", "serial", serial, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

type logResponse struct {
	EnrollID    int    `json:"enrollid"`
	EntryAt     string `json:"entry_at"`
	ExitAt      string `json:"exit_at,omitempty"`
	DurationSec int64  `json:"duration_sec"`
	Action      string `json:"action"`
	Open        bool   `json:"open"`
	CloseReason string `json:"close_reason,omitempty"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = parsed
	}

	logs, err := s.eng.RecentLogs(r.Context(), serial, limit)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "device_not_found")
		return
	default:
		s.log.Error("recent logs", "serial", serial, "error", err)
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	out := make([]logResponse, 0, len(logs))
	for _, row := range logs {
		resp := logResponse{
			EnrollID:    row.EnrollID,
			EntryAt:     row.EntryAt.Format(time.RFC3339),
			DurationSec: row.DurationSec,
			Action:      string(row.Action),
			Open:        row.IsOpen(),
			CloseReason: row.CloseReason,
		}
		if row.ExitAt != nil {
			resp.ExitAt = row.ExitAt.Format(time.RFC3339)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
