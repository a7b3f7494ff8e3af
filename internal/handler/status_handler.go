package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"logon-forwarder/internal/models"
	"logon-forwarder/internal/util"
)

type StatsProvider interface {
	Stats(ctx context.Context) models.Stats
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatusHandler serves the forwarder's health and counters.
type StatusHandler struct {
	stats  StatsProvider
	health HealthChecker
	app    models.AppInfo
	logger *zap.Logger
}

func NewStatusHandler(stats StatsProvider, health HealthChecker, app models.AppInfo, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		stats:  stats,
		health: health,
		app:    app,
		logger: logger,
	}
}

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

type healthData struct {
	Service  string `json:"service"`
	Version  string `json:"version"`
	Machine  string `json:"machine"`
	Instance string `json:"instance"`
	Watcher  string `json:"watcher"`
}

// Health reports 200 when every backend answers and the watcher is
// running, 503 otherwise.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	data := healthData{
		Service:  h.app.Name,
		Version:  h.app.Version,
		Machine:  h.app.MachineName,
		Instance: h.app.InstanceID,
		Watcher:  h.stats.Stats(ctx).State,
	}

	if h.health != nil {
		if err := h.health.HealthCheck(ctx); err != nil {
			h.respondWithError(w, http.StatusServiceUnavailable, err, "Backend unhealthy")
			return
		}
	}
	if data.Watcher != "running" {
		h.respondWithJSON(w, http.StatusServiceUnavailable, Response{
			Success: false,
			Data:    data,
			Message: "Watcher is not running",
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{Success: true, Data: data, Message: "healthy"})
}

func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.respondWithJSON(w, http.StatusOK, Response{Success: true, Data: h.stats.Stats(ctx)})
}

func (h *StatusHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *StatusHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, Response{Success: false, Error: err.Error(), Message: message})
}
