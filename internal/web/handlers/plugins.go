package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/people-tracker/internal/plugin"
)

// PluginsHandler lists plugins and changes their schedule at runtime.
type PluginsHandler struct {
	registry *plugin.Registry
	logger   *slog.Logger
}

// NewPluginsHandler creates a plugins handler.
func NewPluginsHandler(registry *plugin.Registry, logger *slog.Logger) *PluginsHandler {
	return &PluginsHandler{registry: registry, logger: logger}
}

// UpdatePluginRequest changes any subset of a plugin's settings.
type UpdatePluginRequest struct {
	Enabled    *bool    `json:"enabled,omitempty"`
	IntervalMS *int64   `json:"interval_ms,omitempty"`
	RateLimit  *float64 `json:"rate_limit,omitempty"`
}

// List returns every registered plugin in execution order.
func (h *PluginsHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.Status())
}

// Update applies an UpdatePluginRequest.
func (h *PluginsHandler) Update(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req UpdatePluginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := h.apply(name, req); err != nil {
		if errors.Is(err, plugin.ErrUnknownPlugin) {
			respondError(w, http.StatusNotFound, "plugin not found")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("plugin updated via API", "plugin", sanitizeForLog(name))

	for _, s := range h.registry.Status() {
		if s.Name == name {
			respondJSON(w, http.StatusOK, s)
			return
		}
	}
	respondError(w, http.StatusNotFound, "plugin not found")
}

func (h *PluginsHandler) apply(name string, req UpdatePluginRequest) error {
	if req.RateLimit != nil && *req.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	if req.IntervalMS != nil {
		if err := h.registry.SetInterval(name, time.Duration(*req.IntervalMS)*time.Millisecond); err != nil {
			return fmt.Errorf("interval: %w", err)
		}
	}
	if req.RateLimit != nil {
		if err := h.registry.SetRateLimit(name, *req.RateLimit); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	if req.Enabled != nil {
		if err := h.registry.SetEnabled(name, *req.Enabled); err != nil {
			return fmt.Errorf("enabled: %w", err)
		}
	}
	return nil
}
