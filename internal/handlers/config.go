package handlers

import (
	"net/http"

	"github.com/queueup/backend/internal/config"
	"github.com/queueup/backend/internal/models"
	"github.com/queueup/backend/internal/queue"
)

type ConfigHandler struct {
	cfg           *config.Config
	searchEnabled bool
}

func NewConfigHandler(cfg *config.Config, searchEnabled bool) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, searchEnabled: searchEnabled}
}

// PublicConfig returns non-sensitive configuration for the frontend
func (h *ConfigHandler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.PublicConfigResponse{
		QueuePolicy:       string(queue.ParsePolicy(h.cfg.QueuePolicy)),
		AutoCloseOnEmpty:  h.cfg.AutoCloseOnEmpty,
		SearchEnabled:     h.searchEnabled,
		HeartbeatSeconds:  int(h.cfg.HeartbeatInterval.Seconds()),
		SentryDSN:         h.cfg.SentryDSNFrontend,
		SentryEnvironment: h.cfg.SentryEnvironment,
	})
}
