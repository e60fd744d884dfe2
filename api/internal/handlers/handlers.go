// Package handlers exposes the platform API over HTTP.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/repository"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/service"
	"github.com/ecocrm-platform/ecocrm-stack/common/httputil"
	"github.com/ecocrm-platform/ecocrm-stack/common/logging"
)

type Handler struct {
	repo         repository.Repository
	registry     *service.RegistryService
	auth         *service.AuthService
	webhooks     *service.WebhookService
	webhookToken string
	logger       *logging.Logger
}

func NewHandler(
	repo repository.Repository,
	registry *service.RegistryService,
	auth *service.AuthService,
	webhooks *service.WebhookService,
	webhookToken string,
	logger *logging.Logger,
) *Handler {
	return &Handler{
		repo:         repo,
		registry:     registry,
		auth:         auth,
		webhooks:     webhooks,
		webhookToken: webhookToken,
		logger:       logger,
	}
}

// HealthCheck handles GET /healthz.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// pathID extracts the numeric id segment following the given prefix, e.g.
// pathID("/agents/", "/agents/42") -> 42.
func pathID(prefix, path string) (int64, string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path || rest == "" {
		return 0, "", false
	}
	idPart := rest
	remainder := ""
	if i := strings.Index(rest, "/"); i >= 0 {
		idPart = rest[:i]
		remainder = rest[i+1:]
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, remainder, true
}
