package handlers

import (
	"net/http"
	"strconv"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/common/httputil"
)

func biFilter(r *http.Request) *models.BIFilter {
	filter := &models.BIFilter{
		DateFrom: r.URL.Query().Get("date_from"),
		DateTo:   r.URL.Query().Get("date_to"),
	}
	if raw := r.URL.Query().Get("inbox_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.InboxID = &id
		}
	}
	return filter
}

// BIInboxVolume handles GET /bi/inbox-volume.
func (h *Handler) BIInboxVolume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rows, err := h.repo.InboxVolume(r.Context(), biFilter(r))
	if err != nil {
		h.internalError(w, r, "failed to query inbox volume", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orEmpty(rows))
}

// BIAgentVolume handles GET /bi/agent-volume.
func (h *Handler) BIAgentVolume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rows, err := h.repo.AgentVolume(r.Context(), biFilter(r))
	if err != nil {
		h.internalError(w, r, "failed to query agent volume", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orEmpty(rows))
}

// BITimeMetrics handles GET /bi/time-metrics.
func (h *Handler) BITimeMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics, err := h.repo.TimeMetrics(r.Context(), biFilter(r))
	if err != nil {
		h.internalError(w, r, "failed to query time metrics", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, metrics)
}

// BIBacklog handles GET /bi/backlog, returning the most recent snapshot.
func (h *Handler) BIBacklog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rows, err := h.repo.LatestBacklog(r.Context(), biFilter(r).InboxID)
	if err != nil {
		h.internalError(w, r, "failed to query backlog", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orEmpty(rows))
}
