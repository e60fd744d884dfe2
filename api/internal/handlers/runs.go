package handlers

import (
	"net/http"
	"strings"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/common/httputil"
)

// Runs handles GET /runs with optional source, status, conversation_id and
// limit filters.
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req := &models.ListRunsRequest{
		Source:         r.URL.Query().Get("source"),
		Status:         r.URL.Query().Get("status"),
		ConversationID: r.URL.Query().Get("conversation_id"),
		Limit:          httputil.QueryInt(r, "limit", 0),
	}
	runs, err := h.repo.ListRuns(r.Context(), req)
	if err != nil {
		h.internalError(w, r, "failed to list runs", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orEmpty(runs))
}

// RunByID handles GET /runs/{id}, returning the run with its event log in
// sequence order.
func (h *Handler) RunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	if id == "" || strings.Contains(id, "/") {
		httputil.WriteError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	detail, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		h.notFoundOrError(w, r, "run", err)
		return
	}
	if detail.Events == nil {
		detail.Events = []*models.RunEvent{}
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}
