package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/repository"
	"github.com/ecocrm-platform/ecocrm-stack/common/httputil"
)

// TestRuns handles POST /test-runs. The id comes from the client so the
// portal can keep addressing the same session across reloads.
func (h *Handler) TestRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var run models.TestRun
	if err := httputil.DecodeJSON(r, &run); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if run.ID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.repo.CreateTestRun(r.Context(), &run); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			httputil.WriteError(w, http.StatusConflict, "test run already exists")
			return
		}
		h.internalError(w, r, "failed to create test run", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, run)
}

// TestRunSubroutes dispatches /test-runs/{id} and /test-runs/{id}/events.
func (h *Handler) TestRunSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/test-runs/")
	if rest == "" {
		httputil.WriteError(w, http.StatusBadRequest, "invalid test run id")
		return
	}
	id := rest
	sub := ""
	if i := strings.Index(rest, "/"); i >= 0 {
		id, sub = rest[:i], rest[i+1:]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		run, err := h.repo.GetTestRun(r.Context(), id)
		if err != nil {
			h.notFoundOrError(w, r, "test run", err)
			return
		}
		events, err := h.repo.ListTestRunEvents(r.Context(), id)
		if err != nil {
			h.internalError(w, r, "failed to list test run events", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"run":    run,
			"events": orEmpty(events),
		})

	case sub == "events" && r.Method == http.MethodPost:
		// The portal may post into a session that was never registered, so a
		// missing run is created on the fly instead of rejected.
		if _, err := h.repo.GetTestRun(r.Context(), id); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				h.internalError(w, r, "failed to load test run", err)
				return
			}
			if err := h.repo.CreateTestRun(r.Context(), &models.TestRun{ID: id}); err != nil && !errors.Is(err, repository.ErrDuplicate) {
				h.internalError(w, r, "failed to create test run", err)
				return
			}
		}
		var ev models.TestRunEvent
		if err := httputil.DecodeJSON(r, &ev); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if ev.Role == "" || ev.Content == "" {
			httputil.WriteError(w, http.StatusBadRequest, "role and content are required")
			return
		}
		ev.RunID = id
		if err := h.repo.AddTestRunEvent(r.Context(), &ev); err != nil {
			h.internalError(w, r, "failed to add test run event", err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, ev)

	default:
		httputil.WriteError(w, http.StatusNotFound, "not found")
	}
}
