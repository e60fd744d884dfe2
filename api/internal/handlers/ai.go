package handlers

import (
	"net/http"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/common/httputil"
)

// AIProviders handles /ai/providers (GET list, POST create).
func (h *Handler) AIProviders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		providers, err := h.repo.ListProviders(r.Context())
		if err != nil {
			h.internalError(w, r, "failed to list providers", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, orEmpty(providers))
	case http.MethodPost:
		var p models.AIProvider
		if err := httputil.DecodeJSON(r, &p); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if p.Name == "" {
			httputil.WriteError(w, http.StatusBadRequest, "name is required")
			return
		}
		if err := h.repo.CreateProvider(r.Context(), &p); err != nil {
			h.notFoundOrError(w, r, "provider", err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, p)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// AIProviderByID handles /ai/providers/{id} (PUT, DELETE).
func (h *Handler) AIProviderByID(w http.ResponseWriter, r *http.Request) {
	id, _, ok := pathID("/ai/providers/", r.URL.Path)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	switch r.Method {
	case http.MethodPut:
		var p models.AIProvider
		if err := httputil.DecodeJSON(r, &p); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		p.ID = id
		if err := h.repo.UpdateProvider(r.Context(), &p); err != nil {
			h.notFoundOrError(w, r, "provider", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if err := h.repo.DeleteProvider(r.Context(), id); err != nil {
			h.notFoundOrError(w, r, "provider", err)
			return
		}
		httputil.WriteStatus(w, http.StatusOK, "deleted")
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// AIModels handles /ai/models (GET list with ?enabled=true, POST create).
func (h *Handler) AIModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		enabledOnly := r.URL.Query().Get("enabled") == "true"
		list, err := h.repo.ListModels(r.Context(), enabledOnly)
		if err != nil {
			h.internalError(w, r, "failed to list models", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, orEmpty(list))
	case http.MethodPost:
		var m models.AIModel
		if err := httputil.DecodeJSON(r, &m); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if m.Name == "" || m.ProviderID == 0 {
			httputil.WriteError(w, http.StatusBadRequest, "name and provider_id are required")
			return
		}
		if m.Modality == "" {
			m.Modality = "text"
		}
		if m.Currency == "" {
			m.Currency = "USD"
		}
		if err := h.repo.CreateModel(r.Context(), &m); err != nil {
			h.internalError(w, r, "failed to create model", err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, m)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// AIModelByID handles /ai/models/{id} (GET, DELETE).
func (h *Handler) AIModelByID(w http.ResponseWriter, r *http.Request) {
	id, _, ok := pathID("/ai/models/", r.URL.Path)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid model id")
		return
	}
	switch r.Method {
	case http.MethodGet:
		m, err := h.repo.GetModel(r.Context(), id)
		if err != nil {
			h.notFoundOrError(w, r, "model", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, m)
	case http.MethodDelete:
		if err := h.repo.DeleteModel(r.Context(), id); err != nil {
			h.notFoundOrError(w, r, "model", err)
			return
		}
		httputil.WriteStatus(w, http.StatusOK, "deleted")
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// AIUsage handles GET /ai/usage with optional run_id and limit filters.
func (h *Handler) AIUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	logs, err := h.repo.ListUsageLogs(r.Context(),
		r.URL.Query().Get("run_id"), httputil.QueryInt(r, "limit", 0))
	if err != nil {
		h.internalError(w, r, "failed to list usage logs", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orEmpty(logs))
}
