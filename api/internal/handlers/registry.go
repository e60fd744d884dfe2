package handlers

import (
	"errors"
	"net/http"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/repository"
	"github.com/ecocrm-platform/ecocrm-stack/common/httputil"
)

// Agents handles /agents (GET list, POST create).
func (h *Handler) Agents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		agents, err := h.repo.ListAgents(r.Context())
		if err != nil {
			h.internalError(w, r, "failed to list agents", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, orEmpty(agents))
	case http.MethodPost:
		var req models.CreateAgentRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Name == "" || req.Role == "" || req.Goal == "" {
			httputil.WriteError(w, http.StatusBadRequest, "name, role and goal are required")
			return
		}
		agent := &models.Agent{Name: req.Name, Role: req.Role, Goal: req.Goal, ToolsJSON: req.ToolsJSON}
		if err := h.repo.CreateAgent(r.Context(), agent); err != nil {
			h.internalError(w, r, "failed to create agent", err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, agent)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// AgentByID handles /agents/{id} (GET, DELETE).
func (h *Handler) AgentByID(w http.ResponseWriter, r *http.Request) {
	id, _, ok := pathID("/agents/", r.URL.Path)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	switch r.Method {
	case http.MethodGet:
		agent, err := h.repo.GetAgent(r.Context(), id)
		if err != nil {
			h.notFoundOrError(w, r, "agent", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, agent)
	case http.MethodDelete:
		if err := h.repo.DeleteAgent(r.Context(), id); err != nil {
			h.notFoundOrError(w, r, "agent", err)
			return
		}
		httputil.WriteStatus(w, http.StatusOK, "deleted")
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// Tasks handles /tasks (GET list, POST create).
func (h *Handler) Tasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := h.repo.ListTasks(r.Context())
		if err != nil {
			h.internalError(w, r, "failed to list tasks", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, orEmpty(tasks))
	case http.MethodPost:
		var req models.CreateTaskRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Name == "" || req.Description == "" {
			httputil.WriteError(w, http.StatusBadRequest, "name and description are required")
			return
		}
		if req.AgentID != nil {
			if _, err := h.repo.GetAgent(r.Context(), *req.AgentID); err != nil {
				h.notFoundOrError(w, r, "agent", err)
				return
			}
		}
		task := &models.Task{
			Name:           req.Name,
			Description:    req.Description,
			ExpectedOutput: req.ExpectedOutput,
			AgentID:        req.AgentID,
		}
		if err := h.repo.CreateTask(r.Context(), task); err != nil {
			h.internalError(w, r, "failed to create task", err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, task)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// TaskByID handles /tasks/{id} (GET, DELETE).
func (h *Handler) TaskByID(w http.ResponseWriter, r *http.Request) {
	id, _, ok := pathID("/tasks/", r.URL.Path)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	switch r.Method {
	case http.MethodGet:
		task, err := h.repo.GetTask(r.Context(), id)
		if err != nil {
			h.notFoundOrError(w, r, "task", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, task)
	case http.MethodDelete:
		if err := h.repo.DeleteTask(r.Context(), id); err != nil {
			h.notFoundOrError(w, r, "task", err)
			return
		}
		httputil.WriteStatus(w, http.StatusOK, "deleted")
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// Crews handles /crews (GET list, POST create).
func (h *Handler) Crews(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		crews, err := h.repo.ListCrews(r.Context())
		if err != nil {
			h.internalError(w, r, "failed to list crews", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, orEmpty(crews))
	case http.MethodPost:
		var req models.CreateCrewRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Name == "" {
			httputil.WriteError(w, http.StatusBadRequest, "name is required")
			return
		}
		crew := &models.Crew{Name: req.Name, Description: req.Description, Process: req.Process}
		if err := h.repo.CreateCrew(r.Context(), crew); err != nil {
			h.internalError(w, r, "failed to create crew", err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, crew)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// CrewSubroutes dispatches /crews/{id} and its nested resources:
//
//	GET    /crews/{id}           crew detail (tasks in order + versions)
//	DELETE /crews/{id}
//	PUT    /crews/{id}/tasks     overwrite task links
//	POST   /crews/{id}/publish   publish an immutable version
//	GET    /crews/{id}/versions  list versions
func (h *Handler) CrewSubroutes(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := pathID("/crews/", r.URL.Path)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid crew id")
		return
	}

	switch {
	case rest == "" && r.Method == http.MethodGet:
		detail, err := h.registry.GetCrewDetail(r.Context(), id)
		if err != nil {
			h.notFoundOrError(w, r, "crew", err)
			return
		}
		if detail.Tasks == nil {
			detail.Tasks = []*models.Task{}
		}
		if detail.Versions == nil {
			detail.Versions = []*models.CrewVersion{}
		}
		httputil.WriteJSON(w, http.StatusOK, detail)

	case rest == "" && r.Method == http.MethodDelete:
		if err := h.repo.DeleteCrew(r.Context(), id); err != nil {
			h.notFoundOrError(w, r, "crew", err)
			return
		}
		httputil.WriteStatus(w, http.StatusOK, "deleted")

	case rest == "tasks" && r.Method == http.MethodPut:
		var reqs []*models.TaskLinkRequest
		if err := httputil.DecodeJSON(r, &reqs); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.registry.SetCrewTasks(r.Context(), id, reqs); err != nil {
			h.notFoundOrError(w, r, "crew or task", err)
			return
		}
		httputil.WriteStatus(w, http.StatusOK, "updated")

	case rest == "publish" && r.Method == http.MethodPost:
		var req struct {
			VersionTag string `json:"version_tag"`
			ModelID    *int64 `json:"model_id"`
		}
		if err := httputil.DecodeJSON(r, &req); err != nil && !errors.Is(err, httputil.ErrEmptyBody) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		version, err := h.registry.PublishCrew(r.Context(), id, req.VersionTag, req.ModelID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				httputil.WriteError(w, http.StatusNotFound, "crew not found")
				return
			}
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, version)

	case rest == "versions" && r.Method == http.MethodGet:
		versions, err := h.repo.ListCrewVersions(r.Context(), id)
		if err != nil {
			h.internalError(w, r, "failed to list versions", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, orEmpty(versions))

	default:
		httputil.WriteError(w, http.StatusNotFound, "not found")
	}
}

// VersionByID handles /versions/{id} (GET, DELETE).
func (h *Handler) VersionByID(w http.ResponseWriter, r *http.Request) {
	id, _, ok := pathID("/versions/", r.URL.Path)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid version id")
		return
	}
	switch r.Method {
	case http.MethodGet:
		version, err := h.repo.GetCrewVersion(r.Context(), id)
		if err != nil {
			h.notFoundOrError(w, r, "version", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, version)
	case http.MethodDelete:
		if err := h.repo.DeleteCrewVersion(r.Context(), id); err != nil {
			h.notFoundOrError(w, r, "version", err)
			return
		}
		httputil.WriteStatus(w, http.StatusOK, "deleted")
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, "error", err)
	httputil.WriteError(w, http.StatusInternalServerError, msg)
}

func (h *Handler) notFoundOrError(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, what+" not found")
		return
	}
	h.internalError(w, r, "failed to access "+what, err)
}

// orEmpty converts a nil slice into an empty one so JSON lists render as []
// instead of null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
