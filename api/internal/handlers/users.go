package handlers

import (
	"errors"
	"net/http"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/repository"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/service"
	"github.com/ecocrm-platform/ecocrm-stack/common/httputil"
)

// Register handles POST /auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.RegisterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.auth.Register(r.Context(), &req)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			httputil.WriteError(w, http.StatusConflict, "email already registered")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, user)
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.auth.Login(r.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			httputil.WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.internalError(w, r, "login failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, token)
}

// Users handles GET /users with offset/limit pagination.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	offset := httputil.QueryInt(r, "offset", 0)
	limit := httputil.QueryInt(r, "limit", 100)
	users, err := h.repo.ListUsers(r.Context(), offset, limit)
	if err != nil {
		h.internalError(w, r, "failed to list users", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orEmpty(users))
}
