package handlers

import (
	"net/http"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/common/httputil"
)

// KnowledgeBases handles /knowledge-bases (GET list, POST create).
func (h *Handler) KnowledgeBases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		kbs, err := h.repo.ListKnowledgeBases(r.Context())
		if err != nil {
			h.internalError(w, r, "failed to list knowledge bases", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, orEmpty(kbs))
	case http.MethodPost:
		var kb models.KnowledgeBase
		if err := httputil.DecodeJSON(r, &kb); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if kb.Name == "" {
			httputil.WriteError(w, http.StatusBadRequest, "name is required")
			return
		}
		if err := h.repo.CreateKnowledgeBase(r.Context(), &kb); err != nil {
			h.internalError(w, r, "failed to create knowledge base", err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, kb)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// KnowledgeBaseSubroutes dispatches /knowledge-bases/{id} and its files:
//
//	GET    /knowledge-bases/{id}
//	DELETE /knowledge-bases/{id}
//	GET    /knowledge-bases/{id}/files
//	POST   /knowledge-bases/{id}/files
func (h *Handler) KnowledgeBaseSubroutes(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := pathID("/knowledge-bases/", r.URL.Path)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid knowledge base id")
		return
	}

	switch {
	case rest == "" && r.Method == http.MethodGet:
		kb, err := h.repo.GetKnowledgeBase(r.Context(), id)
		if err != nil {
			h.notFoundOrError(w, r, "knowledge base", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, kb)

	case rest == "" && r.Method == http.MethodDelete:
		if err := h.repo.DeleteKnowledgeBase(r.Context(), id); err != nil {
			h.notFoundOrError(w, r, "knowledge base", err)
			return
		}
		httputil.WriteStatus(w, http.StatusOK, "deleted")

	case rest == "files" && r.Method == http.MethodGet:
		files, err := h.repo.ListKBFiles(r.Context(), id)
		if err != nil {
			h.internalError(w, r, "failed to list kb files", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, orEmpty(files))

	case rest == "files" && r.Method == http.MethodPost:
		if _, err := h.repo.GetKnowledgeBase(r.Context(), id); err != nil {
			h.notFoundOrError(w, r, "knowledge base", err)
			return
		}
		var file models.KBFile
		if err := httputil.DecodeJSON(r, &file); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if file.Filename == "" {
			httputil.WriteError(w, http.StatusBadRequest, "filename is required")
			return
		}
		file.KBID = id
		if err := h.repo.CreateKBFile(r.Context(), &file); err != nil {
			h.internalError(w, r, "failed to create kb file", err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, file)

	default:
		httputil.WriteError(w, http.StatusNotFound, "not found")
	}
}
