package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.deps.Store.List(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	conv, err := s.deps.Store.Create(r.Context(), req.Title)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.deps.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
