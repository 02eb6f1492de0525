// Package handler is the HTTP layer: it parses requests, calls services,
// and writes JSON responses. No business rules live here.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/wikistore/internal/auth"
	"github.com/sakif/wikistore/internal/model"
)

// ContentService is the slice of the content service this handler uses.
// Declared here (consumer side) so handler tests can supply a mock without
// touching the real service.
type ContentService interface {
	List(ctx context.Context, contentType, userID string) ([]model.Item, error)
	Save(ctx context.Context, contentType, username, userID string, item model.Item) ([]model.Item, error)
	Delete(ctx context.Context, contentType, username, userID, itemID string) ([]model.Item, error)
	Public(ctx context.Context, contentType string) ([]model.PublicItem, error)
	Submissions(ctx context.Context, entityID string) ([]model.Submission, error)
	SaveSubmission(ctx context.Context, username, userID, entityID string, item model.Item) ([]model.Submission, error)
}

// ContentHandler serves user content and entity submissions.
type ContentHandler struct {
	content ContentService
	logger  *slog.Logger
}

// NewContentHandler creates a ContentHandler.
func NewContentHandler(content ContentService, logger *slog.Logger) *ContentHandler {
	return &ContentHandler{content: content, logger: logger}
}

// HandleList returns the caller's own items for a content type.
//
// HTTP: GET /api/content/{type}
// Auth: required
func (h *ContentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	items, err := h.content.List(r.Context(), chi.URLParam(r, "type"), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleSave upserts one item and returns the caller's full updated array.
//
// HTTP: POST /api/content/{type}
// Body: one item, flat JSON with a required "id" key
// Auth: required
func (h *ContentHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var item model.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		h.logger.Warn("invalid item JSON", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "request body must be a JSON item object",
		})
		return
	}

	items, err := h.content.Save(r.Context(), chi.URLParam(r, "type"), id.Login, id.UserID, item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleDelete removes one of the caller's items.
//
// HTTP: DELETE /api/content/{type}/{id}
// Auth: required
func (h *ContentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	items, err := h.content.Delete(r.Context(), chi.URLParam(r, "type"), id.Login, id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HandlePublic returns every user's items for a content type — the wiki's
// public listing. No auth.
//
// HTTP: GET /api/content/{type}/public
func (h *ContentHandler) HandlePublic(w http.ResponseWriter, r *http.Request) {
	items, err := h.content.Public(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleSubmissions lists all users' submissions on an entity. No auth —
// submissions are the community-facing part of the wiki.
//
// HTTP: GET /api/entities/{entityID}/submissions
func (h *ContentHandler) HandleSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.content.Submissions(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// HandleSaveSubmission upserts the caller's submission on an entity.
//
// HTTP: POST /api/entities/{entityID}/submissions
// Auth: required
func (h *ContentHandler) HandleSaveSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var item model.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		h.logger.Warn("invalid submission JSON", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "request body must be a JSON item object",
		})
		return
	}

	subs, err := h.content.SaveSubmission(r.Context(), id.Login, id.UserID, chi.URLParam(r, "entityID"), item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}
