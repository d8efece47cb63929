// Package handlers exposes the queue operations over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/nextup/internal/platform/api"
	"github.com/example/nextup/internal/platform/auth"
	"github.com/example/nextup/internal/platform/httpserver"
	"github.com/example/nextup/internal/queue/content"
	"github.com/example/nextup/internal/queue/service"
	"github.com/example/nextup/internal/queue/store"
)

type enqueueRequest struct {
	ContentID      string `json:"content_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type moveRequest struct {
	AfterEntryID   *string `json:"after_entry_id,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

type attachSessionRequest struct {
	SessionID string `json:"session_id"`
}

// entryResponse is the wire shape of a queue entry. Content and session are
// resolved from the catalog/playback collaborator and stay null when the
// collaborator is absent or the lookup fails.
type entryResponse struct {
	ID        string           `json:"id"`
	ContentID string           `json:"content_id"`
	UserID    string           `json:"user_id"`
	Position  float64          `json:"position"`
	Content   *content.Content `json:"content"`
	Session   *content.Session `json:"content_session"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type queueResponse struct {
	Entries []entryResponse `json:"entries"`
}

type Handler struct {
	svc     *service.Service
	content *content.Client
	log     *zap.Logger
}

func New(svc *service.Service, cc *content.Client, log *zap.Logger) *Handler {
	return &Handler{svc: svc, content: cc, log: log}
}

// Mount registers the queue routes. The caller is responsible for wrapping
// the router in auth.RequireUser.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/v1/queue", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.enqueue)
		r.Get("/head", h.head)
		r.Post("/advance", h.advance)
		r.Post("/{entry_id}/move", h.move)
		r.Put("/{entry_id}/session", h.attachSession)
		r.Delete("/{entry_id}", h.remove)
	})
}

// enqueue handles POST /v1/queue
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", requestID(r), nil)
		return
	}
	if strings.TrimSpace(req.ContentID) == "" {
		api.BadRequest(w, "MISSING_CONTENT_ID", "content_id is required", requestID(r), nil)
		return
	}

	e, err := h.svc.Enqueue(r.Context(), userID, strings.TrimSpace(req.ContentID), strings.TrimSpace(req.IdempotencyKey))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, h.render(r, e))
}

// list handles GET /v1/queue
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	entries, err := h.svc.List(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := queueResponse{Entries: make([]entryResponse, len(entries))}
	for i, e := range entries {
		resp.Entries[i] = h.render(r, e)
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// head handles GET /v1/queue/head
func (h *Handler) head(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	e, err := h.svc.Peek(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if e == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	api.WriteJSON(w, http.StatusOK, h.render(r, *e))
}

// advance handles POST /v1/queue/advance
func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	e, err := h.svc.Advance(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if e == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	api.WriteJSON(w, http.StatusOK, h.render(r, *e))
}

// move handles POST /v1/queue/{entry_id}/move
func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	entryID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "entry_id")))
	if err != nil {
		api.BadRequest(w, "INVALID_ENTRY_ID", "entry_id must be a UUID", requestID(r), nil)
		return
	}

	var req moveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", requestID(r), nil)
		return
	}

	var afterID *uuid.UUID
	if req.AfterEntryID != nil {
		id, err := uuid.Parse(strings.TrimSpace(*req.AfterEntryID))
		if err != nil {
			api.BadRequest(w, "INVALID_AFTER_ENTRY_ID", "after_entry_id must be a UUID", requestID(r), nil)
			return
		}
		afterID = &id
	}

	e, err := h.svc.Reorder(r.Context(), userID, entryID, afterID, strings.TrimSpace(req.IdempotencyKey))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, h.render(r, e))
}

// attachSession handles PUT /v1/queue/{entry_id}/session — the playback
// service records the session it opened for an entry.
func (h *Handler) attachSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	entryID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "entry_id")))
	if err != nil {
		api.BadRequest(w, "INVALID_ENTRY_ID", "entry_id must be a UUID", requestID(r), nil)
		return
	}

	var req attachSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", requestID(r), nil)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		api.BadRequest(w, "MISSING_SESSION_ID", "session_id is required", requestID(r), nil)
		return
	}

	e, err := h.svc.AttachSession(r.Context(), userID, entryID, strings.TrimSpace(req.SessionID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, h.render(r, e))
}

// remove handles DELETE /v1/queue/{entry_id}
func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	entryID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "entry_id")))
	if err != nil {
		api.BadRequest(w, "INVALID_ENTRY_ID", "entry_id must be a UUID", requestID(r), nil)
		return
	}

	if err := h.svc.Remove(r.Context(), userID, entryID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── helpers ────────────────────────────────────────────────────────────────

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := auth.UserIDFromContext(r.Context())
	if !ok || raw == "" {
		api.Unauthorized(w, "UNAUTHORIZED", "authentication required", requestID(r))
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		api.Unauthorized(w, "UNAUTHORIZED", "invalid subject", requestID(r))
		return uuid.Nil, false
	}
	return userID, true
}

// render decorates an entry with collaborator data. Enrichment failures are
// logged and leave the fields null; the queue operation already succeeded.
func (h *Handler) render(r *http.Request, e store.Entry) entryResponse {
	resp := entryResponse{
		ID:        e.ID.String(),
		ContentID: e.ContentID,
		UserID:    e.UserID.String(),
		Position:  e.Position,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}

	c, err := h.content.Content(r.Context(), e.ContentID)
	if err != nil {
		h.log.Debug("content lookup failed", zap.String("content_id", e.ContentID), zap.Error(err))
	} else {
		resp.Content = c
	}

	sess, err := h.content.Session(r.Context(), e.ID.String())
	if err != nil {
		h.log.Debug("session lookup failed", zap.String("entry_id", e.ID.String()), zap.Error(err))
	} else {
		resp.Session = sess
	}
	return resp
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rid := requestID(r)
	switch {
	case errors.Is(err, service.ErrConflict):
		api.Conflict(w, "DUPLICATE_REQUEST", "this request was already submitted", rid, nil)
	case errors.Is(err, service.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", "queue entry not found", rid)
	case errors.Is(err, service.ErrUnavailable):
		api.Unavailable(w, "RETRY_LATER", "temporarily unavailable, retry with backoff", rid)
	default:
		h.log.Error("queue operation failed", zap.Error(err))
		api.Internal(w, rid)
	}
}

func requestID(r *http.Request) string {
	return httpserver.RequestIDFromContext(r.Context())
}
