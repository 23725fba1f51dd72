package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/queueup/backend/internal/middleware"
	"github.com/queueup/backend/internal/models"
	"github.com/queueup/backend/internal/services"
	"github.com/queueup/backend/internal/session"
)

// SessionHandler serves the point-read and mutation endpoints of sessions.
type SessionHandler struct {
	registry  *session.Registry
	processor *session.Processor
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(registry *session.Registry, processor *session.Processor) *SessionHandler {
	return &SessionHandler{registry: registry, processor: processor}
}

// Create allocates a new session and returns its first snapshot.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	code, err := h.registry.Create(r.Context())
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to create session", err)
		return
	}

	snap, err := h.registry.Get(code)
	if err != nil {
		writeCommandError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// Get returns the current snapshot.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	code, ok := accessCode(w, r)
	if !ok {
		return
	}

	snap, err := h.registry.Get(code)
	if err != nil {
		writeCommandError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Close ends the session for everyone.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(session.Identity) (session.Command, bool) {
		return session.Close{}, true
	})
}

// Join adds the caller to the connected users.
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(id session.Identity) (session.Command, bool) {
		return session.Join{Identity: id}, true
	})
}

// Leave removes the caller from the connected users.
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(id session.Identity) (session.Command, bool) {
		return session.Leave{UserID: id.UserID}, true
	})
}

// AddItem queues a song. The body names the video either by contentRef or
// by a YouTube url.
func (h *SessionHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req models.AddItemRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	h.apply(w, r, http.StatusCreated, func(id session.Identity) (session.Command, bool) {
		ref, ok := resolveContentRef(req.ContentRef, req.URL)
		if !ok {
			writeError(w, http.StatusBadRequest, "unrecognized video url")
			return nil, false
		}
		return session.AddItem{Identity: id, ContentRef: ref, Title: req.Title}, true
	})
}

// RemoveItem removes a pending item or clears now playing.
func (h *SessionHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemId"), 10, 64)
	if err != nil || itemID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	h.apply(w, r, http.StatusOK, func(session.Identity) (session.Command, bool) {
		return session.RemoveItem{ItemID: itemID}, true
	})
}

// Advance promotes the next pending item.
func (h *SessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(session.Identity) (session.Command, bool) {
		return session.Advance{}, true
	})
}

// apply runs the command built by build for the authenticated caller and
// writes the resulting snapshot. build may write its own error and return false.
func (h *SessionHandler) apply(w http.ResponseWriter, r *http.Request, status int, build func(session.Identity) (session.Command, bool)) {
	code, ok := accessCode(w, r)
	if !ok {
		return
	}
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	cmd, ok := build(identity)
	if !ok {
		return
	}

	snap, err := h.processor.Apply(r.Context(), code, cmd)
	if err != nil {
		writeCommandError(r.Context(), w, err)
		return
	}
	writeJSON(w, status, snap)
}

// resolveContentRef prefers an explicit content reference and otherwise
// extracts the video id from url. Both empty passes through so validation
// reports the missing reference.
func resolveContentRef(contentRef, url string) (string, bool) {
	if ref := strings.TrimSpace(contentRef); ref != "" {
		return ref, true
	}
	if strings.TrimSpace(url) == "" {
		return "", true
	}
	return services.ParseVideoRef(url)
}
