package handlers

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/queueup/backend/internal/models"
	"github.com/queueup/backend/internal/services"
)

const maxUserNameLength = 40

// IdentityHandler issues the opaque user identities sessions are joined with.
type IdentityHandler struct {
	authService   *services.AuthService
	nameGenerator *services.NameGenerator
}

// NewIdentityHandler creates an IdentityHandler.
func NewIdentityHandler(authService *services.AuthService, nameGenerator *services.NameGenerator) *IdentityHandler {
	return &IdentityHandler{authService: authService, nameGenerator: nameGenerator}
}

// Issue mints a fresh user id and a signed token carrying it. Callers that
// omit a display name get a generated one.
func (h *IdentityHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req models.IdentityRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	name := strings.TrimSpace(req.UserName)
	if utf8.RuneCountInString(name) > maxUserNameLength {
		writeError(w, http.StatusBadRequest, "user name is too long")
		return
	}
	if name == "" {
		name = h.nameGenerator.GenerateName()
	}

	userID := uuid.NewString()
	token, err := h.authService.GenerateToken(userID, name)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to issue identity", err)
		return
	}

	writeJSON(w, http.StatusCreated, models.IdentityResponse{
		UserID:   userID,
		UserName: name,
		Token:    token,
	})
}
