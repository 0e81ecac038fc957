package handlers

import (
	"errors"
	"net/http"

	"collab-service/internal/api/middleware"
	"collab-service/internal/services"
	"collab-service/pkg/response"

	"github.com/gin-gonic/gin"
)

type NoteHandler struct {
	notes *services.NoteService
}

func NewNoteHandler(notes *services.NoteService) *NoteHandler {
	return &NoteHandler{notes: notes}
}

type updateNoteRequest struct {
	Content string `json:"content"`
}

// GetNote returns a note the caller may read.
func (h *NoteHandler) GetNote(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "authentication required")
		return
	}

	note, err := h.notes.GetNote(c.Request.Context(), identity.UserID, c.Param("id"))
	switch {
	case errors.Is(err, services.ErrNoteNotFound):
		response.Error(c, http.StatusNotFound, "note not found")
	case errors.Is(err, services.ErrAccessDenied):
		response.Error(c, http.StatusForbidden, "access denied")
	case err != nil:
		response.Error(c, http.StatusInternalServerError, "failed to load note")
	default:
		response.OK(c, note)
	}
}

// SaveNote is the debounced durable-save endpoint. The editor calls it
// independently of the realtime text relay.
func (h *NoteHandler) SaveNote(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "authentication required")
		return
	}

	var req updateNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.notes.SaveContent(c.Request.Context(), identity.UserID, c.Param("id"), req.Content)
	switch {
	case errors.Is(err, services.ErrNoteNotFound):
		response.Error(c, http.StatusNotFound, "note not found")
	case errors.Is(err, services.ErrAccessDenied):
		response.Error(c, http.StatusForbidden, "access denied")
	case err != nil:
		response.Error(c, http.StatusInternalServerError, "failed to save note")
	default:
		response.OK(c, gin.H{"status": "saved"})
	}
}
