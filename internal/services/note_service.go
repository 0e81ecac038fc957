package services

import (
	"context"
	"errors"

	"collab-service/internal/models"
	"collab-service/internal/repository"
)

var (
	ErrNoteNotFound = errors.New("note not found")
	ErrAccessDenied = errors.New("access denied")
)

// NoteAccessChecker is the document access authority consulted on every room
// join. The collaboration engine never decides access itself.
type NoteAccessChecker interface {
	CanAccess(ctx context.Context, userID, noteID string) (models.SharePermission, error)
}

type NoteService struct {
	notes repository.NoteRepository
}

func NewNoteService(notes repository.NoteRepository) *NoteService {
	return &NoteService{notes: notes}
}

// CanAccess returns the permission level userID holds on noteID: edit for the
// owner, the granted level for a shared user, ErrAccessDenied otherwise.
func (s *NoteService) CanAccess(ctx context.Context, userID, noteID string) (models.SharePermission, error) {
	note, err := s.notes.FindByID(ctx, noteID)
	if errors.Is(err, repository.ErrNoteNotFound) {
		return "", ErrNoteNotFound
	}
	if err != nil {
		return "", err
	}

	if note.OwnerID == userID {
		return models.PermissionEdit, nil
	}

	share, err := s.notes.FindShare(ctx, noteID, userID)
	if err != nil {
		return "", err
	}
	if share == nil {
		return "", ErrAccessDenied
	}
	return share.Permission, nil
}

// GetNote returns the note if the user may read it.
func (s *NoteService) GetNote(ctx context.Context, userID, noteID string) (*models.Note, error) {
	if _, err := s.CanAccess(ctx, userID, noteID); err != nil {
		return nil, err
	}
	return s.notes.FindByID(ctx, noteID)
}

// SaveContent is the durable save path. The editor calls it on its own
// debounce, independently of the realtime broadcast.
func (s *NoteService) SaveContent(ctx context.Context, userID, noteID, content string) error {
	perm, err := s.CanAccess(ctx, userID, noteID)
	if err != nil {
		return err
	}
	if perm != models.PermissionEdit {
		return ErrAccessDenied
	}
	return s.notes.UpdateContent(ctx, noteID, content)
}
