package repository

import (
	"context"
	"errors"
	"fmt"

	"collab-service/internal/models"

	"gorm.io/gorm"
)

var ErrNoteNotFound = errors.New("note not found")

type NoteRepository interface {
	Create(ctx context.Context, note *models.Note) error
	FindByID(ctx context.Context, noteID string) (*models.Note, error)
	UpdateContent(ctx context.Context, noteID, content string) error
	FindShare(ctx context.Context, noteID, userID string) (*models.NoteShare, error)
}

type noteRepository struct {
	db *gorm.DB
}

func NewNoteRepository(db *gorm.DB) NoteRepository {
	return &noteRepository{db: db}
}

func (r *noteRepository) Create(ctx context.Context, note *models.Note) error {
	if err := r.db.WithContext(ctx).Create(note).Error; err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	return nil
}

func (r *noteRepository) FindByID(ctx context.Context, noteID string) (*models.Note, error) {
	var note models.Note
	err := r.db.WithContext(ctx).First(&note, "id = ?", noteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find note: %w", err)
	}
	return &note, nil
}

func (r *noteRepository) UpdateContent(ctx context.Context, noteID, content string) error {
	result := r.db.WithContext(ctx).Model(&models.Note{}).
		Where("id = ?", noteID).
		Update("content", content)
	if result.Error != nil {
		return fmt.Errorf("failed to update note content: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNoteNotFound
	}
	return nil
}

func (r *noteRepository) FindShare(ctx context.Context, noteID, userID string) (*models.NoteShare, error) {
	var share models.NoteShare
	err := r.db.WithContext(ctx).
		First(&share, "note_id = ? AND user_id = ?", noteID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find note share: %w", err)
	}
	return &share, nil
}
