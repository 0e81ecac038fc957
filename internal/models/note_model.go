package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SharePermission is the access level a share grants on a note.
type SharePermission string

const (
	PermissionView SharePermission = "view"
	PermissionEdit SharePermission = "edit"
)

// Note is the durable document. The realtime subsystem never writes Content;
// saves arrive through the REST handler on the client's own debounce.
type Note struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID   string    `gorm:"size:36;index;not null" json:"ownerId"`
	Title     string    `gorm:"not null" json:"title"`
	Content   string    `gorm:"type:longtext" json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Shares []NoteShare `gorm:"foreignKey:NoteID" json:"-"`
}

func (n *Note) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return nil
}

// NoteShare grants a non-owner user access to a note.
type NoteShare struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	NoteID     string          `gorm:"size:36;uniqueIndex:idx_note_user;not null" json:"noteId"`
	UserID     string          `gorm:"size:36;uniqueIndex:idx_note_user;not null" json:"userId"`
	Permission SharePermission `gorm:"size:16;not null;default:view" json:"permission"`
	CreatedAt  time.Time       `json:"createdAt"`
}
