package files

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the user-visible lifecycle of an uploaded document. Transitions
// only move forward: pending -> processing -> completed|error. A re-upload
// creates a new row rather than rewinding an old one.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

type File struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`

	DisplayName string `gorm:"column:display_name;not null" json:"display_name"`
	StorageKey  string `gorm:"column:storage_key;not null" json:"storage_key"`
	SizeBytes   int64  `gorm:"column:size_bytes;not null" json:"size_bytes"`
	MimeType    string `gorm:"column:mime_type;not null" json:"mime_type"`
	PageCount   *int   `gorm:"column:page_count" json:"page_count,omitempty"`
	Status      Status `gorm:"column:status;type:text;not null;default:'pending';index" json:"status"`

	Language     string `gorm:"column:language;not null" json:"language"`
	Subject      string `gorm:"column:subject;not null" json:"subject"`
	DocumentType string `gorm:"column:document_type;not null" json:"document_type"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (File) TableName() string { return "document_file" }
