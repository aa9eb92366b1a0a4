package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ParsingStatus is the closed status set for parse attempts. Keep this a
// typed string so status-to-progress mapping can be exhaustive instead of
// falling through on a free-form value.
type ParsingStatus string

const (
	ParsingQueued     ParsingStatus = "queued"
	ParsingProcessing ParsingStatus = "processing"
	ParsingCompleted  ParsingStatus = "completed"
	ParsingFailed     ParsingStatus = "failed"
)

func (s ParsingStatus) Terminal() bool {
	return s == ParsingCompleted || s == ParsingFailed
}

// ParsingJob tracks one attempt to extract text from an uploaded file via the
// external parser. The most recent row per file is authoritative for status
// projection.
type ParsingJob struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	FileID      uuid.UUID `gorm:"type:uuid;not null;index" json:"file_id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`

	Status         ParsingStatus  `gorm:"column:status;type:text;not null;default:'queued';index" json:"status"`
	QueueMessageID *string        `gorm:"column:queue_message_id" json:"queue_message_id,omitempty"`
	RetryCount     int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	Error          string         `gorm:"column:error" json:"error,omitempty"`
	ParsedKey      *string        `gorm:"column:parsed_key" json:"parsed_key,omitempty"`
	Metrics        datatypes.JSON `gorm:"column:metrics;type:jsonb" json:"metrics,omitempty"`

	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ParsingJob) TableName() string { return "parsing_job" }
