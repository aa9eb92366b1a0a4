package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GenerationStatus mirrors ParsingStatus but is kept a distinct type: the two
// job kinds have different retry semantics and must not be mixed up in
// exhaustive switches.
type GenerationStatus string

const (
	GenerationQueued     GenerationStatus = "queued"
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

// MaxGenerationRetries caps automatic reschedules of a generation job. After
// the budget is spent the job fails terminally.
const MaxGenerationRetries = 3

// GenerationJob tracks one attempt to produce a quiz from parsed content.
// RetryCount is monotonically increasing and bounded by MaxGenerationRetries.
type GenerationJob struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	FileID      uuid.UUID `gorm:"type:uuid;not null;index" json:"file_id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`

	Status         GenerationStatus `gorm:"column:status;type:text;not null;default:'queued';index" json:"status"`
	QueueMessageID *string          `gorm:"column:queue_message_id" json:"queue_message_id,omitempty"`
	RetryCount     int              `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	Error          string           `gorm:"column:error" json:"error,omitempty"`
	// Metadata holds the resulting quiz id, token usage and cost once the job
	// completes; opaque to the ledger.
	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (GenerationJob) TableName() string { return "generation_job" }
