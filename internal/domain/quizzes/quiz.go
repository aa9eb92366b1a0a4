package quizzes

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuizStatus string

const (
	QuizGenerating QuizStatus = "generating"
	QuizReady      QuizStatus = "ready"
	QuizFailed     QuizStatus = "failed"
)

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionTrueFalse      QuestionType = "true-false"
	QuestionShortAnswer    QuestionType = "short-answer"
)

// Question is one quiz item. Field names are a wire contract with the viewer
// UI and the provider layer.
//
// CorrectAnswer is deliberately polymorphic: an integer index for
// multiple-choice, the literal string "true" or "false" (never a boolean) for
// true-false, and free text for short-answer. The viewer compares
// lower-cased strings, so the true-false shape must never change.
type Question struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	Question      string       `json:"question"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer any          `json:"correctAnswer"`
	Explanation   string       `json:"explanation,omitempty"`
	Difficulty    string       `json:"difficulty,omitempty"`
	Topic         string       `json:"topic,omitempty"`
}

// Config is the generation configuration; zero values are filled with
// defaults by the generation orchestrator.
type Config struct {
	NumQuestions        int      `json:"numQuestions,omitempty"`
	Difficulty          string   `json:"difficulty,omitempty"`
	QuestionTypes       []string `json:"questionTypes,omitempty"`
	Language            string   `json:"language,omitempty"`
	IncludeExplanations *bool    `json:"includeExplanations,omitempty"`
	Provider            string   `json:"provider,omitempty"`
}

// QuizDocument is the full generated artifact, stored as a JSONB document
// row. Questions ordering is significant and stable unless explicitly
// reordered.
type QuizDocument struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	FileID      uuid.UUID `gorm:"type:uuid;not null;index" json:"file_id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`

	PageFrom int        `gorm:"column:page_from;not null;default:0" json:"page_from"`
	PageTo   int        `gorm:"column:page_to;not null;default:0" json:"page_to"`
	Topic    string     `gorm:"column:topic" json:"topic,omitempty"`
	Model    string     `gorm:"column:model" json:"model,omitempty"`
	Status   QuizStatus `gorm:"column:status;type:text;not null;default:'generating';index" json:"status"`

	Config    datatypes.JSON `gorm:"column:config;type:jsonb" json:"config"`
	Questions datatypes.JSON `gorm:"column:questions;type:jsonb;not null;default:'[]'" json:"questions"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (QuizDocument) TableName() string { return "quiz_document" }

// QuizIndex is the compact relational mirror of a QuizDocument, kept for
// cheap listing and joins against the job ledger.
type QuizIndex struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FileID      uuid.UUID `gorm:"type:uuid;not null;index" json:"file_id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`

	PageFrom int        `gorm:"column:page_from;not null;default:0" json:"page_from"`
	PageTo   int        `gorm:"column:page_to;not null;default:0" json:"page_to"`
	Topic    string     `gorm:"column:topic" json:"topic,omitempty"`
	Model    string     `gorm:"column:model" json:"model,omitempty"`
	Status   QuizStatus `gorm:"column:status;type:text;not null;index" json:"status"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (QuizIndex) TableName() string { return "quiz_index" }
