// Package domain re-exports the model types so call sites can keep using a
// single `types` import while models stay grouped by area.
package domain

import (
	"github.com/yungbote/quizforge-backend/internal/domain/files"
	"github.com/yungbote/quizforge-backend/internal/domain/jobs"
	"github.com/yungbote/quizforge-backend/internal/domain/quizzes"
	"github.com/yungbote/quizforge-backend/internal/domain/users"
)

type (
	File       = files.File
	FileStatus = files.Status

	ParsingJob    = jobs.ParsingJob
	ParsingStatus = jobs.ParsingStatus

	GenerationJob    = jobs.GenerationJob
	GenerationStatus = jobs.GenerationStatus

	QuizDocument = quizzes.QuizDocument
	QuizIndex    = quizzes.QuizIndex
	QuizStatus   = quizzes.QuizStatus
	Question     = quizzes.Question
	QuestionType = quizzes.QuestionType
	QuizConfig   = quizzes.Config

	User     = users.User
	UserTier = users.Tier
)

const (
	FilePending    = files.StatusPending
	FileProcessing = files.StatusProcessing
	FileCompleted  = files.StatusCompleted
	FileError      = files.StatusError

	ParsingQueued     = jobs.ParsingQueued
	ParsingProcessing = jobs.ParsingProcessing
	ParsingCompleted  = jobs.ParsingCompleted
	ParsingFailed     = jobs.ParsingFailed

	GenerationQueued     = jobs.GenerationQueued
	GenerationProcessing = jobs.GenerationProcessing
	GenerationCompleted  = jobs.GenerationCompleted
	GenerationFailed     = jobs.GenerationFailed

	MaxGenerationRetries = jobs.MaxGenerationRetries

	QuizGenerating = quizzes.QuizGenerating
	QuizReady      = quizzes.QuizReady
	QuizFailed     = quizzes.QuizFailed

	QuestionMultipleChoice = quizzes.QuestionMultipleChoice
	QuestionTrueFalse      = quizzes.QuestionTrueFalse
	QuestionShortAnswer    = quizzes.QuestionShortAnswer

	TierFree = users.TierFree
	TierPro  = users.TierPro
)
