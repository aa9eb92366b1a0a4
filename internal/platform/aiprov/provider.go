package aiprov

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/quizforge-backend/internal/domain/quizzes"
)

// GenerateInput is the provider-agnostic generation request. Text is the
// already page-filtered source content.
type GenerateInput struct {
	Text                string
	NumQuestions        int
	Difficulty          string
	QuestionTypes       []string
	Language            string
	IncludeExplanations bool
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type GenerateOutput struct {
	Topic     string
	Questions []quizzes.Question
	Model     string
	Usage     Usage
}

// Provider is the capability each AI backend implements. New providers
// register by name; the orchestrator never references a concrete type.
type Provider interface {
	Name() string
	GenerateQuiz(ctx context.Context, in GenerateInput) (*GenerateOutput, error)
	// ValidateResponse enforces the question wire contract before anything is
	// persisted.
	ValidateResponse(out *GenerateOutput) error
	// CalculateCost prices the token usage in USD.
	CalculateCost(usage Usage) float64
}

// ErrorKind is the small failure taxonomy the generation orchestrator
// branches on for retry decisions.
type ErrorKind string

const (
	ErrRateLimited   ErrorKind = "rate_limited"
	ErrQuotaExceeded ErrorKind = "quota_exceeded"
	ErrTimeout       ErrorKind = "timeout"
	ErrTransient     ErrorKind = "transient"
	ErrInvalidOutput ErrorKind = "invalid_output"
	ErrGeneric       ErrorKind = "generic"
)

type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the generation orchestrator should reschedule
// with backoff. Quota exhaustion and malformed output never heal on retry.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ErrRateLimited, ErrTimeout, ErrTransient:
		return true
	}
	return false
}

// Classify extracts the error kind from any error returned by a provider.
func Classify(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrGeneric
}

// IsRetryable is Classify + the retry decision in one step.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
