package aiprov

import (
	"fmt"
	"strings"

	"github.com/yungbote/quizforge-backend/internal/domain/quizzes"
)

// ValidateQuestions enforces the question wire contract shared by every
// provider:
//   - multiple-choice: correctAnswer is an integer index into options
//   - true-false: correctAnswer is the literal string "true" or "false",
//     never a boolean (the viewer compares lower-cased strings)
//   - short-answer: correctAnswer is non-empty free text
func ValidateQuestions(questions []quizzes.Question) error {
	if len(questions) == 0 {
		return fmt.Errorf("no questions generated")
	}
	for i, q := range questions {
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("question %d: empty prompt", i)
		}
		switch q.Type {
		case quizzes.QuestionMultipleChoice:
			if len(q.Options) < 2 {
				return fmt.Errorf("question %d: multiple-choice needs at least 2 options", i)
			}
			idx, ok := answerIndex(q.CorrectAnswer)
			if !ok {
				return fmt.Errorf("question %d: multiple-choice correctAnswer must be an integer index, got %T", i, q.CorrectAnswer)
			}
			if idx < 0 || idx >= len(q.Options) {
				return fmt.Errorf("question %d: correctAnswer index %d out of range [0,%d)", i, idx, len(q.Options))
			}
		case quizzes.QuestionTrueFalse:
			s, ok := q.CorrectAnswer.(string)
			if !ok {
				return fmt.Errorf("question %d: true-false correctAnswer must be a string literal, got %T", i, q.CorrectAnswer)
			}
			if s != "true" && s != "false" {
				return fmt.Errorf("question %d: true-false correctAnswer must be \"true\" or \"false\", got %q", i, s)
			}
		case quizzes.QuestionShortAnswer:
			s, ok := q.CorrectAnswer.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return fmt.Errorf("question %d: short-answer correctAnswer must be non-empty text", i)
			}
		default:
			return fmt.Errorf("question %d: unknown type %q", i, q.Type)
		}
	}
	return nil
}

// answerIndex accepts int or the float64 that encoding/json produces for
// numbers.
func answerIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
