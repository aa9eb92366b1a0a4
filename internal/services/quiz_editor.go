package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	repoquizzes "github.com/yungbote/quizforge-backend/internal/data/repos/quizzes"
	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/domain/quizzes"
	"github.com/yungbote/quizforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/quizforge-backend/internal/pkg/errs"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
	"github.com/yungbote/quizforge-backend/internal/platform/aiprov"
	"github.com/yungbote/quizforge-backend/internal/platform/apierr"
)

// QuizMetaUpdate carries the editable quiz-level fields. Nil means leave
// unchanged.
type QuizMetaUpdate struct {
	Topic *string `json:"topic,omitempty"`
}

type QuizService interface {
	Get(ctx context.Context, userID, quizID uuid.UUID) (*types.QuizDocument, error)
	UpdateMeta(ctx context.Context, userID, quizID uuid.UUID, in QuizMetaUpdate) (*types.QuizDocument, error)
	UpdateQuestion(ctx context.Context, userID, quizID uuid.UUID, questionID string, q quizzes.Question) (*types.QuizDocument, error)
	AddQuestion(ctx context.Context, userID, quizID uuid.UUID, q quizzes.Question) (*types.QuizDocument, error)
	DeleteQuestion(ctx context.Context, userID, quizID uuid.UUID, questionID string) (*types.QuizDocument, error)
	// Reorder applies a full permutation of the question array. The order
	// slice holds current positions: order[i] is the index of the question
	// that moves to position i.
	Reorder(ctx context.Context, userID, quizID uuid.UUID, order []int) (*types.QuizDocument, error)
}

type quizService struct {
	log         *logger.Logger
	quizDocRepo repoquizzes.QuizDocumentRepo
	quizIdxRepo repoquizzes.QuizIndexRepo
}

func NewQuizService(log *logger.Logger, quizDocRepo repoquizzes.QuizDocumentRepo, quizIdxRepo repoquizzes.QuizIndexRepo) QuizService {
	return &quizService{
		log:         log.With("service", "QuizService"),
		quizDocRepo: quizDocRepo,
		quizIdxRepo: quizIdxRepo,
	}
}

func (qs *quizService) owned(ctx context.Context, userID, quizID uuid.UUID) (*types.QuizDocument, error) {
	doc, err := qs.quizDocRepo.GetByID(dbctx.New(ctx), quizID)
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	if doc == nil {
		return nil, errs.ErrNotFound
	}
	if doc.OwnerUserID != userID {
		return nil, errs.ErrForbidden
	}
	return doc, nil
}

func (qs *quizService) Get(ctx context.Context, userID, quizID uuid.UUID) (*types.QuizDocument, error) {
	return qs.owned(ctx, userID, quizID)
}

func (qs *quizService) UpdateMeta(ctx context.Context, userID, quizID uuid.UUID, in QuizMetaUpdate) (*types.QuizDocument, error) {
	doc, err := qs.owned(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	if in.Topic == nil {
		return doc, nil
	}
	topic := strings.TrimSpace(*in.Topic)
	if topic == "" {
		return nil, apierr.New(http.StatusBadRequest, "empty_topic", fmt.Errorf("topic must not be blank"))
	}
	dbc := dbctx.New(ctx)
	if err := qs.quizDocRepo.UpdateFields(dbc, quizID, map[string]interface{}{"topic": topic}); err != nil {
		return nil, fmt.Errorf("update quiz topic: %w", err)
	}
	if err := qs.quizIdxRepo.UpdateFields(dbc, quizID, map[string]interface{}{"topic": topic}); err != nil {
		return nil, fmt.Errorf("update quiz index topic: %w", err)
	}
	doc.Topic = topic
	return doc, nil
}

func (qs *quizService) UpdateQuestion(ctx context.Context, userID, quizID uuid.UUID, questionID string, q quizzes.Question) (*types.QuizDocument, error) {
	doc, err := qs.owned(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	questions, err := decodeQuestions(doc)
	if err != nil {
		return nil, err
	}
	idx := findQuestion(questions, questionID)
	if idx < 0 {
		return nil, errs.ErrNotFound
	}
	q.ID = questionID
	questions[idx] = q
	if err := aiprov.ValidateQuestions(questions); err != nil {
		return nil, apierr.New(http.StatusUnprocessableEntity, "invalid_question", err)
	}
	return qs.saveQuestions(ctx, doc, questions)
}

func (qs *quizService) AddQuestion(ctx context.Context, userID, quizID uuid.UUID, q quizzes.Question) (*types.QuizDocument, error) {
	doc, err := qs.owned(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	questions, err := decodeQuestions(doc)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(q.ID) == "" {
		q.ID = uuid.New().String()
	}
	if findQuestion(questions, q.ID) >= 0 {
		return nil, apierr.New(http.StatusConflict, "duplicate_question_id",
			fmt.Errorf("question %s already exists", q.ID))
	}
	questions = append(questions, q)
	if err := aiprov.ValidateQuestions(questions); err != nil {
		return nil, apierr.New(http.StatusUnprocessableEntity, "invalid_question", err)
	}
	return qs.saveQuestions(ctx, doc, questions)
}

func (qs *quizService) DeleteQuestion(ctx context.Context, userID, quizID uuid.UUID, questionID string) (*types.QuizDocument, error) {
	doc, err := qs.owned(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	questions, err := decodeQuestions(doc)
	if err != nil {
		return nil, err
	}
	idx := findQuestion(questions, questionID)
	if idx < 0 {
		return nil, errs.ErrNotFound
	}
	if len(questions) == 1 {
		return nil, apierr.New(http.StatusUnprocessableEntity, "last_question",
			fmt.Errorf("a quiz must keep at least one question"))
	}
	questions = append(questions[:idx], questions[idx+1:]...)
	return qs.saveQuestions(ctx, doc, questions)
}

func (qs *quizService) Reorder(ctx context.Context, userID, quizID uuid.UUID, order []int) (*types.QuizDocument, error) {
	doc, err := qs.owned(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	questions, err := decodeQuestions(doc)
	if err != nil {
		return nil, err
	}
	if err := validatePermutation(order, len(questions)); err != nil {
		return nil, err
	}
	reordered := make([]quizzes.Question, len(questions))
	for i, from := range order {
		reordered[i] = questions[from]
	}
	return qs.saveQuestions(ctx, doc, reordered)
}

func (qs *quizService) saveQuestions(ctx context.Context, doc *types.QuizDocument, questions []quizzes.Question) (*types.QuizDocument, error) {
	raw, err := json.Marshal(questions)
	if err != nil {
		return nil, fmt.Errorf("encode questions: %w", err)
	}
	if err := qs.quizDocRepo.UpdateFields(dbctx.New(ctx), doc.ID, map[string]interface{}{
		"questions": datatypes.JSON(raw),
	}); err != nil {
		return nil, fmt.Errorf("save questions: %w", err)
	}
	doc.Questions = datatypes.JSON(raw)
	return doc, nil
}

func decodeQuestions(doc *types.QuizDocument) ([]quizzes.Question, error) {
	var questions []quizzes.Question
	if len(doc.Questions) > 0 {
		if err := json.Unmarshal(doc.Questions, &questions); err != nil {
			return nil, fmt.Errorf("decode stored questions: %w", err)
		}
	}
	return questions, nil
}

func findQuestion(questions []quizzes.Question, id string) int {
	for i := range questions {
		if questions[i].ID == id {
			return i
		}
	}
	return -1
}

// validatePermutation rejects any order that is not a bijection over
// [0, n): wrong length, out-of-range index or a repeated index.
func validatePermutation(order []int, n int) error {
	if len(order) != n {
		return apierr.New(http.StatusBadRequest, "invalid_order_length",
			fmt.Errorf("order has %d entries, quiz has %d questions", len(order), n))
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n {
			return apierr.New(http.StatusBadRequest, "order_index_out_of_range",
				fmt.Errorf("index %d out of range", idx))
		}
		if seen[idx] {
			return apierr.New(http.StatusBadRequest, "order_index_repeated",
				fmt.Errorf("index %d appears more than once", idx))
		}
		seen[idx] = true
	}
	return nil
}
