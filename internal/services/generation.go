package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	repofiles "github.com/yungbote/quizforge-backend/internal/data/repos/files"
	repojobs "github.com/yungbote/quizforge-backend/internal/data/repos/jobs"
	repoquizzes "github.com/yungbote/quizforge-backend/internal/data/repos/quizzes"
	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/domain/jobs"
	"github.com/yungbote/quizforge-backend/internal/domain/quizzes"
	"github.com/yungbote/quizforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/quizforge-backend/internal/pkg/errs"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
	"github.com/yungbote/quizforge-backend/internal/platform/aiprov"
	"github.com/yungbote/quizforge-backend/internal/platform/apierr"
	"github.com/yungbote/quizforge-backend/internal/platform/parser"
	"github.com/yungbote/quizforge-backend/internal/platform/qstash"
	"github.com/yungbote/quizforge-backend/internal/platform/ratelimit"
	"github.com/yungbote/quizforge-backend/internal/platform/storage"
)

// ProcessPayload is the body of the internal process webhook. It round-trips
// through the queue service, so it carries everything Process needs.
type ProcessPayload struct {
	JobID    string         `json:"job_id"`
	FileID   string         `json:"file_id"`
	UserID   string         `json:"user_id"`
	FromPage int            `json:"from_page,omitempty"`
	ToPage   int            `json:"to_page,omitempty"`
	Config   quizzes.Config `json:"config"`
}

// ProcessResult is what the process webhook reports back to the queue
// service. Status is one of completed, rate_limited, retrying or failed.
type ProcessResult struct {
	Status     string     `json:"status"`
	QuizID     *uuid.UUID `json:"quiz_id,omitempty"`
	RetryInSec int        `json:"retry_in_sec,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type GenerationService interface {
	// RequestGeneration validates preconditions, records a queued job and
	// schedules processing through the queue service.
	RequestGeneration(ctx context.Context, userID, fileID uuid.UUID, fromPage, toPage int, cfg quizzes.Config) (*types.GenerationJob, error)
	// Process runs one generation attempt. Called by the process webhook.
	Process(ctx context.Context, payload ProcessPayload) (*ProcessResult, error)
	GetJob(ctx context.Context, userID, jobID uuid.UUID) (*types.GenerationJob, error)
}

type GenerationConfig struct {
	// CallbackBaseURL is this system's externally reachable base URL.
	CallbackBaseURL string
	// Development enables the direct-invoke fallback when a publish fails.
	// Never set in production.
	Development bool
	// InitialDelay before the first process delivery.
	InitialDelay time.Duration
}

type generationService struct {
	log         *logger.Logger
	cfg         GenerationConfig
	fileRepo    repofiles.FileRepo
	jobRepo     repojobs.GenerationJobRepo
	parsingRepo repojobs.ParsingJobRepo
	quizDocRepo repoquizzes.QuizDocumentRepo
	quizIdxRepo repoquizzes.QuizIndexRepo
	bucket      storage.BucketService
	gateway     qstash.Gateway
	registry    *aiprov.Registry
	limiter     ratelimit.GenerationLimiter
}

func NewGenerationService(
	log *logger.Logger,
	cfg GenerationConfig,
	fileRepo repofiles.FileRepo,
	jobRepo repojobs.GenerationJobRepo,
	parsingRepo repojobs.ParsingJobRepo,
	quizDocRepo repoquizzes.QuizDocumentRepo,
	quizIdxRepo repoquizzes.QuizIndexRepo,
	bucket storage.BucketService,
	gateway qstash.Gateway,
	registry *aiprov.Registry,
	limiter ratelimit.GenerationLimiter,
) GenerationService {
	return &generationService{
		log:         log.With("service", "GenerationService"),
		cfg:         cfg,
		fileRepo:    fileRepo,
		jobRepo:     jobRepo,
		parsingRepo: parsingRepo,
		quizDocRepo: quizDocRepo,
		quizIdxRepo: quizIdxRepo,
		bucket:      bucket,
		gateway:     gateway,
		registry:    registry,
		limiter:     limiter,
	}
}

func (gs *generationService) RequestGeneration(ctx context.Context, userID, fileID uuid.UUID, fromPage, toPage int, cfg quizzes.Config) (*types.GenerationJob, error) {
	dbc := dbctx.New(ctx)
	file, err := gs.fileRepo.GetByID(dbc, fileID)
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	if file == nil {
		return nil, errs.ErrNotFound
	}
	if file.OwnerUserID != userID {
		return nil, errs.ErrForbidden
	}
	if file.Status != types.FileCompleted {
		return nil, apierr.New(http.StatusBadRequest, "file_not_ready",
			fmt.Errorf("file %s is %s, parsing must complete first", fileID, file.Status))
	}
	if fromPage < 0 || toPage < 0 || (toPage > 0 && fromPage > toPage) {
		return nil, apierr.New(http.StatusBadRequest, "invalid_page_range",
			fmt.Errorf("invalid page range [%d, %d]", fromPage, toPage))
	}

	job := &types.GenerationJob{
		ID:          uuid.New(),
		FileID:      fileID,
		OwnerUserID: userID,
		Status:      types.GenerationQueued,
	}
	if meta, err := json.Marshal(map[string]any{
		"from_page": fromPage,
		"to_page":   toPage,
		"config":    cfg,
	}); err == nil {
		job.Metadata = datatypes.JSON(meta)
	}
	if err := gs.jobRepo.Create(dbc, job); err != nil {
		return nil, fmt.Errorf("create generation job: %w", err)
	}

	payload := ProcessPayload{
		JobID:    job.ID.String(),
		FileID:   fileID.String(),
		UserID:   userID.String(),
		FromPage: fromPage,
		ToPage:   toPage,
		Config:   cfg,
	}
	if err := gs.schedule(ctx, payload, gs.cfg.InitialDelay); err != nil {
		if gs.cfg.Development {
			gs.log.Warn("Queue publish failed, processing inline (development fallback)",
				"job_id", job.ID, "error", err)
			go func() {
				bg, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				if _, perr := gs.Process(bg, payload); perr != nil {
					gs.log.Error("Inline generation failed", "job_id", job.ID, "error", perr)
				}
			}()
			return job, nil
		}
		_ = gs.jobRepo.UpdateFields(dbc, job.ID, map[string]interface{}{
			"status": types.GenerationFailed,
			"error":  "enqueue failed: " + err.Error(),
		})
		return nil, apierr.New(http.StatusInternalServerError, "enqueue_failed",
			fmt.Errorf("queue generation job: %w", err))
	}
	return job, nil
}

func (gs *generationService) schedule(ctx context.Context, payload ProcessPayload, delay time.Duration) error {
	url := strings.TrimRight(gs.cfg.CallbackBaseURL, "/") + "/api/quiz/process"
	messageID, err := gs.gateway.Publish(ctx, url, payload, qstash.PublishOptions{
		Delay:   delay,
		Retries: 3,
	})
	if err != nil {
		return err
	}
	jobID, _ := uuid.Parse(payload.JobID)
	_ = gs.jobRepo.UpdateFields(dbctx.New(ctx), jobID, map[string]interface{}{
		"queue_message_id": messageID,
	})
	return nil
}

func (gs *generationService) Process(ctx context.Context, payload ProcessPayload) (*ProcessResult, error) {
	jobID, err := uuid.Parse(payload.JobID)
	if err != nil || jobID == uuid.Nil {
		return nil, apierr.New(http.StatusBadRequest, "invalid_job_id",
			fmt.Errorf("invalid job_id %q", payload.JobID))
	}
	dbc := dbctx.New(ctx)
	job, err := gs.jobRepo.GetByID(dbc, jobID)
	if err != nil {
		return nil, fmt.Errorf("load generation job: %w", err)
	}
	if job == nil {
		return nil, errs.ErrNotFound
	}
	if payload.UserID != "" {
		uid, perr := uuid.Parse(payload.UserID)
		if perr != nil || uid != job.OwnerUserID {
			return nil, apierr.New(http.StatusForbidden, "owner_mismatch",
				fmt.Errorf("payload user %q does not own job %s", payload.UserID, job.ID))
		}
	}
	if job.Status.Terminal() {
		// Redelivery of an already settled job.
		return &ProcessResult{Status: string(job.Status)}, nil
	}

	changed, err := gs.jobRepo.UpdateFieldsUnlessStatus(dbc, jobID,
		[]jobs.GenerationStatus{types.GenerationCompleted, types.GenerationFailed},
		map[string]interface{}{
			"status":     types.GenerationProcessing,
			"started_at": time.Now(),
		})
	if err != nil {
		return nil, fmt.Errorf("mark job processing: %w", err)
	}
	if !changed {
		return &ProcessResult{Status: "completed"}, nil
	}

	cfg := withGenerationDefaults(payload.Config)

	decision, err := gs.limiter.AllowGeneration(ctx, job.OwnerUserID, cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("generation rate check: %w", err)
	}
	if !decision.Allowed {
		return gs.reschedule(ctx, job, payload, decision.RetryAfter, "rate_limited", "generation rate limit hit")
	}

	text, degraded, err := gs.loadContent(ctx, job.FileID, payload.FromPage, payload.ToPage)
	if err != nil {
		return gs.fail(dbc, job, fmt.Sprintf("load parsed content: %v", err))
	}
	if degraded {
		gs.log.Warn("Page range requested but no per-page breakdown, using full text",
			"job_id", job.ID, "from", payload.FromPage, "to", payload.ToPage)
	}

	provider, err := gs.registry.Resolve(cfg.Provider)
	if err != nil {
		return gs.fail(dbc, job, fmt.Sprintf("resolve provider: %v", err))
	}

	out, genErr := provider.GenerateQuiz(ctx, aiprov.GenerateInput{
		Text:                text,
		NumQuestions:        cfg.NumQuestions,
		Difficulty:          cfg.Difficulty,
		QuestionTypes:       cfg.QuestionTypes,
		Language:            cfg.Language,
		IncludeExplanations: cfg.IncludeExplanations == nil || *cfg.IncludeExplanations,
	})
	if genErr == nil {
		genErr = provider.ValidateResponse(out)
	}
	if genErr != nil {
		if aiprov.IsRetryable(genErr) && job.RetryCount < types.MaxGenerationRetries {
			delay := time.Duration(60*(1<<job.RetryCount)) * time.Second
			return gs.reschedule(ctx, job, payload, delay, "retrying", genErr.Error())
		}
		return gs.fail(dbc, job, genErr.Error())
	}

	quiz, err := gs.persistQuiz(dbc, job, payload, cfg, out, degraded)
	if err != nil {
		return nil, err
	}
	cost := provider.CalculateCost(out.Usage)
	meta, _ := json.Marshal(map[string]any{
		"quiz_id":        quiz.ID,
		"provider":       provider.Name(),
		"model":          out.Model,
		"tokens":         out.Usage,
		"cost_usd":       cost,
		"range_degraded": degraded,
	})
	if _, err := gs.jobRepo.UpdateFieldsUnlessStatus(dbc, job.ID,
		[]jobs.GenerationStatus{types.GenerationCompleted, types.GenerationFailed},
		map[string]interface{}{
			"status":       types.GenerationCompleted,
			"metadata":     datatypes.JSON(meta),
			"completed_at": time.Now(),
		}); err != nil {
		return nil, fmt.Errorf("complete generation job: %w", err)
	}
	gs.log.Info("Quiz generated", "job_id", job.ID, "quiz_id", quiz.ID,
		"questions", len(out.Questions), "cost_usd", cost)
	return &ProcessResult{Status: "completed", QuizID: &quiz.ID}, nil
}

func (gs *generationService) reschedule(ctx context.Context, job *types.GenerationJob, payload ProcessPayload, delay time.Duration, status, reason string) (*ProcessResult, error) {
	dbc := dbctx.New(ctx)
	if job.RetryCount >= types.MaxGenerationRetries {
		return gs.fail(dbc, job, "retry budget exhausted: "+reason)
	}
	if delay <= 0 {
		delay = time.Duration(60*(1<<job.RetryCount)) * time.Second
	}
	newCount, err := gs.jobRepo.IncrementRetry(dbc, job.ID)
	if err != nil {
		return nil, fmt.Errorf("increment retry: %w", err)
	}
	if err := gs.jobRepo.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status": types.GenerationQueued,
		"error":  reason,
	}); err != nil {
		return nil, fmt.Errorf("requeue job: %w", err)
	}
	if err := gs.schedule(ctx, payload, delay); err != nil {
		return gs.fail(dbc, job, "reschedule failed: "+err.Error())
	}
	gs.log.Warn("Generation rescheduled", "job_id", job.ID, "retry", newCount,
		"delay_s", int(delay.Seconds()), "reason", reason)
	return &ProcessResult{Status: status, RetryInSec: int(delay.Seconds())}, nil
}

func (gs *generationService) fail(dbc dbctx.Context, job *types.GenerationJob, reason string) (*ProcessResult, error) {
	if _, err := gs.jobRepo.UpdateFieldsUnlessStatus(dbc, job.ID,
		[]jobs.GenerationStatus{types.GenerationCompleted, types.GenerationFailed},
		map[string]interface{}{
			"status":       types.GenerationFailed,
			"error":        reason,
			"completed_at": time.Now(),
		}); err != nil {
		return nil, fmt.Errorf("fail generation job: %w", err)
	}
	gs.log.Error("Generation failed", "job_id", job.ID, "error", reason)
	return &ProcessResult{Status: "failed", Error: reason}, nil
}

// loadContent fetches the parsed document and narrows it to the requested
// page range. Degraded reports that a range was requested but the parser
// produced no per-page breakdown, so the full text was used instead.
func (gs *generationService) loadContent(ctx context.Context, fileID uuid.UUID, fromPage, toPage int) (string, bool, error) {
	rc, err := gs.bucket.Get(ctx, storage.ParsedKey(fileID))
	if err != nil {
		return "", false, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(io.LimitReader(rc, 64<<20))
	if err != nil {
		return "", false, err
	}
	var parsed parser.Result
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", false, fmt.Errorf("decode parsed content: %w", err)
	}

	rangeRequested := fromPage > 0 || toPage > 0
	if !rangeRequested {
		return parsed.Text, false, nil
	}
	if len(parsed.Pages) == 0 {
		return parsed.Text, true, nil
	}
	if fromPage <= 0 {
		fromPage = 1
	}
	if toPage <= 0 || toPage > len(parsed.Pages) {
		toPage = len(parsed.Pages)
	}
	var b strings.Builder
	for _, p := range parsed.Pages {
		if p.Page >= fromPage && p.Page <= toPage {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(p.Text)
		}
	}
	if b.Len() == 0 {
		return parsed.Text, true, nil
	}
	return b.String(), false, nil
}

func (gs *generationService) persistQuiz(dbc dbctx.Context, job *types.GenerationJob, payload ProcessPayload, cfg quizzes.Config, out *aiprov.GenerateOutput, degraded bool) (*types.QuizDocument, error) {
	questionsJSON, err := json.Marshal(out.Questions)
	if err != nil {
		return nil, fmt.Errorf("encode questions: %w", err)
	}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	fromPage, toPage := payload.FromPage, payload.ToPage
	if degraded {
		fromPage, toPage = 0, 0
	}
	doc := &types.QuizDocument{
		ID:          uuid.New(),
		FileID:      job.FileID,
		OwnerUserID: job.OwnerUserID,
		PageFrom:    fromPage,
		PageTo:      toPage,
		Topic:       out.Topic,
		Model:       out.Model,
		Status:      types.QuizReady,
		Config:      datatypes.JSON(configJSON),
		Questions:   datatypes.JSON(questionsJSON),
	}
	if err := gs.quizDocRepo.Create(dbc, doc); err != nil {
		return nil, fmt.Errorf("create quiz document: %w", err)
	}
	idx := &types.QuizIndex{
		ID:          doc.ID,
		FileID:      doc.FileID,
		OwnerUserID: doc.OwnerUserID,
		PageFrom:    doc.PageFrom,
		PageTo:      doc.PageTo,
		Topic:       doc.Topic,
		Model:       doc.Model,
		Status:      types.QuizReady,
	}
	if err := gs.quizIdxRepo.Create(dbc, idx); err != nil {
		return nil, fmt.Errorf("create quiz index row: %w", err)
	}
	return doc, nil
}

func (gs *generationService) GetJob(ctx context.Context, userID, jobID uuid.UUID) (*types.GenerationJob, error) {
	job, err := gs.jobRepo.GetByID(dbctx.New(ctx), jobID)
	if err != nil {
		return nil, fmt.Errorf("load generation job: %w", err)
	}
	if job == nil {
		return nil, errs.ErrNotFound
	}
	if job.OwnerUserID != userID {
		return nil, errs.ErrForbidden
	}
	return job, nil
}

// withGenerationDefaults fills unset config fields. Explanations default on.
func withGenerationDefaults(cfg quizzes.Config) quizzes.Config {
	if cfg.NumQuestions <= 0 {
		cfg.NumQuestions = 10
	}
	if cfg.NumQuestions > 50 {
		cfg.NumQuestions = 50
	}
	if cfg.Difficulty == "" {
		cfg.Difficulty = "mixed"
	}
	if len(cfg.QuestionTypes) == 0 {
		cfg.QuestionTypes = []string{
			string(types.QuestionMultipleChoice),
			string(types.QuestionTrueFalse),
		}
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.IncludeExplanations == nil {
		on := true
		cfg.IncludeExplanations = &on
	}
	return cfg
}
