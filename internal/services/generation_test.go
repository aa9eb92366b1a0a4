package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/domain/quizzes"
	"github.com/yungbote/quizforge-backend/internal/pkg/errs"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
	"github.com/yungbote/quizforge-backend/internal/platform/aiprov"
	"github.com/yungbote/quizforge-backend/internal/platform/apierr"
	"github.com/yungbote/quizforge-backend/internal/platform/parser"
	"github.com/yungbote/quizforge-backend/internal/platform/ratelimit"
	"github.com/yungbote/quizforge-backend/internal/platform/storage"
)

type generationFixture struct {
	svc      GenerationService
	files    *fakeFileRepo
	jobs     *fakeGenerationJobRepo
	parsing  *fakeParsingJobRepo
	docs     *fakeQuizDocRepo
	index    *fakeQuizIdxRepo
	bucket   *fakeBucket
	gateway  *fakeGateway
	provider *fakeProvider
	limiter  *fakeGenerationLimiter
	userID   uuid.UUID
	fileID   uuid.UUID
}

func validQuestions() []quizzes.Question {
	return []quizzes.Question{
		{
			ID:            "q1",
			Type:          quizzes.QuestionMultipleChoice,
			Question:      "What is 2 + 2?",
			Options:       []string{"3", "4", "5", "6"},
			CorrectAnswer: 1,
		},
		{
			ID:            "q2",
			Type:          quizzes.QuestionTrueFalse,
			Question:      "The sky is blue.",
			CorrectAnswer: "true",
		},
	}
}

func newGenerationFixture(t *testing.T) *generationFixture {
	t.Helper()
	fx := &generationFixture{
		files:   newFakeFileRepo(),
		jobs:    newFakeGenerationJobRepo(),
		parsing: newFakeParsingJobRepo(),
		docs:    newFakeQuizDocRepo(),
		index:   newFakeQuizIdxRepo(),
		bucket:  newFakeBucket(),
		gateway: &fakeGateway{},
		limiter: &fakeGenerationLimiter{decision: allowAll()},
		userID:  uuid.New(),
		fileID:  uuid.New(),
	}
	fx.provider = &fakeProvider{out: &aiprov.GenerateOutput{
		Topic:     "Arithmetic",
		Questions: validQuestions(),
		Model:     "gpt-4o-mini",
		Usage:     aiprov.Usage{PromptTokens: 800, CompletionTokens: 200, TotalTokens: 1000},
	}}
	registry := aiprov.NewRegistry()
	registry.Register(fx.provider)

	if err := fx.files.Create(dbctxBG(), &types.File{
		ID: fx.fileID, OwnerUserID: fx.userID, Status: types.FileCompleted,
	}); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	fx.storeParsed(t, parser.Result{
		Text:      "p1\n\np2\n\np3",
		PageCount: 3,
		Pages: []parser.Page{
			{Page: 1, Text: "p1"},
			{Page: 2, Text: "p2"},
			{Page: 3, Text: "p3"},
		},
	})

	fx.svc = NewGenerationService(logger.NewNop(),
		GenerationConfig{CallbackBaseURL: "https://api.example.com", InitialDelay: 5 * time.Second},
		fx.files, fx.jobs, fx.parsing, fx.docs, fx.index,
		fx.bucket, fx.gateway, registry, fx.limiter)
	return fx
}

func (fx *generationFixture) storeParsed(t *testing.T, result parser.Result) {
	t.Helper()
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("encode parsed: %v", err)
	}
	if err := fx.bucket.Put(context.Background(), storage.ParsedKey(fx.fileID), "application/json", strings.NewReader(string(raw))); err != nil {
		t.Fatalf("store parsed: %v", err)
	}
}

func (fx *generationFixture) request(t *testing.T, fromPage, toPage int, cfg quizzes.Config) (*types.GenerationJob, ProcessPayload) {
	t.Helper()
	job, err := fx.svc.RequestGeneration(context.Background(), fx.userID, fx.fileID, fromPage, toPage, cfg)
	if err != nil {
		t.Fatalf("request generation: %v", err)
	}
	return job, ProcessPayload{
		JobID:    job.ID.String(),
		FileID:   fx.fileID.String(),
		UserID:   fx.userID.String(),
		FromPage: fromPage,
		ToPage:   toPage,
		Config:   cfg,
	}
}

func TestRequestGenerationPreconditions(t *testing.T) {
	fx := newGenerationFixture(t)

	if _, err := fx.svc.RequestGeneration(context.Background(), fx.userID, uuid.New(), 0, 0, quizzes.Config{}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("missing file: got %v", err)
	}
	if _, err := fx.svc.RequestGeneration(context.Background(), uuid.New(), fx.fileID, 0, 0, quizzes.Config{}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign file: got %v", err)
	}

	pending := uuid.New()
	_ = fx.files.Create(dbctxBG(), &types.File{ID: pending, OwnerUserID: fx.userID, Status: types.FileProcessing})
	_, err := fx.svc.RequestGeneration(context.Background(), fx.userID, pending, 0, 0, quizzes.Config{})
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != 400 || ae.Code != "file_not_ready" {
		t.Fatalf("unparsed file: got %v", err)
	}

	_, err = fx.svc.RequestGeneration(context.Background(), fx.userID, fx.fileID, 5, 2, quizzes.Config{})
	if !errors.As(err, &ae) || ae.Code != "invalid_page_range" {
		t.Fatalf("inverted range: got %v", err)
	}
}

func TestRequestGenerationSchedulesProcessing(t *testing.T) {
	fx := newGenerationFixture(t)
	job, _ := fx.request(t, 0, 0, quizzes.Config{})

	if job.Status != types.GenerationQueued {
		t.Fatalf("job status %s, want queued", job.Status)
	}
	if len(fx.gateway.publishes) != 1 {
		t.Fatalf("expected one publish, got %d", len(fx.gateway.publishes))
	}
	pub := fx.gateway.publishes[0]
	if pub.url != "https://api.example.com/api/quiz/process" {
		t.Fatalf("publish url %q", pub.url)
	}
	if pub.opts.Delay != 5*time.Second {
		t.Fatalf("initial delay %v", pub.opts.Delay)
	}
	stored, _ := fx.jobs.GetByID(dbctxBG(), job.ID)
	if stored.QueueMessageID == nil {
		t.Fatalf("queue message id not stored")
	}
}

func TestRequestGenerationPublishFailureFailsJob(t *testing.T) {
	fx := newGenerationFixture(t)
	fx.gateway.publishErr = errors.New("queue service unavailable")

	_, err := fx.svc.RequestGeneration(context.Background(), fx.userID, fx.fileID, 0, 0, quizzes.Config{})
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != 500 || ae.Code != "enqueue_failed" {
		t.Fatalf("publish failure: got %v", err)
	}

	fx.jobs.mu.Lock()
	if len(fx.jobs.jobs) != 1 {
		fx.jobs.mu.Unlock()
		t.Fatalf("expected one job row, got %d", len(fx.jobs.jobs))
	}
	var job *types.GenerationJob
	for _, j := range fx.jobs.jobs {
		job = j
	}
	fx.jobs.mu.Unlock()
	if job.Status != types.GenerationFailed {
		t.Fatalf("job status %s, want failed", job.Status)
	}
	if !strings.Contains(job.Error, "enqueue failed") {
		t.Fatalf("job error %q", job.Error)
	}
}

func TestRequestGenerationPublishFailureInlineFallback(t *testing.T) {
	fx := newGenerationFixture(t)
	fx.gateway.publishErr = errors.New("queue service unavailable")
	registry := aiprov.NewRegistry()
	registry.Register(fx.provider)
	fx.svc = NewGenerationService(logger.NewNop(),
		GenerationConfig{CallbackBaseURL: "https://api.example.com", Development: true},
		fx.files, fx.jobs, fx.parsing, fx.docs, fx.index,
		fx.bucket, fx.gateway, registry, fx.limiter)

	job, err := fx.svc.RequestGeneration(context.Background(), fx.userID, fx.fileID, 0, 0, quizzes.Config{})
	if err != nil {
		t.Fatalf("fallback must still accept the request: %v", err)
	}
	if job.Status != types.GenerationQueued {
		t.Fatalf("job status %s, want queued", job.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, _ := fx.jobs.GetByID(dbctxBG(), job.ID)
		if stored != nil && stored.Status == types.GenerationCompleted {
			break
		}
		if time.Now().After(deadline) {
			status := types.GenerationStatus("missing")
			if stored != nil {
				status = stored.Status
			}
			t.Fatalf("inline processing never completed, status %s", status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	rows, _ := fx.index.ListByFile(dbctxBG(), fx.fileID)
	if len(rows) != 1 {
		t.Fatalf("inline fallback persisted %d quizzes", len(rows))
	}
}

func TestProcessRejectsForeignUserPayload(t *testing.T) {
	fx := newGenerationFixture(t)
	_, payload := fx.request(t, 0, 0, quizzes.Config{})
	payload.UserID = uuid.New().String()

	_, err := fx.svc.Process(context.Background(), payload)
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != 403 || ae.Code != "owner_mismatch" {
		t.Fatalf("foreign user payload: got %v", err)
	}
	if fx.provider.calls != 0 {
		t.Fatalf("provider must not run for a mismatched payload")
	}
	job, _ := fx.jobs.GetByID(dbctxBG(), uuid.MustParse(payload.JobID))
	if job.Status != types.GenerationQueued {
		t.Fatalf("job status %s, want queued", job.Status)
	}
}

func TestProcessSuccess(t *testing.T) {
	fx := newGenerationFixture(t)
	job, payload := fx.request(t, 0, 0, quizzes.Config{})

	res, err := fx.svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != "completed" || res.QuizID == nil {
		t.Fatalf("result %+v", res)
	}

	doc, _ := fx.docs.GetByID(dbctxBG(), *res.QuizID)
	if doc == nil || doc.Status != types.QuizReady {
		t.Fatalf("quiz document not persisted ready: %+v", doc)
	}
	var stored []quizzes.Question
	if err := json.Unmarshal(doc.Questions, &stored); err != nil || len(stored) != 2 {
		t.Fatalf("stored questions: %v %d", err, len(stored))
	}
	rows, _ := fx.index.ListByFile(dbctxBG(), fx.fileID)
	if len(rows) != 1 || rows[0].ID != doc.ID {
		t.Fatalf("index row missing")
	}

	final, _ := fx.jobs.GetByID(dbctxBG(), job.ID)
	if final.Status != types.GenerationCompleted {
		t.Fatalf("job status %s", final.Status)
	}
	var meta map[string]any
	if err := json.Unmarshal(final.Metadata, &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["quiz_id"] != doc.ID.String() {
		t.Fatalf("metadata quiz_id %v", meta["quiz_id"])
	}
	if cost, ok := meta["cost_usd"].(float64); !ok || cost != 1.0 {
		t.Fatalf("metadata cost %v", meta["cost_usd"])
	}
}

func TestProcessRetryBackoff(t *testing.T) {
	fx := newGenerationFixture(t)
	job, payload := fx.request(t, 0, 0, quizzes.Config{})
	fx.provider.err = &aiprov.ProviderError{Provider: "fake", Kind: aiprov.ErrTransient, Err: errors.New("upstream flake")}

	wantDelays := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}
	for i, want := range wantDelays {
		res, err := fx.svc.Process(context.Background(), payload)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if res.Status != "retrying" {
			t.Fatalf("attempt %d status %s", i, res.Status)
		}
		last := fx.gateway.publishes[len(fx.gateway.publishes)-1]
		if last.opts.Delay != want {
			t.Fatalf("attempt %d delay %v, want %v", i, last.opts.Delay, want)
		}
		stored, _ := fx.jobs.GetByID(dbctxBG(), job.ID)
		if stored.RetryCount != i+1 || stored.Status != types.GenerationQueued {
			t.Fatalf("attempt %d: retry=%d status=%s", i, stored.RetryCount, stored.Status)
		}
	}

	// Fourth attempt exhausts the budget.
	res, err := fx.svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if res.Status != "failed" {
		t.Fatalf("final status %s, want failed", res.Status)
	}
	final, _ := fx.jobs.GetByID(dbctxBG(), job.ID)
	if final.Status != types.GenerationFailed || final.RetryCount != types.MaxGenerationRetries {
		t.Fatalf("final job: %s retry=%d", final.Status, final.RetryCount)
	}
}

func TestProcessNonRetryableFailsImmediately(t *testing.T) {
	fx := newGenerationFixture(t)
	job, payload := fx.request(t, 0, 0, quizzes.Config{})
	fx.provider.err = &aiprov.ProviderError{Provider: "fake", Kind: aiprov.ErrQuotaExceeded, Err: errors.New("billing limit")}

	res, err := fx.svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != "failed" {
		t.Fatalf("status %s, want failed", res.Status)
	}
	final, _ := fx.jobs.GetByID(dbctxBG(), job.ID)
	if final.RetryCount != 0 {
		t.Fatalf("quota errors must not burn retries, got %d", final.RetryCount)
	}
}

func TestProcessRateLimitedReschedules(t *testing.T) {
	fx := newGenerationFixture(t)
	_, payload := fx.request(t, 0, 0, quizzes.Config{})
	fx.limiter.decision = ratelimit.Decision{Allowed: false, RetryAfter: 90 * time.Second}

	res, err := fx.svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != "rate_limited" || res.RetryInSec != 90 {
		t.Fatalf("result %+v", res)
	}
	if fx.provider.calls != 0 {
		t.Fatalf("provider must not be called while throttled")
	}
}

func TestProcessPageRangeNarrowing(t *testing.T) {
	fx := newGenerationFixture(t)
	_, payload := fx.request(t, 2, 3, quizzes.Config{})

	// Capture the text handed to the provider via a wrapper.
	var seen string
	capture := &capturingProvider{inner: fx.provider, text: &seen}
	registry := aiprov.NewRegistry()
	registry.Register(capture)
	fx.svc = NewGenerationService(logger.NewNop(),
		GenerationConfig{CallbackBaseURL: "https://api.example.com"},
		fx.files, fx.jobs, fx.parsing, fx.docs, fx.index,
		fx.bucket, fx.gateway, registry, fx.limiter)

	res, err := fx.svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != "completed" {
		t.Fatalf("status %s", res.Status)
	}
	if seen != "p2\n\np3" {
		t.Fatalf("provider text %q, want pages 2-3 only", seen)
	}
	doc, _ := fx.docs.GetByID(dbctxBG(), *res.QuizID)
	if doc.PageFrom != 2 || doc.PageTo != 3 {
		t.Fatalf("doc range [%d,%d]", doc.PageFrom, doc.PageTo)
	}
}

func TestProcessRangeWithoutBreakdownFallsBack(t *testing.T) {
	fx := newGenerationFixture(t)
	fx.storeParsed(t, parser.Result{Text: "whole document", PageCount: 3})
	_, payload := fx.request(t, 2, 3, quizzes.Config{})

	res, err := fx.svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != "completed" {
		t.Fatalf("status %s", res.Status)
	}
	doc, _ := fx.docs.GetByID(dbctxBG(), *res.QuizID)
	if doc.PageFrom != 0 || doc.PageTo != 0 {
		t.Fatalf("degraded range must be recorded as whole-document, got [%d,%d]", doc.PageFrom, doc.PageTo)
	}
	job, _ := fx.jobs.GetByID(dbctxBG(), uuid.MustParse(payload.JobID))
	var meta map[string]any
	if err := json.Unmarshal(job.Metadata, &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["range_degraded"] != true {
		t.Fatalf("range_degraded flag not recorded")
	}
}

func TestProcessTerminalJobRedelivery(t *testing.T) {
	fx := newGenerationFixture(t)
	_, payload := fx.request(t, 0, 0, quizzes.Config{})

	if _, err := fx.svc.Process(context.Background(), payload); err != nil {
		t.Fatalf("first process: %v", err)
	}
	calls := fx.provider.calls

	res, err := fx.svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Status != string(types.GenerationCompleted) {
		t.Fatalf("redelivery status %s", res.Status)
	}
	if fx.provider.calls != calls {
		t.Fatalf("redelivery must not call the provider again")
	}
	rows, _ := fx.index.ListByFile(dbctxBG(), fx.fileID)
	if len(rows) != 1 {
		t.Fatalf("redelivery created %d quizzes", len(rows))
	}
}

type capturingProvider struct {
	inner *fakeProvider
	text  *string
}

func (p *capturingProvider) Name() string { return p.inner.Name() }

func (p *capturingProvider) GenerateQuiz(ctx context.Context, in aiprov.GenerateInput) (*aiprov.GenerateOutput, error) {
	*p.text = in.Text
	return p.inner.GenerateQuiz(ctx, in)
}

func (p *capturingProvider) ValidateResponse(out *aiprov.GenerateOutput) error {
	return p.inner.ValidateResponse(out)
}

func (p *capturingProvider) CalculateCost(usage aiprov.Usage) float64 {
	return p.inner.CalculateCost(usage)
}
