package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	repojobs "github.com/yungbote/quizforge-backend/internal/data/repos/jobs"
	repofiles "github.com/yungbote/quizforge-backend/internal/data/repos/files"
	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/domain/users"
	"github.com/yungbote/quizforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
	"github.com/yungbote/quizforge-backend/internal/platform/apierr"
	"github.com/yungbote/quizforge-backend/internal/platform/parser"
	"github.com/yungbote/quizforge-backend/internal/platform/ratelimit"
	"github.com/yungbote/quizforge-backend/internal/platform/storage"
)

const (
	// MaxUploadBytes is the hard upload ceiling.
	MaxUploadBytes int64 = 10 << 20
	// DirectParseThreshold routes small files to the synchronous parse path.
	DirectParseThreshold int64 = 2 << 20
)

var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// UploadInput is one multipart upload plus its required classification.
type UploadInput struct {
	DisplayName  string
	MimeType     string
	SizeBytes    int64
	Body         io.Reader
	Language     string
	Subject      string
	DocumentType string
}

// UploadResult reports how the upload was routed. ParseFailure is set only
// when a direct parse failed; File then carries status error and the handler
// maps the whole thing to a 422.
type UploadResult struct {
	File         *types.File         `json:"file"`
	Job          *types.ParsingJob   `json:"job"`
	Mode         string              `json:"mode"`
	MessageID    string              `json:"message_id,omitempty"`
	Parsed       *parser.Result      `json:"parsed,omitempty"`
	ParseFailure *parser.Failure     `json:"parse_failure,omitempty"`
}

type UploadService interface {
	Upload(ctx context.Context, userID uuid.UUID, tier users.Tier, in UploadInput) (*UploadResult, error)
}

type UploadConfig struct {
	// Development forces the direct parse path and enables the local
	// download URL resolver.
	Development bool
}

type uploadService struct {
	log            *logger.Logger
	cfg            UploadConfig
	fileRepo       repofiles.FileRepo
	parsingJobRepo repojobs.ParsingJobRepo
	bucket         storage.BucketService
	parserClient   parser.Client
	resolver       parser.URLResolver
	limiter        ratelimit.UploadLimiter
}

func NewUploadService(
	log *logger.Logger,
	cfg UploadConfig,
	fileRepo repofiles.FileRepo,
	parsingJobRepo repojobs.ParsingJobRepo,
	bucket storage.BucketService,
	parserClient parser.Client,
	resolver parser.URLResolver,
	limiter ratelimit.UploadLimiter,
) UploadService {
	return &uploadService{
		log:            log.With("service", "UploadService"),
		cfg:            cfg,
		fileRepo:       fileRepo,
		parsingJobRepo: parsingJobRepo,
		bucket:         bucket,
		parserClient:   parserClient,
		resolver:       resolver,
		limiter:        limiter,
	}
}

func (us *uploadService) Upload(ctx context.Context, userID uuid.UUID, tier users.Tier, in UploadInput) (*UploadResult, error) {
	if err := validateUpload(in); err != nil {
		return nil, err
	}

	decision, err := us.limiter.AllowUpload(ctx, userID, tier)
	if err != nil {
		return nil, fmt.Errorf("upload quota check: %w", err)
	}
	if !decision.Allowed {
		retryAfter := int(decision.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return nil, apierr.RateLimited("upload_quota_exceeded", retryAfter,
			fmt.Errorf("hourly upload limit reached"))
	}

	fileID := uuid.New()
	key := storage.UploadKey(fileID, in.DisplayName)
	if err := us.bucket.Put(ctx, key, in.MimeType, in.Body); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	dbc := dbctx.New(ctx)
	file := &types.File{
		ID:           fileID,
		OwnerUserID:  userID,
		DisplayName:  in.DisplayName,
		StorageKey:   key,
		SizeBytes:    in.SizeBytes,
		MimeType:     in.MimeType,
		Status:       types.FilePending,
		Language:     in.Language,
		Subject:      in.Subject,
		DocumentType: in.DocumentType,
	}
	if err := us.fileRepo.Create(dbc, file); err != nil {
		return nil, fmt.Errorf("create file row: %w", err)
	}
	job := &types.ParsingJob{
		ID:          uuid.New(),
		FileID:      fileID,
		OwnerUserID: userID,
		Status:      types.ParsingQueued,
	}
	if err := us.parsingJobRepo.Create(dbc, job); err != nil {
		return nil, fmt.Errorf("create parsing job: %w", err)
	}

	req := parser.BuildRequest(us.resolver, parser.FileRef{
		FileID:      fileID,
		StorageKey:  key,
		DisplayName: in.DisplayName,
		MimeType:    in.MimeType,
	}, parser.Classification{
		Language:     in.Language,
		Subject:      in.Subject,
		DocumentType: in.DocumentType,
	})

	if us.cfg.Development || in.SizeBytes < DirectParseThreshold {
		return us.parseDirect(ctx, file, job, req)
	}
	return us.enqueue(ctx, file, job, req)
}

func (us *uploadService) parseDirect(ctx context.Context, file *types.File, job *types.ParsingJob, req parser.Request) (*UploadResult, error) {
	dbc := dbctx.New(ctx)
	now := time.Now()
	if err := us.parsingJobRepo.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":     types.ParsingProcessing,
		"started_at": now,
	}); err != nil {
		us.log.Error("Failed to mark parsing job processing", "job_id", job.ID, "error", err)
	}
	if err := us.fileRepo.UpdateFields(dbc, file.ID, map[string]interface{}{
		"status": types.FileProcessing,
	}); err != nil {
		us.log.Error("Failed to mark file processing", "file_id", file.ID, "error", err)
	}

	outcome := us.parserClient.Parse(ctx, req)
	if !outcome.Success {
		us.failDirect(dbc, file, job, outcome.Failure)
		return &UploadResult{
			File:         file,
			Job:          job,
			Mode:         "direct",
			ParseFailure: outcome.Failure,
		}, nil
	}

	parsedKey := storage.ParsedKey(file.ID)
	raw, err := json.Marshal(outcome.Result)
	if err != nil {
		return nil, fmt.Errorf("encode parsed content: %w", err)
	}
	if err := us.bucket.Put(ctx, parsedKey, "application/json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("store parsed content: %w", err)
	}

	completedAt := time.Now()
	metrics, _ := json.Marshal(map[string]any{
		"page_count":  outcome.Result.PageCount,
		"duration_ms": completedAt.Sub(now).Milliseconds(),
		"mode":        "direct",
	})
	if err := us.parsingJobRepo.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":       types.ParsingCompleted,
		"parsed_key":   parsedKey,
		"metrics":      datatypes.JSON(metrics),
		"completed_at": completedAt,
	}); err != nil {
		return nil, fmt.Errorf("complete parsing job: %w", err)
	}
	if err := us.fileRepo.UpdateFields(dbc, file.ID, map[string]interface{}{
		"status":     types.FileCompleted,
		"page_count": outcome.Result.PageCount,
	}); err != nil {
		return nil, fmt.Errorf("complete file: %w", err)
	}
	file.Status = types.FileCompleted
	pc := outcome.Result.PageCount
	file.PageCount = &pc
	job.Status = types.ParsingCompleted
	job.ParsedKey = &parsedKey

	return &UploadResult{File: file, Job: job, Mode: "direct", Parsed: outcome.Result}, nil
}

func (us *uploadService) failDirect(dbc dbctx.Context, file *types.File, job *types.ParsingJob, failure *parser.Failure) {
	msg := "parse failed"
	if failure != nil {
		msg = failure.Message
		if msg == "" {
			msg = failure.Code
		}
	}
	completedAt := time.Now()
	if err := us.parsingJobRepo.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":       types.ParsingFailed,
		"error":        msg,
		"completed_at": completedAt,
	}); err != nil {
		us.log.Error("Failed to mark parsing job failed", "job_id", job.ID, "error", err)
	}
	if err := us.fileRepo.UpdateFields(dbc, file.ID, map[string]interface{}{
		"status": types.FileError,
	}); err != nil {
		us.log.Error("Failed to mark file errored", "file_id", file.ID, "error", err)
	}
	file.Status = types.FileError
	job.Status = types.ParsingFailed
	job.Error = msg
}

func (us *uploadService) enqueue(ctx context.Context, file *types.File, job *types.ParsingJob, req parser.Request) (*UploadResult, error) {
	messageID, err := us.parserClient.Enqueue(ctx, req, job.ID, file.ID)
	if err != nil {
		dbc := dbctx.New(ctx)
		_ = us.parsingJobRepo.UpdateFields(dbc, job.ID, map[string]interface{}{
			"status": types.ParsingFailed,
			"error":  "enqueue failed: " + err.Error(),
		})
		_ = us.fileRepo.UpdateFields(dbc, file.ID, map[string]interface{}{
			"status": types.FileError,
		})
		return nil, apierr.New(http.StatusInternalServerError, "enqueue_failed",
			fmt.Errorf("queue parse request: %w", err))
	}
	if err := us.parsingJobRepo.UpdateFields(dbctx.New(ctx), job.ID, map[string]interface{}{
		"queue_message_id": messageID,
	}); err != nil {
		us.log.Warn("Failed to store queue message id", "job_id", job.ID, "error", err)
	}
	job.QueueMessageID = &messageID
	us.log.Info("Upload queued for parsing", "file_id", file.ID, "job_id", job.ID, "message_id", messageID)
	return &UploadResult{File: file, Job: job, Mode: "queued", MessageID: messageID}, nil
}

func validateUpload(in UploadInput) error {
	if strings.TrimSpace(in.DisplayName) == "" || in.Body == nil {
		return apierr.New(http.StatusBadRequest, "missing_file", fmt.Errorf("a file is required"))
	}
	if strings.TrimSpace(in.Language) == "" || strings.TrimSpace(in.Subject) == "" || strings.TrimSpace(in.DocumentType) == "" {
		return apierr.New(http.StatusBadRequest, "missing_classification",
			fmt.Errorf("language, subject and documentType are required"))
	}
	if in.SizeBytes <= 0 {
		return apierr.New(http.StatusBadRequest, "empty_file", fmt.Errorf("file is empty"))
	}
	if in.SizeBytes > MaxUploadBytes {
		return apierr.New(http.StatusUnprocessableEntity, "file_too_large",
			fmt.Errorf("file exceeds the %d byte limit", MaxUploadBytes))
	}
	if !allowedMimeTypes[strings.ToLower(strings.TrimSpace(in.MimeType))] {
		return apierr.New(http.StatusUnprocessableEntity, "unsupported_file_type",
			fmt.Errorf("unsupported mime type %q", in.MimeType))
	}
	if !parser.IsValidLanguage(in.Language) {
		return apierr.New(http.StatusUnprocessableEntity, "invalid_language",
			fmt.Errorf("unsupported language %q", in.Language))
	}
	if !parser.IsValidSubject(in.Subject) {
		return apierr.New(http.StatusUnprocessableEntity, "invalid_subject",
			fmt.Errorf("unsupported subject %q", in.Subject))
	}
	if !parser.IsValidDocumentType(in.DocumentType) {
		return apierr.New(http.StatusUnprocessableEntity, "invalid_document_type",
			fmt.Errorf("unsupported document type %q", in.DocumentType))
	}
	return nil
}
