package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	repofiles "github.com/yungbote/quizforge-backend/internal/data/repos/files"
	repojobs "github.com/yungbote/quizforge-backend/internal/data/repos/jobs"
	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/domain/files"
	"github.com/yungbote/quizforge-backend/internal/domain/jobs"
	"github.com/yungbote/quizforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
	"github.com/yungbote/quizforge-backend/internal/platform/apierr"
	"github.com/yungbote/quizforge-backend/internal/platform/parser"
	"github.com/yungbote/quizforge-backend/internal/platform/storage"
)

// ParseFailedPayload is the failure-callback body from the queue service.
type ParseFailedPayload struct {
	JobID   string `json:"job_id"`
	FileID  string `json:"file_id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ParseWebhookService lands async parse outcomes in the ledger. The queue
// service delivers at least once, so every transition is conditional on the
// row not already being terminal.
type ParseWebhookService interface {
	HandleComplete(ctx context.Context, result parser.Result) error
	HandleFailure(ctx context.Context, payload ParseFailedPayload) error
}

type parseWebhookService struct {
	log            *logger.Logger
	fileRepo       repofiles.FileRepo
	parsingJobRepo repojobs.ParsingJobRepo
	bucket         storage.BucketService
}

func NewParseWebhookService(
	log *logger.Logger,
	fileRepo repofiles.FileRepo,
	parsingJobRepo repojobs.ParsingJobRepo,
	bucket storage.BucketService,
) ParseWebhookService {
	return &parseWebhookService{
		log:            log.With("service", "ParseWebhookService"),
		fileRepo:       fileRepo,
		parsingJobRepo: parsingJobRepo,
		bucket:         bucket,
	}
}

func (ps *parseWebhookService) HandleComplete(ctx context.Context, result parser.Result) error {
	jobID, fileID, err := parseIdentifiers(result.JobID, result.FileID)
	if err != nil {
		return err
	}

	// Blob write before the status flip: a redelivered completion rewrites
	// identical bytes, which is harmless, while the conditional update below
	// keeps the observable transition single-shot.
	parsedKey := storage.ParsedKey(fileID)
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode parsed content: %w", err)
	}
	if err := ps.bucket.Put(ctx, parsedKey, "application/json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("store parsed content: %w", err)
	}

	dbc := dbctx.New(ctx)
	now := time.Now()
	metrics, _ := json.Marshal(map[string]any{
		"page_count": result.PageCount,
		"mode":       "queued",
	})
	changed, err := ps.parsingJobRepo.UpdateFieldsUnlessStatus(dbc, jobID,
		[]jobs.ParsingStatus{types.ParsingCompleted, types.ParsingFailed},
		map[string]interface{}{
			"status":       types.ParsingCompleted,
			"parsed_key":   parsedKey,
			"metrics":      datatypes.JSON(metrics),
			"completed_at": now,
		})
	if err != nil {
		return fmt.Errorf("complete parsing job: %w", err)
	}
	if !changed {
		ps.log.Info("Duplicate parse completion ignored", "job_id", jobID)
		return nil
	}
	if _, err := ps.fileRepo.UpdateFieldsUnlessStatus(dbc, fileID,
		[]files.Status{types.FileCompleted, types.FileError},
		map[string]interface{}{
			"status":     types.FileCompleted,
			"page_count": result.PageCount,
		}); err != nil {
		return fmt.Errorf("complete file: %w", err)
	}
	ps.log.Info("Parse completed", "file_id", fileID, "job_id", jobID, "pages", result.PageCount)
	return nil
}

func (ps *parseWebhookService) HandleFailure(ctx context.Context, payload ParseFailedPayload) error {
	jobID, fileID, err := parseIdentifiers(payload.JobID, payload.FileID)
	if err != nil {
		return err
	}
	msg := payload.Message
	if msg == "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = "parse failed"
	}

	dbc := dbctx.New(ctx)
	changed, err := ps.parsingJobRepo.UpdateFieldsUnlessStatus(dbc, jobID,
		[]jobs.ParsingStatus{types.ParsingCompleted, types.ParsingFailed},
		map[string]interface{}{
			"status":       types.ParsingFailed,
			"error":        msg,
			"completed_at": time.Now(),
		})
	if err != nil {
		return fmt.Errorf("fail parsing job: %w", err)
	}
	if !changed {
		ps.log.Info("Duplicate parse failure ignored", "job_id", jobID)
		return nil
	}
	if _, err := ps.fileRepo.UpdateFieldsUnlessStatus(dbc, fileID,
		[]files.Status{types.FileCompleted, types.FileError},
		map[string]interface{}{"status": types.FileError}); err != nil {
		return fmt.Errorf("mark file errored: %w", err)
	}
	ps.log.Warn("Parse failed", "file_id", fileID, "job_id", jobID, "error", msg)
	return nil
}

func parseIdentifiers(jobIDRaw, fileIDRaw string) (uuid.UUID, uuid.UUID, error) {
	if jobIDRaw == "" || fileIDRaw == "" {
		return uuid.Nil, uuid.Nil, apierr.New(http.StatusBadRequest, "missing_identifiers",
			fmt.Errorf("job_id and file_id are required"))
	}
	jobID, err := uuid.Parse(jobIDRaw)
	if err != nil {
		return uuid.Nil, uuid.Nil, apierr.New(http.StatusBadRequest, "invalid_job_id",
			fmt.Errorf("invalid job_id %q", jobIDRaw))
	}
	fileID, err := uuid.Parse(fileIDRaw)
	if err != nil {
		return uuid.Nil, uuid.Nil, apierr.New(http.StatusBadRequest, "invalid_file_id",
			fmt.Errorf("invalid file_id %q", fileIDRaw))
	}
	return jobID, fileID, nil
}
