package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	repofiles "github.com/yungbote/quizforge-backend/internal/data/repos/files"
	repojobs "github.com/yungbote/quizforge-backend/internal/data/repos/jobs"
	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/quizforge-backend/internal/pkg/errs"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
	"github.com/yungbote/quizforge-backend/internal/platform/storage"
)

// FileStatusView is the polling payload for an upload's parse progress.
// Message is always non-empty; HasContent reflects the blob store, not the
// ledger's status column.
type FileStatusView struct {
	FileID     uuid.UUID          `json:"file_id"`
	Status     types.ParsingStatus `json:"status"`
	Progress   int                `json:"progress"`
	Message    string             `json:"message"`
	Error      string             `json:"error,omitempty"`
	HasContent bool               `json:"has_content"`
	PageCount  *int               `json:"page_count,omitempty"`
}

type StatusService interface {
	GetStatus(ctx context.Context, userID, fileID uuid.UUID) (*FileStatusView, error)
}

type statusService struct {
	log            *logger.Logger
	fileRepo       repofiles.FileRepo
	parsingJobRepo repojobs.ParsingJobRepo
	bucket         storage.BucketService
}

func NewStatusService(
	log *logger.Logger,
	fileRepo repofiles.FileRepo,
	parsingJobRepo repojobs.ParsingJobRepo,
	bucket storage.BucketService,
) StatusService {
	return &statusService{
		log:            log.With("service", "StatusService"),
		fileRepo:       fileRepo,
		parsingJobRepo: parsingJobRepo,
		bucket:         bucket,
	}
}

func (ss *statusService) GetStatus(ctx context.Context, userID, fileID uuid.UUID) (*FileStatusView, error) {
	dbc := dbctx.New(ctx)
	file, err := ss.fileRepo.GetByID(dbc, fileID)
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	if file == nil {
		return nil, errs.ErrNotFound
	}
	if file.OwnerUserID != userID {
		return nil, errs.ErrForbidden
	}

	// The most recent parsing job is authoritative; the file row alone is the
	// fallback for rows created before any job existed.
	status := fileStatusAsParsing(file.Status)
	errMsg := ""
	job, err := ss.parsingJobRepo.GetLatestByFile(dbc, fileID)
	if err != nil {
		return nil, fmt.Errorf("load latest parsing job: %w", err)
	}
	if job != nil {
		status = job.Status
		errMsg = job.Error
	}

	view := &FileStatusView{
		FileID:    fileID,
		Status:    status,
		Error:     errMsg,
		PageCount: file.PageCount,
	}
	view.Progress, view.Message = projectParsing(status, errMsg)

	if _, herr := ss.bucket.Head(ctx, storage.ParsedKey(fileID)); herr == nil {
		view.HasContent = true
	} else if !errors.Is(herr, storage.ErrObjectNotFound) {
		ss.log.Warn("Parsed content head check failed", "file_id", fileID, "error", herr)
	}
	return view, nil
}

// projectParsing maps a parsing status onto the progress bar. Every branch
// produces a human-readable message.
func projectParsing(status types.ParsingStatus, errMsg string) (int, string) {
	switch status {
	case types.ParsingQueued:
		return 10, "Waiting for the document to be picked up"
	case types.ParsingProcessing:
		return 50, "Extracting text from the document"
	case types.ParsingCompleted:
		return 100, "Document parsed and ready for quiz generation"
	case types.ParsingFailed:
		if errMsg != "" {
			return 0, "Parsing failed: " + errMsg
		}
		return 0, "Parsing failed"
	}
	return 0, "Unknown parsing state"
}

func fileStatusAsParsing(s types.FileStatus) types.ParsingStatus {
	switch s {
	case types.FilePending:
		return types.ParsingQueued
	case types.FileProcessing:
		return types.ParsingProcessing
	case types.FileCompleted:
		return types.ParsingCompleted
	case types.FileError:
		return types.ParsingFailed
	}
	return types.ParsingQueued
}
