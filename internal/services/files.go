package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	repofiles "github.com/yungbote/quizforge-backend/internal/data/repos/files"
	repoquizzes "github.com/yungbote/quizforge-backend/internal/data/repos/quizzes"
	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/quizforge-backend/internal/pkg/errs"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
	"github.com/yungbote/quizforge-backend/internal/platform/parser"
	"github.com/yungbote/quizforge-backend/internal/platform/storage"
)

// FileView is file metadata plus, when parsing has finished, the parsed
// content and the quizzes generated from it.
type FileView struct {
	File    *types.File        `json:"file"`
	Parsed  *parser.Result     `json:"parsed,omitempty"`
	Quizzes []*types.QuizIndex `json:"quizzes,omitempty"`
}

// Download is a streamed blob plus the headers the handler needs.
type Download struct {
	Body        io.ReadCloser
	ContentType string
	DisplayName string
	SizeBytes   int64
}

type FileService interface {
	Get(ctx context.Context, userID, fileID uuid.UUID) (*FileView, error)
	List(ctx context.Context, userID uuid.UUID) ([]*types.File, error)
	// Download streams the original uploaded bytes. The parser fetches
	// through this endpoint in development.
	Download(ctx context.Context, userID, fileID uuid.UUID) (*Download, error)
	// Open streams without an ownership check. Only the development-mode
	// parser fetch route uses it; it is never mounted in production.
	Open(ctx context.Context, fileID uuid.UUID) (*Download, error)
	// Delete removes the blobs and cascades the ledger rows.
	Delete(ctx context.Context, userID, fileID uuid.UUID) error
}

type fileService struct {
	log         *logger.Logger
	fileRepo    repofiles.FileRepo
	quizIdxRepo repoquizzes.QuizIndexRepo
	bucket      storage.BucketService
}

func NewFileService(
	log *logger.Logger,
	fileRepo repofiles.FileRepo,
	quizIdxRepo repoquizzes.QuizIndexRepo,
	bucket storage.BucketService,
) FileService {
	return &fileService{
		log:         log.With("service", "FileService"),
		fileRepo:    fileRepo,
		quizIdxRepo: quizIdxRepo,
		bucket:      bucket,
	}
}

func (fs *fileService) owned(ctx context.Context, userID, fileID uuid.UUID) (*types.File, error) {
	file, err := fs.fileRepo.GetByID(dbctx.New(ctx), fileID)
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	if file == nil {
		return nil, errs.ErrNotFound
	}
	if file.OwnerUserID != userID {
		return nil, errs.ErrForbidden
	}
	return file, nil
}

func (fs *fileService) Get(ctx context.Context, userID, fileID uuid.UUID) (*FileView, error) {
	file, err := fs.owned(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	view := &FileView{File: file}

	if rc, err := fs.bucket.Get(ctx, storage.ParsedKey(fileID)); err == nil {
		raw, rerr := io.ReadAll(io.LimitReader(rc, 64<<20))
		rc.Close()
		if rerr == nil {
			var parsed parser.Result
			if json.Unmarshal(raw, &parsed) == nil {
				view.Parsed = &parsed
			}
		}
	} else if !errors.Is(err, storage.ErrObjectNotFound) {
		fs.log.Warn("Parsed content fetch failed", "file_id", fileID, "error", err)
	}

	quizzes, err := fs.quizIdxRepo.ListByFile(dbctx.New(ctx), fileID)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	view.Quizzes = quizzes
	return view, nil
}

func (fs *fileService) List(ctx context.Context, userID uuid.UUID) ([]*types.File, error) {
	return fs.fileRepo.ListByOwner(dbctx.New(ctx), userID)
}

func (fs *fileService) Download(ctx context.Context, userID, fileID uuid.UUID) (*Download, error) {
	file, err := fs.owned(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	return fs.open(ctx, file)
}

func (fs *fileService) Open(ctx context.Context, fileID uuid.UUID) (*Download, error) {
	file, err := fs.fileRepo.GetByID(dbctx.New(ctx), fileID)
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	if file == nil {
		return nil, errs.ErrNotFound
	}
	return fs.open(ctx, file)
}

func (fs *fileService) open(ctx context.Context, file *types.File) (*Download, error) {
	rc, err := fs.bucket.Get(ctx, file.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return &Download{
		Body:        rc,
		ContentType: file.MimeType,
		DisplayName: file.DisplayName,
		SizeBytes:   file.SizeBytes,
	}, nil
}

func (fs *fileService) Delete(ctx context.Context, userID, fileID uuid.UUID) error {
	file, err := fs.owned(ctx, userID, fileID)
	if err != nil {
		return err
	}

	// Blobs first. A missing object is fine, the upload may predate the
	// parsed artifact or a previous delete may have half-finished.
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range []string{file.StorageKey, storage.ParsedKey(fileID)} {
		key := key
		g.Go(func() error {
			if derr := fs.bucket.Delete(gctx, key); derr != nil && !errors.Is(derr, storage.ErrObjectNotFound) {
				return fmt.Errorf("delete blob %s: %w", key, derr)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := fs.fileRepo.Delete(dbctx.New(ctx), fileID); err != nil {
		return fmt.Errorf("delete file rows: %w", err)
	}
	fs.log.Info("File deleted", "file_id", fileID, "user_id", userID)
	return nil
}
