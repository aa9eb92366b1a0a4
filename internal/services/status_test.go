package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/pkg/errs"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
	"github.com/yungbote/quizforge-backend/internal/platform/storage"
)

func TestGetStatusProjection(t *testing.T) {
	cases := []struct {
		status   types.ParsingStatus
		jobError string
		progress int
	}{
		{types.ParsingQueued, "", 10},
		{types.ParsingProcessing, "", 50},
		{types.ParsingCompleted, "", 100},
		{types.ParsingFailed, "scanner jam", 0},
	}
	for _, tc := range cases {
		files := newFakeFileRepo()
		parsing := newFakeParsingJobRepo()
		bucket := newFakeBucket()
		userID, fileID := uuid.New(), uuid.New()
		_ = files.Create(dbctxBG(), &types.File{ID: fileID, OwnerUserID: userID, Status: types.FileProcessing})
		_ = parsing.Create(dbctxBG(), &types.ParsingJob{
			ID: uuid.New(), FileID: fileID, Status: tc.status, Error: tc.jobError,
		})
		svc := NewStatusService(logger.NewNop(), files, parsing, bucket)

		view, err := svc.GetStatus(context.Background(), userID, fileID)
		if err != nil {
			t.Fatalf("%s: %v", tc.status, err)
		}
		if view.Progress != tc.progress {
			t.Fatalf("%s: progress %d, want %d", tc.status, view.Progress, tc.progress)
		}
		if view.Message == "" {
			t.Fatalf("%s: message must never be empty", tc.status)
		}
		if tc.jobError != "" && !strings.Contains(view.Message, tc.jobError) {
			t.Fatalf("%s: message %q must carry the stored error", tc.status, view.Message)
		}
		if view.HasContent {
			t.Fatalf("%s: no parsed blob exists yet", tc.status)
		}
	}
}

func TestGetStatusHasContentFromBlobStore(t *testing.T) {
	files := newFakeFileRepo()
	parsing := newFakeParsingJobRepo()
	bucket := newFakeBucket()
	userID, fileID := uuid.New(), uuid.New()
	_ = files.Create(dbctxBG(), &types.File{ID: fileID, OwnerUserID: userID, Status: types.FilePending})
	// Ledger still says queued, but the parsed artifact already landed.
	_ = parsing.Create(dbctxBG(), &types.ParsingJob{ID: uuid.New(), FileID: fileID, Status: types.ParsingQueued})
	_ = bucket.Put(context.Background(), storage.ParsedKey(fileID), "application/json", strings.NewReader(`{"text":"x"}`))

	svc := NewStatusService(logger.NewNop(), files, parsing, bucket)
	view, err := svc.GetStatus(context.Background(), userID, fileID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !view.HasContent {
		t.Fatalf("hasContent must come from the blob store, not the status column")
	}
}

func TestGetStatusOwnershipAndMissing(t *testing.T) {
	files := newFakeFileRepo()
	parsing := newFakeParsingJobRepo()
	bucket := newFakeBucket()
	userID, fileID := uuid.New(), uuid.New()
	_ = files.Create(dbctxBG(), &types.File{ID: fileID, OwnerUserID: userID, Status: types.FilePending})
	svc := NewStatusService(logger.NewNop(), files, parsing, bucket)

	if _, err := svc.GetStatus(context.Background(), userID, uuid.New()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("missing file: %v", err)
	}
	if _, err := svc.GetStatus(context.Background(), uuid.New(), fileID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign file: %v", err)
	}
}

func TestGetStatusFallsBackToFileRow(t *testing.T) {
	files := newFakeFileRepo()
	parsing := newFakeParsingJobRepo()
	bucket := newFakeBucket()
	userID, fileID := uuid.New(), uuid.New()
	_ = files.Create(dbctxBG(), &types.File{ID: fileID, OwnerUserID: userID, Status: types.FileCompleted})
	svc := NewStatusService(logger.NewNop(), files, parsing, bucket)

	view, err := svc.GetStatus(context.Background(), userID, fileID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != types.ParsingCompleted || view.Progress != 100 {
		t.Fatalf("fallback projection: %s %d", view.Status, view.Progress)
	}
}
