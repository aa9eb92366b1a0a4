package quizzes

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
)

// QuizDocumentRepo is the document-store side: full quizzes with their
// question arrays as JSONB rows.
type QuizDocumentRepo interface {
	Create(dbc dbctx.Context, doc *types.QuizDocument) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.QuizDocument, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

// QuizIndexRepo is the thin relational mirror kept in the ledger for cheap
// listing.
type QuizIndexRepo interface {
	Create(dbc dbctx.Context, row *types.QuizIndex) error
	ListByFile(dbc dbctx.Context, fileID uuid.UUID) ([]*types.QuizIndex, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type quizDocumentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuizDocumentRepo(db *gorm.DB, baseLog *logger.Logger) QuizDocumentRepo {
	return &quizDocumentRepo{db: db, log: baseLog.With("repo", "QuizDocumentRepo")}
}

func (r *quizDocumentRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *quizDocumentRepo) Create(dbc dbctx.Context, doc *types.QuizDocument) error {
	if doc == nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(doc).Error
}

func (r *quizDocumentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.QuizDocument, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var doc types.QuizDocument
	err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *quizDocumentRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.QuizDocument{}).
		Where("id = ?", id).
		Updates(updates).Error
}

type quizIndexRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuizIndexRepo(db *gorm.DB, baseLog *logger.Logger) QuizIndexRepo {
	return &quizIndexRepo{db: db, log: baseLog.With("repo", "QuizIndexRepo")}
}

func (r *quizIndexRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *quizIndexRepo) Create(dbc dbctx.Context, row *types.QuizIndex) error {
	if row == nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *quizIndexRepo) ListByFile(dbc dbctx.Context, fileID uuid.UUID) ([]*types.QuizIndex, error) {
	var out []*types.QuizIndex
	if fileID == uuid.Nil {
		return out, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("file_id = ?", fileID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *quizIndexRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.QuizIndex{}).
		Where("id = ?", id).
		Updates(updates).Error
}
