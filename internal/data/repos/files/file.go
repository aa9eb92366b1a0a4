package files

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/domain/files"
	"github.com/yungbote/quizforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
)

type FileRepo interface {
	Create(dbc dbctx.Context, file *types.File) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.File, error)
	ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]*types.File, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsUnlessStatus applies updates only when the row is not in one
	// of the disallowed statuses. Returns whether a row changed. This is the
	// idempotency primitive for webhook redelivery.
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []files.Status, updates map[string]interface{}) (bool, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type fileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFileRepo(db *gorm.DB, baseLog *logger.Logger) FileRepo {
	return &fileRepo{db: db, log: baseLog.With("repo", "FileRepo")}
}

func (r *fileRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *fileRepo) Create(dbc dbctx.Context, file *types.File) error {
	if file == nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(file).Error
}

func (r *fileRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.File, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var f types.File
	err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *fileRepo) ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]*types.File, error) {
	var out []*types.File
	if ownerUserID == uuid.Nil {
		return out, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *fileRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.File{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *fileRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []files.Status, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.File{}).
		Where("id = ?", id)
	if len(disallowed) == 1 {
		q = q.Where("status <> ?", disallowed[0])
	} else if len(disallowed) > 1 {
		q = q.Where("status NOT IN ?", disallowed)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Delete removes the file row and its dependent ledger rows. Foreign keys are
// not enforced by the migrator, so the cascade is explicit.
func (r *fileRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", id).Delete(&types.ParsingJob{}).Error; err != nil {
			return err
		}
		if err := tx.Where("file_id = ?", id).Delete(&types.GenerationJob{}).Error; err != nil {
			return err
		}
		if err := tx.Where("file_id = ?", id).Delete(&types.QuizIndex{}).Error; err != nil {
			return err
		}
		if err := tx.Where("file_id = ?", id).Delete(&types.QuizDocument{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&types.File{}).Error
	})
}
