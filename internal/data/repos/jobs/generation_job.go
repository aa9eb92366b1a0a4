package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/domain/jobs"
	"github.com/yungbote/quizforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
)

type GenerationJobRepo interface {
	Create(dbc dbctx.Context, job *types.GenerationJob) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error)
	GetLatestByFile(dbc dbctx.Context, fileID uuid.UUID) (*types.GenerationJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []jobs.GenerationStatus, updates map[string]interface{}) (bool, error)
	// IncrementRetry bumps retry_count atomically and returns the new value.
	IncrementRetry(dbc dbctx.Context, id uuid.UUID) (int, error)
}

type generationJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationJobRepo(db *gorm.DB, baseLog *logger.Logger) GenerationJobRepo {
	return &generationJobRepo{db: db, log: baseLog.With("repo", "GenerationJobRepo")}
}

func (r *generationJobRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *generationJobRepo) Create(dbc dbctx.Context, job *types.GenerationJob) error {
	if job == nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(job).Error
}

func (r *generationJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.GenerationJob
	err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *generationJobRepo) GetLatestByFile(dbc dbctx.Context, fileID uuid.UUID) (*types.GenerationJob, error) {
	if fileID == uuid.Nil {
		return nil, nil
	}
	var job types.GenerationJob
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("file_id = ?", fileID).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *generationJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.GenerationJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *generationJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []jobs.GenerationStatus, updates map[string]interface{}) (bool, error) {
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
		Model(&types.GenerationJob{}).
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

func (r *generationJobRepo) IncrementRetry(dbc dbctx.Context, id uuid.UUID) (int, error) {
	if id == uuid.Nil {
		return 0, nil
	}
	tx := r.handle(dbc).WithContext(dbc.Ctx)
	if err := tx.Model(&types.GenerationJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now(),
		}).Error; err != nil {
		return 0, err
	}
	var job types.GenerationJob
	if err := tx.Select("retry_count").Where("id = ?", id).First(&job).Error; err != nil {
		return 0, err
	}
	return job.RetryCount, nil
}
