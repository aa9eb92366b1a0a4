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

type ParsingJobRepo interface {
	Create(dbc dbctx.Context, job *types.ParsingJob) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ParsingJob, error)
	// GetLatestByFile returns the most recently created job for a file, or nil
	// when none exists. The latest row is authoritative for status projection.
	GetLatestByFile(dbc dbctx.Context, fileID uuid.UUID) (*types.ParsingJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsUnlessStatus only applies updates when the job is not in a
	// disallowed status. Webhook handlers use it to make at-least-once
	// redelivery harmless: a second completion callback finds the job already
	// terminal and changes nothing.
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []jobs.ParsingStatus, updates map[string]interface{}) (bool, error)
}

type parsingJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewParsingJobRepo(db *gorm.DB, baseLog *logger.Logger) ParsingJobRepo {
	return &parsingJobRepo{db: db, log: baseLog.With("repo", "ParsingJobRepo")}
}

func (r *parsingJobRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *parsingJobRepo) Create(dbc dbctx.Context, job *types.ParsingJob) error {
	if job == nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(job).Error
}

func (r *parsingJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ParsingJob, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.ParsingJob
	err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *parsingJobRepo) GetLatestByFile(dbc dbctx.Context, fileID uuid.UUID) (*types.ParsingJob, error) {
	if fileID == uuid.Nil {
		return nil, nil
	}
	var job types.ParsingJob
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

func (r *parsingJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.ParsingJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *parsingJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []jobs.ParsingStatus, updates map[string]interface{}) (bool, error) {
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
		Model(&types.ParsingJob{}).
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
