package configs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nndrao/stern-sub001/internal/domain"
	"github.com/nndrao/stern-sub001/internal/platform/logger"
)

// RecordRepo is the durable store for configuration records. It carries no
// business rules: put is a whole-record upsert, soft delete only stamps the
// deletion columns, and reads see their own writes on the same store.
type RecordRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, configID uuid.UUID, includeDeleted bool) (*domain.ConfigRecord, error)
	Save(ctx context.Context, tx *gorm.DB, rec *domain.ConfigRecord) error
	SoftDelete(ctx context.Context, tx *gorm.DB, configID uuid.UUID, deletedBy string, now time.Time) (bool, error)
	List(ctx context.Context, tx *gorm.DB, filter domain.RecordFilter, page domain.PageRequest) ([]*domain.ConfigRecord, error)
	Count(ctx context.Context, tx *gorm.DB, filter domain.RecordFilter) (int64, error)
	ListDeletedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*domain.ConfigRecord, error)
	PurgeDeletedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

type recordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRecordRepo(db *gorm.DB, baseLog *logger.Logger) RecordRepo {
	return &recordRepo{db: db, log: baseLog.With("repo", "ConfigRecordRepo")}
}

func (r *recordRepo) GetByID(ctx context.Context, tx *gorm.DB, configID uuid.UUID, includeDeleted bool) (*domain.ConfigRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	q := transaction.WithContext(ctx)
	if includeDeleted {
		q = q.Unscoped()
	}

	var results []*domain.ConfigRecord
	if err := q.Where("config_id = ?", configID).Limit(1).Find(&results).Error; err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

func (r *recordRepo) Save(ctx context.Context, tx *gorm.DB, rec *domain.ConfigRecord) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "config_id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
}

func (r *recordRepo) SoftDelete(ctx context.Context, tx *gorm.DB, configID uuid.UUID, deletedBy string, now time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	// The soft-delete scope keeps already-deleted rows out of the match, so
	// deleting twice reports not-found instead of re-stamping.
	res := transaction.WithContext(ctx).
		Model(&domain.ConfigRecord{}).
		Where("config_id = ?", configID).
		Updates(map[string]any{
			"deleted_at": now,
			"deleted_by": deletedBy,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *recordRepo) List(ctx context.Context, tx *gorm.DB, filter domain.RecordFilter, page domain.PageRequest) ([]*domain.ConfigRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*domain.ConfigRecord
	q := applyOrder(applyFilter(transaction.WithContext(ctx).Model(&domain.ConfigRecord{}), filter), page)
	if page.Paginated() {
		q = q.Offset((page.Page - 1) * page.Limit).Limit(page.Limit)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *recordRepo) Count(ctx context.Context, tx *gorm.DB, filter domain.RecordFilter) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var total int64
	if err := applyFilter(transaction.WithContext(ctx).Model(&domain.ConfigRecord{}), filter).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *recordRepo) ListDeletedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*domain.ConfigRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	// Batched cursor keeps the scan abandonable mid-way: a cancelled ctx
	// stops the next batch fetch instead of materializing everything.
	var results []*domain.ConfigRecord
	var batch []*domain.ConfigRecord
	err := transaction.WithContext(ctx).
		Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		FindInBatches(&batch, 200, func(_ *gorm.DB, _ int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results = append(results, batch...)
			return nil
		}).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *recordRepo) PurgeDeletedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Delete(&domain.ConfigRecord{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *recordRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
