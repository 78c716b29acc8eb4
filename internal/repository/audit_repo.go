package repository

import (
	"context"

	"dispatchpay/internal/model"

	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create 审计日志写入不参与业务事务，失败由调用方吞掉
func (r *AuditRepository) Create(ctx context.Context, entry *model.FinanceAuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *AuditRepository) ListByOperator(ctx context.Context, operatorID int64, page, pageSize int) ([]*model.FinanceAuditLog, int64, error) {
	var entries []*model.FinanceAuditLog
	var total int64

	query := r.db.WithContext(ctx).Model(&model.FinanceAuditLog{}).Where("operator_id = ?", operatorID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}
