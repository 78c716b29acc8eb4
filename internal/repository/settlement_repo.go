package repository

import (
	"context"
	"errors"

	"dispatchpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrSettlementNotFound = errors.New("结算记录不存在")

type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

func (r *SettlementRepository) Create(ctx context.Context, tx *gorm.DB, settlement *model.OrderSettlement) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(settlement).Error
}

func (r *SettlementRepository) GetByID(ctx context.Context, id int64) (*model.OrderSettlement, error) {
	var settlement model.OrderSettlement
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&settlement).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettlementNotFound
		}
		return nil, err
	}
	return &settlement, nil
}

func (r *SettlementRepository) ListByOrderID(ctx context.Context, orderID int64) ([]*model.OrderSettlement, error) {
	var settlements []*model.OrderSettlement
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&settlements).Error
	return settlements, err
}

// ListByOrderIDs 批量查询，调用方负责分片（见 service 层 chunkInt64s）
func (r *SettlementRepository) ListByOrderIDs(ctx context.Context, orderIDs []int64) ([]*model.OrderSettlement, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var settlements []*model.OrderSettlement
	err := r.db.WithContext(ctx).
		Where("order_id IN ?", orderIDs).
		Find(&settlements).Error
	return settlements, err
}

// UpdateStatusByOrderID 订单维度批量更新结算支付状态（退款冲正时置 REVERSED）
func (r *SettlementRepository) UpdateStatusByOrderID(ctx context.Context, tx *gorm.DB, orderID int64, fromStatus, toStatus string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.OrderSettlement{}).
		Where("order_id = ? AND payment_status = ?", orderID, fromStatus).
		Update("payment_status", toStatus).Error
}

// UpdatePaymentStatus 单行结算支付状态迁移（解冻任务 FROZEN -> PAID 用）
func (r *SettlementRepository) UpdatePaymentStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.OrderSettlement{}).
		Where("id = ? AND payment_status = ?", id, fromStatus).
		Update("payment_status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSettlementNotFound
	}
	return nil
}

// ApplyAdjustment 人工调整：manual_adjustment 累加 delta，final_earnings 同步累加
// 只能通过审计过的人工调整通道调用
func (r *SettlementRepository) ApplyAdjustment(ctx context.Context, tx *gorm.DB, id int64, delta decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.OrderSettlement{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"manual_adjustment": gorm.Expr("manual_adjustment + ?", delta),
			"final_earnings":    gorm.Expr("final_earnings + ?", delta),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSettlementNotFound
	}
	return nil
}
