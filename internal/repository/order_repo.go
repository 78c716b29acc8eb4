package repository

import (
	"context"
	"errors"
	"time"

	"dispatchpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("订单不存在")
	ErrOrderStatusInvalid = errors.New("订单状态不合法")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.DispatchOrder) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*model.DispatchOrder, error) {
	var order model.DispatchOrder
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.DispatchOrder, error) {
	var order model.DispatchOrder
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus 带状态机校验的条件更新，fromStatus 不匹配时视为状态非法
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.DispatchOrder{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}

	return nil
}

// ListPaidInRange 支付时间落在 [startAt, endAt) 内的已支付订单
// includeGifted 为 false 时排除赠送单
func (r *OrderRepository) ListPaidInRange(ctx context.Context, startAt, endAt time.Time, includeGifted bool) ([]*model.DispatchOrder, error) {
	var orders []*model.DispatchOrder
	query := r.db.WithContext(ctx).
		Where("is_paid = ? AND payment_time >= ? AND payment_time < ?", true, startAt, endAt)
	if !includeGifted {
		query = query.Where("is_gifted = ?", false)
	}
	err := query.Order("payment_time ASC").Find(&orders).Error
	return orders, err
}

// ListRefundedInRange 窗口内状态为 REFUNDED 的订单（对账退款口径）
func (r *OrderRepository) ListRefundedInRange(ctx context.Context, startAt, endAt time.Time) ([]*model.DispatchOrder, error) {
	var orders []*model.DispatchOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_time >= ? AND payment_time < ?", model.OrderStatusRefunded, startAt, endAt).
		Find(&orders).Error
	return orders, err
}
