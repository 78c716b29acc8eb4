package repository

import (
	"context"
	"errors"
	"time"

	"dispatchpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound     = errors.New("钱包账户不存在")
	ErrBalanceNotEnough    = errors.New("余额不足")
	ErrTransactionNotFound = errors.New("流水不存在")
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// ============================================================
// 账户
// ============================================================

func (r *WalletRepository) GetAccountByUserID(ctx context.Context, userID int64) (*model.WalletAccount, error) {
	var account model.WalletAccount
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetAccountForUpdate 行级锁取账户，必须在事务内调用
// 同一账户的并发变更在这里串行化，保证余额快照不会基于脏读计算
func (r *WalletRepository) GetAccountForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.WalletAccount, error) {
	var account model.WalletAccount
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreateAccount 按 user_id 幂等创建账户
func (r *WalletRepository) GetOrCreateAccount(ctx context.Context, userID int64) (*model.WalletAccount, error) {
	account, err := r.GetAccountByUserID(ctx, userID)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.WalletAccount{
		UserID:           userID,
		AvailableBalance: decimal.Zero,
		FrozenBalance:    decimal.Zero,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error

	if err != nil {
		return nil, err
	}

	return r.GetAccountByUserID(ctx, userID)
}

// AddAvailable 可用余额加减（amount 可为负），减时用条件守住非负不变量
func (r *WalletRepository) AddAvailable(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) error {
	query := tx.WithContext(ctx).
		Model(&model.WalletAccount{}).
		Where("user_id = ?", userID)
	if amount.IsNegative() {
		query = query.Where("available_balance >= ?", amount.Neg())
	}

	result := query.Updates(map[string]interface{}{
		"available_balance": gorm.Expr("available_balance + ?", amount),
		"version":           gorm.Expr("version + 1"),
	})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetAccountByUserID(ctx, userID); err != nil {
			return err
		}
		return ErrBalanceNotEnough
	}
	return nil
}

// AddFrozen 冻结余额加减（amount 可为负），同样守非负
func (r *WalletRepository) AddFrozen(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) error {
	query := tx.WithContext(ctx).
		Model(&model.WalletAccount{}).
		Where("user_id = ?", userID)
	if amount.IsNegative() {
		query = query.Where("frozen_balance >= ?", amount.Neg())
	}

	result := query.Updates(map[string]interface{}{
		"frozen_balance": gorm.Expr("frozen_balance + ?", amount),
		"version":        gorm.Expr("version + 1"),
	})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetAccountByUserID(ctx, userID); err != nil {
			return err
		}
		return ErrBalanceNotEnough
	}
	return nil
}

// MoveFrozenToAvailable 解冻：冻结余额减、可用余额加，一条 UPDATE 完成
func (r *WalletRepository) MoveFrozenToAvailable(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.WalletAccount{}).
		Where("user_id = ? AND frozen_balance >= ?", userID, amount).
		Updates(map[string]interface{}{
			"frozen_balance":    gorm.Expr("frozen_balance - ?", amount),
			"available_balance": gorm.Expr("available_balance + ?", amount),
			"version":           gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetAccountByUserID(ctx, userID); err != nil {
			return err
		}
		return ErrBalanceNotEnough
	}
	return nil
}

// ============================================================
// 流水（只追加）
// ============================================================

func (r *WalletRepository) CreateTransaction(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *WalletRepository) GetTransactionByID(ctx context.Context, id int64) (*model.WalletTransaction, error) {
	var trans model.WalletTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// GetTransactionForUpdate 行级锁取流水，用于解冻/冲正的状态迁移
func (r *WalletRepository) GetTransactionForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.WalletTransaction, error) {
	var trans model.WalletTransaction
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// GetByOrderUserBiz 幂等检查：同 (订单, 用户, 业务类型) 是否已有流水
func (r *WalletRepository) GetByOrderUserBiz(ctx context.Context, tx *gorm.DB, orderID, userID int64, bizType string) (*model.WalletTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.WalletTransaction
	err := tx.WithContext(ctx).
		Where("order_id = ? AND user_id = ? AND biz_type = ?", orderID, userID, bizType).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// GetReversalOf 查某笔流水是否已被冲正
func (r *WalletRepository) GetReversalOf(ctx context.Context, tx *gorm.DB, originalTxID int64) (*model.WalletTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.WalletTransaction
	err := tx.WithContext(ctx).
		Where("reversal_of_tx_id = ?", originalTxID).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// UpdateTransactionStatus 状态迁移（FROZEN->AVAILABLE / ->REVERSED）
// 流水内容不可变，允许变的只有 status 一列
func (r *WalletRepository) UpdateTransactionStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *WalletRepository) ListTransactionsByOrderID(ctx context.Context, orderID int64) ([]*model.WalletTransaction, error) {
	var transactions []*model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

// ListTransactionsByOrderIDs 批量查询，调用方负责分片
func (r *WalletRepository) ListTransactionsByOrderIDs(ctx context.Context, orderIDs []int64) ([]*model.WalletTransaction, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var transactions []*model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("order_id IN ?", orderIDs).
		Find(&transactions).Error
	return transactions, err
}

func (r *WalletRepository) ListTransactionsByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	var transactions []*model.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// ListFrozenBefore 指定时间之前创建、仍处于冻结状态的结算收益流水（解冻任务用）
func (r *WalletRepository) ListFrozenBefore(ctx context.Context, bizType string, before time.Time, limit int) ([]*model.WalletTransaction, error) {
	var transactions []*model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND biz_type = ? AND created_at < ?", model.TxStatusFrozen, bizType, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}
