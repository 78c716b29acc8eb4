package service

import (
	"context"
	"errors"
	"fmt"

	"dispatchpay/internal/model"
	"dispatchpay/internal/repository"
	"dispatchpay/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount   = errors.New("金额必须大于0")
	ErrNotFrozen       = errors.New("流水不在冻结状态")
	ErrAlreadyReversed = errors.New("流水已被冲正")
)

// TxRefs 流水的业务关联信息
type TxRefs struct {
	OrderID      *int64
	SettlementID *int64
	Remark       string
}

// WalletService 钱包账本服务
//
// 四个变更操作（入账/冻结/解冻/冲正）都是原子单元：
// 在一个数据库事务里行锁账户 -> 变更余额 -> 追加流水，
// 流水上的余额快照永远基于锁后读到的余额计算
type WalletService struct {
	db         *gorm.DB
	walletRepo *repository.WalletRepository
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{
		db:         db,
		walletRepo: repository.NewWalletRepository(db),
	}
}

func (s *WalletService) GetAccount(ctx context.Context, userID int64) (*model.WalletAccount, error) {
	return s.walletRepo.GetOrCreateAccount(ctx, userID)
}

func (s *WalletService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	return s.walletRepo.ListTransactionsByUserID(ctx, userID, page, pageSize)
}

// Credit 可用余额入账
func (s *WalletService) Credit(ctx context.Context, userID int64, amount decimal.Decimal, bizType string, refs TxRefs) (*model.WalletTransaction, error) {
	var trans *model.WalletTransaction
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		trans, err = s.creditInTx(ctx, tx, userID, amount, bizType, refs)
		return err
	})
	return trans, err
}

// Freeze 冻结入账（待争议期结束后解冻）
func (s *WalletService) Freeze(ctx context.Context, userID int64, amount decimal.Decimal, bizType string, refs TxRefs) (*model.WalletTransaction, error) {
	var trans *model.WalletTransaction
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		trans, err = s.freezeInTx(ctx, tx, userID, amount, bizType, refs)
		return err
	})
	return trans, err
}

// Release 解冻：冻结余额划转到可用余额，原流水 FROZEN -> AVAILABLE
func (s *WalletService) Release(ctx context.Context, frozenTxID int64) (*model.WalletTransaction, error) {
	var trans *model.WalletTransaction
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		trans, err = s.ReleaseInTx(ctx, tx, frozenTxID)
		return err
	})
	return trans, err
}

// Reverse 冲正：新建一笔恰好抵消原流水余额影响的流水，原流水置 REVERSED
func (s *WalletService) Reverse(ctx context.Context, originalTxID int64, remark string) (*model.WalletTransaction, error) {
	var trans *model.WalletTransaction
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		trans, err = s.reverseInTx(ctx, tx, originalTxID, remark)
		return err
	})
	return trans, err
}

// WithdrawReserve 提现预扣：从可用余额扣减，后续提现失败走冲正恢复
func (s *WalletService) WithdrawReserve(ctx context.Context, userID int64, amount decimal.Decimal, remark string) (*model.WalletTransaction, error) {
	var trans *model.WalletTransaction
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		trans, err = s.debitInTx(ctx, tx, userID, amount, model.BizTypeWithdrawReserve, TxRefs{Remark: remark})
		return err
	})
	return trans, err
}

// ============================================================
// 事务内实现
// 结算、退款服务在自己的事务里复用这些入口，保证
// “结算行 + 账本流水”要么全部落库要么全部不落
// ============================================================

func (s *WalletService) creditInTx(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal, bizType string, refs TxRefs) (*model.WalletTransaction, error) {
	return s.applyInTx(ctx, tx, userID, amount, bizType, model.DirectionIn, model.TxStatusAvailable, refs)
}

func (s *WalletService) freezeInTx(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal, bizType string, refs TxRefs) (*model.WalletTransaction, error) {
	return s.applyInTx(ctx, tx, userID, amount, bizType, model.DirectionIn, model.TxStatusFrozen, refs)
}

func (s *WalletService) debitInTx(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal, bizType string, refs TxRefs) (*model.WalletTransaction, error) {
	return s.applyInTx(ctx, tx, userID, amount, bizType, model.DirectionOut, model.TxStatusAvailable, refs)
}

// applyInTx 入账/冻结/扣减的公共路径
func (s *WalletService) applyInTx(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal, bizType, direction, status string, refs TxRefs) (*model.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	// 幂等：同 (订单, 用户, 业务类型) 的流水只允许一条，重跑直接返回已有流水
	if refs.OrderID != nil {
		existing, err := s.walletRepo.GetByOrderUserBiz(ctx, tx, *refs.OrderID, userID, bizType)
		if err != nil {
			return nil, fmt.Errorf("幂等检查失败: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	account, err := s.walletRepo.GetAccountForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("锁定账户失败: %w", err)
	}

	trans := &model.WalletTransaction{
		TxNo:         idgen.GenerateTransactionNo(),
		UserID:       userID,
		Direction:    direction,
		BizType:      bizType,
		Amount:       amount,
		Status:       status,
		OrderID:      refs.OrderID,
		SettlementID: refs.SettlementID,
		Remark:       refs.Remark,
	}

	availableDelta, frozenDelta := trans.BalanceEffect()
	if !frozenDelta.IsZero() {
		if err := s.walletRepo.AddFrozen(ctx, tx, userID, frozenDelta); err != nil {
			return nil, fmt.Errorf("变更冻结余额失败: %w", err)
		}
	}
	if !availableDelta.IsZero() {
		if err := s.walletRepo.AddAvailable(ctx, tx, userID, availableDelta); err != nil {
			return nil, fmt.Errorf("变更可用余额失败: %w", err)
		}
	}

	trans.AvailableAfter = account.AvailableBalance.Add(availableDelta)
	trans.FrozenAfter = account.FrozenBalance.Add(frozenDelta)

	if err := s.walletRepo.CreateTransaction(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}

	return trans, nil
}

func (s *WalletService) ReleaseInTx(ctx context.Context, tx *gorm.DB, frozenTxID int64) (*model.WalletTransaction, error) {
	trans, err := s.walletRepo.GetTransactionForUpdate(ctx, tx, frozenTxID)
	if err != nil {
		return nil, err
	}

	if trans.Status != model.TxStatusFrozen {
		return nil, ErrNotFrozen
	}

	if _, err := s.walletRepo.GetAccountForUpdate(ctx, tx, trans.UserID); err != nil {
		return nil, fmt.Errorf("锁定账户失败: %w", err)
	}

	if err := s.walletRepo.MoveFrozenToAvailable(ctx, tx, trans.UserID, trans.Amount); err != nil {
		return nil, fmt.Errorf("解冻划转失败: %w", err)
	}

	if err := s.walletRepo.UpdateTransactionStatus(ctx, tx, trans.ID, model.TxStatusFrozen, model.TxStatusAvailable); err != nil {
		return nil, fmt.Errorf("更新流水状态失败: %w", err)
	}

	trans.Status = model.TxStatusAvailable
	return trans, nil
}

func (s *WalletService) reverseInTx(ctx context.Context, tx *gorm.DB, originalTxID int64, remark string) (*model.WalletTransaction, error) {
	original, err := s.walletRepo.GetTransactionForUpdate(ctx, tx, originalTxID)
	if err != nil {
		return nil, err
	}

	if original.Status == model.TxStatusReversed {
		return nil, ErrAlreadyReversed
	}

	existing, err := s.walletRepo.GetReversalOf(ctx, tx, originalTxID)
	if err != nil {
		return nil, fmt.Errorf("查询冲正流水失败: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyReversed
	}

	account, err := s.walletRepo.GetAccountForUpdate(ctx, tx, original.UserID)
	if err != nil {
		return nil, fmt.Errorf("锁定账户失败: %w", err)
	}

	reversal := model.ReversalOf(original, idgen.GenerateTransactionNo())
	reversal.Remark = remark

	availableDelta, frozenDelta := reversal.BalanceEffect()
	if !frozenDelta.IsZero() {
		if err := s.walletRepo.AddFrozen(ctx, tx, original.UserID, frozenDelta); err != nil {
			return nil, fmt.Errorf("冲正冻结余额失败: %w", err)
		}
	}
	if !availableDelta.IsZero() {
		if err := s.walletRepo.AddAvailable(ctx, tx, original.UserID, availableDelta); err != nil {
			return nil, fmt.Errorf("冲正可用余额失败: %w", err)
		}
	}

	reversal.AvailableAfter = account.AvailableBalance.Add(availableDelta)
	reversal.FrozenAfter = account.FrozenBalance.Add(frozenDelta)

	if err := s.walletRepo.CreateTransaction(ctx, tx, reversal); err != nil {
		return nil, fmt.Errorf("记录冲正流水失败: %w", err)
	}

	if err := s.walletRepo.UpdateTransactionStatus(ctx, tx, original.ID, original.Status, model.TxStatusReversed); err != nil {
		return nil, fmt.Errorf("更新原流水状态失败: %w", err)
	}

	return reversal, nil
}
