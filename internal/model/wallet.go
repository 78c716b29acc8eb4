package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 资金方向
const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// 流水业务类型
const (
	BizTypeSettleEarning   = "SETTLE_EARNING"   // 结算收益入账（冻结）
	BizTypeRefundReversal  = "REFUND_REVERSAL"  // 退款冲正
	BizTypeWithdrawReserve = "WITHDRAW_RESERVE" // 提现预扣
	BizTypeManualAdjust    = "MANUAL_ADJUST"    // 人工调整
)

// 流水状态机：FROZEN -> AVAILABLE（解冻）
//             FROZEN -> REVERSED / AVAILABLE -> REVERSED（冲正，终态）
const (
	TxStatusFrozen    = "FROZEN"
	TxStatusAvailable = "AVAILABLE"
	TxStatusReversed  = "REVERSED"
)

// WalletAccount 打手钱包账户表
// 可用余额与冻结余额分开记账，两者任何时刻都不允许为负
type WalletAccount struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           int64           `gorm:"uniqueIndex;not null" json:"user_id"`
	AvailableBalance decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"available_balance"`
	FrozenBalance    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"frozen_balance"`
	Version          int             `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalletAccount) TableName() string {
	return "wallet_account"
}

// WalletTransaction 钱包流水表
//
// 流水表设计原则（对账的核心依据）：
// 1. 只追加，不修改，不删除 —— 修正历史只能通过新的冲正流水
// 2. 记录交易后的可用/冻结余额快照 —— 便于审计回放
// 3. (order_id, user_id, biz_type) 唯一 —— 结算任务重跑不会重复入账
type WalletTransaction struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TxNo           string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"tx_no"` // 流水号（全局唯一）
	UserID         int64           `gorm:"index;not null;uniqueIndex:uk_order_user_biz,priority:2" json:"user_id"`
	Direction      string          `gorm:"type:varchar(8);not null" json:"direction"`
	BizType        string          `gorm:"type:varchar(32);not null;uniqueIndex:uk_order_user_biz,priority:3" json:"biz_type"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"` // 恒为正数，方向看 direction
	Status         string          `gorm:"type:varchar(20);index;not null" json:"status"`
	OrderID        *int64          `gorm:"uniqueIndex:uk_order_user_biz,priority:1" json:"order_id,omitempty"`
	SettlementID   *int64          `gorm:"index" json:"settlement_id,omitempty"`
	ReversalOfTxID *int64          `gorm:"index" json:"reversal_of_tx_id,omitempty"` // 冲正目标流水ID（回溯引用）
	AvailableAfter decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"available_after"` // 交易后可用余额
	FrozenAfter    decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"frozen_after"`    // 交易后冻结余额
	Remark         string          `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transaction"
}

// SignedAmount 带符号金额：IN 为正，OUT 为负
func (t *WalletTransaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionOut {
		return t.Amount.Neg()
	}
	return t.Amount
}

// BalanceEffect 该流水对（可用余额, 冻结余额）的净影响
// FROZEN 流水只动冻结余额，其余只动可用余额
func (t *WalletTransaction) BalanceEffect() (available, frozen decimal.Decimal) {
	signed := t.SignedAmount()
	if t.Status == TxStatusFrozen {
		return decimal.Zero, signed
	}
	return signed, decimal.Zero
}

// ReversalOf 构造一笔恰好抵消 original 余额影响的冲正流水
// 冲正 FROZEN 流水减冻结余额，冲正 AVAILABLE 流水减可用余额
func ReversalOf(original *WalletTransaction, txNo string) *WalletTransaction {
	direction := DirectionOut
	if original.Direction == DirectionOut {
		direction = DirectionIn
	}
	status := TxStatusAvailable
	if original.Status == TxStatusFrozen {
		status = TxStatusFrozen
	}
	originalID := original.ID
	return &WalletTransaction{
		TxNo:           txNo,
		UserID:         original.UserID,
		Direction:      direction,
		BizType:        BizTypeRefundReversal,
		Amount:         original.Amount,
		Status:         status,
		OrderID:        original.OrderID,
		SettlementID:   original.SettlementID,
		ReversalOfTxID: &originalID,
	}
}
