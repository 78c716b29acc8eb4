package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusCreated    = "CREATED"
	OrderStatusDispatched = "DISPATCHED"
	OrderStatusInProgress = "IN_PROGRESS"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusArchived   = "ARCHIVED"
	OrderStatusRefunding  = "REFUNDING"
	OrderStatusRefunded   = "REFUNDED"
	OrderStatusCancelled  = "CANCELLED"
)

// ValidStatusTransitions 订单状态机
// 归档后的订单不可再变更，唯一例外是退款链路
var ValidStatusTransitions = map[string][]string{
	OrderStatusCreated:    {OrderStatusDispatched, OrderStatusCancelled},
	OrderStatusDispatched: {OrderStatusInProgress, OrderStatusCancelled},
	OrderStatusInProgress: {OrderStatusCompleted},
	OrderStatusCompleted:  {OrderStatusArchived, OrderStatusRefunding},
	OrderStatusArchived:   {OrderStatusRefunding},
	OrderStatusRefunding:  {OrderStatusRefunded},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// 订单类型
// EXPERIENCE / BLIND_BOX 走固定俱乐部抽成，其余按评级分成
const (
	OrderTypeNormal     = "NORMAL"
	OrderTypeExperience = "EXPERIENCE"
	OrderTypeBlindBox   = "BLIND_BOX"
)

// DispatchOrder 派单订单表
// paid_amount / base_amount 使用 decimal(18,2)，金额运算全部走 decimal，
// 避免浮点累计误差（对账的前提）
type DispatchOrder struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo     string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"` // 订单流水号（自动编号）
	PlayerID    int64           `gorm:"index;not null" json:"player_id"`                       // 下单玩家ID
	ClubID      int64           `gorm:"index;not null" json:"club_id"`                         // 所属俱乐部ID
	OrderType   string          `gorm:"type:varchar(32);not null;default:NORMAL" json:"order_type"`
	PaidAmount  decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"paid_amount"` // 实付金额
	BaseAmount  decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"base_amount"` // 保底金额
	IsPaid      bool            `gorm:"not null;default:false" json:"is_paid"`
	IsGifted    bool            `gorm:"not null;default:false" json:"is_gifted"` // 赠送单，默认不计入对账收入
	Status      string          `gorm:"type:varchar(20);index;not null" json:"status"`
	PaymentTime *time.Time      `gorm:"index" json:"payment_time"`
	CreatedAt   time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DispatchOrder) TableName() string {
	return "dispatch_order"
}
