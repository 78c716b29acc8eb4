package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SettlementStatusFrozen   = "FROZEN"   // 已结算，收益冻结中（争议期内）
	SettlementStatusPaid     = "PAID"     // 冻结期结束，收益已解冻
	SettlementStatusReversed = "REVERSED" // 订单退款，收益已冲正
)

// OrderSettlement 订单结算表
// 每个订单的每个参与打手一行，结算时一次性创建，之后只允许走
// 人工调整通道修改 manual_adjustment / final_earnings，永不删除
type OrderSettlement struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID            int64           `gorm:"not null;uniqueIndex:uk_order_worker,priority:1" json:"order_id"`
	OrderNo            string          `gorm:"type:varchar(64);index;not null" json:"order_no"`
	WorkerID           int64           `gorm:"not null;uniqueIndex:uk_order_worker,priority:2" json:"worker_id"`
	IsSupplement       bool            `gorm:"not null;default:false" json:"is_supplement"`                       // 补单（炸单补偿）参与者
	CalculatedEarnings decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"calculated_earnings"`  // 引擎计算收益
	ManualAdjustment   decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"manual_adjustment"`    // 人工调整金额
	FinalEarnings      decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"final_earnings"`       // 最终收益 = 计算收益 + 人工调整
	CSEarnings         decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"cs_earnings"`          // 客服分成
	PaymentStatus      string          `gorm:"type:varchar(20);index;not null;default:FROZEN" json:"payment_status"`
	SettledAt          time.Time       `gorm:"index;not null" json:"settled_at"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OrderSettlement) TableName() string {
	return "order_settlement"
}
