package model

import (
	"time"
)

// 财务审计角色
const (
	RoleFinance    = "FINANCE"
	RoleSuperAdmin = "SUPER_ADMIN"
)

// CanAudit 对账操作的权限检查，显式传入角色，不依赖请求上下文注入
func CanAudit(role string) bool {
	return role == RoleFinance || role == RoleSuperAdmin
}

// FinanceAuditLog 财务审计日志表
// 每次对账查询都追加一条记录（谁、查了什么、什么时候）。
// 审计日志写入失败不影响查询本身——尽力而为，绝不回滚主操作
type FinanceAuditLog struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OperatorID   int64     `gorm:"index;not null" json:"operator_id"`
	OperatorRole string    `gorm:"type:varchar(32);not null" json:"operator_role"`
	Action       string    `gorm:"type:varchar(64);index;not null" json:"action"`
	Params       string    `gorm:"type:text" json:"params"` // 查询参数 JSON
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (FinanceAuditLog) TableName() string {
	return "finance_audit_log"
}
