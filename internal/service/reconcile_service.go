package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"dispatchpay/internal/config"
	"dispatchpay/internal/model"
	"dispatchpay/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrInvalidDateRange = errors.New("时间范围不合法")

const defaultReconcileChunkSize = 1000

// ReconcileService 对账引擎（只读）
//
// 三个操作都按 [startAt, endAt) 半开窗口取数，只有 FINANCE / SUPER_ADMIN
// 角色可以调用。每次查询都尽力追加一条审计日志，审计写失败只打日志，
// 绝不让主查询失败或回滚
type ReconcileService struct {
	db        *gorm.DB
	cfg       *config.Config
	auditRepo *repository.AuditRepository
	chunkSize int
}

func NewReconcileService(db *gorm.DB, cfg *config.Config) *ReconcileService {
	chunkSize := cfg.Business.ReconcileChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultReconcileChunkSize
	}
	return &ReconcileService{
		db:        db,
		cfg:       cfg,
		auditRepo: repository.NewAuditRepository(db),
		chunkSize: chunkSize,
	}
}

// Operator 对账调用方身份，角色显式传入
type Operator struct {
	ID   int64  `json:"operator_id" binding:"required"`
	Role string `json:"operator_role" binding:"required"`
}

type SummaryRequest struct {
	Operator
	StartAt       time.Time `json:"start_at" binding:"required"`
	EndAt         time.Time `json:"end_at" binding:"required"`
	IncludeGifted bool      `json:"include_gifted"`
}

type SummaryResult struct {
	Income               decimal.Decimal `json:"income"`  // Σ 已付订单实付金额
	Expense              decimal.Decimal `json:"expense"` // Σ 结算收益 + 客服分成
	Net                  decimal.Decimal `json:"net"`
	OrderCount           int             `json:"order_count"`
	RefundCount          int             `json:"refund_count"`
	RefundCompletedCount int             `json:"refund_completed_count"` // 观察到冲正流水
	RefundPendingCount   int             `json:"refund_pending_count"`   // 尚未见到冲正流水
}

// Summary 窗口汇总：收入、支出、净额、退款完成/待处理
func (s *ReconcileService) Summary(ctx context.Context, req *SummaryRequest) (*SummaryResult, error) {
	if !model.CanAudit(req.Role) {
		return nil, ErrPermissionDenied
	}
	if !req.StartAt.Before(req.EndAt) {
		return nil, ErrInvalidDateRange
	}

	result := &SummaryResult{
		Income:  decimal.Zero,
		Expense: decimal.Zero,
		Net:     decimal.Zero,
	}

	// 汇总的各个子查询跑在同一个读事务里，避免单次汇总内部出现读偏斜
	err := s.db.Transaction(func(tx *gorm.DB) error {
		orderRepo := repository.NewOrderRepository(tx)
		settlementRepo := repository.NewSettlementRepository(tx)
		walletRepo := repository.NewWalletRepository(tx)

		orders, err := orderRepo.ListPaidInRange(ctx, req.StartAt, req.EndAt, req.IncludeGifted)
		if err != nil {
			return fmt.Errorf("查询订单失败: %w", err)
		}

		orderIDs := make([]int64, 0, len(orders))
		for _, order := range orders {
			result.Income = result.Income.Add(order.PaidAmount)
			orderIDs = append(orderIDs, order.ID)
		}
		result.OrderCount = len(orders)

		// 大 IN 查询分片，分片求和等于整体求和
		for _, chunk := range chunkInt64s(orderIDs, s.chunkSize) {
			settlements, err := settlementRepo.ListByOrderIDs(ctx, chunk)
			if err != nil {
				return fmt.Errorf("查询结算记录失败: %w", err)
			}
			for _, row := range settlements {
				result.Expense = result.Expense.Add(row.FinalEarnings).Add(row.CSEarnings)
			}
		}

		refunded, err := orderRepo.ListRefundedInRange(ctx, req.StartAt, req.EndAt)
		if err != nil {
			return fmt.Errorf("查询退款订单失败: %w", err)
		}
		result.RefundCount = len(refunded)

		refundedIDs := make([]int64, 0, len(refunded))
		for _, order := range refunded {
			refundedIDs = append(refundedIDs, order.ID)
		}

		reversedOrders := make(map[int64]bool)
		for _, chunk := range chunkInt64s(refundedIDs, s.chunkSize) {
			transactions, err := walletRepo.ListTransactionsByOrderIDs(ctx, chunk)
			if err != nil {
				return fmt.Errorf("查询流水失败: %w", err)
			}
			for _, trans := range transactions {
				if hasReversalMark(trans) && trans.OrderID != nil {
					reversedOrders[*trans.OrderID] = true
				}
			}
		}

		// 没有观察到冲正流水的退款一律算待处理——这是硬性审计规则
		for _, order := range refunded {
			if reversedOrders[order.ID] {
				result.RefundCompletedCount++
			} else {
				result.RefundPendingCount++
			}
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	result.Net = result.Income.Sub(result.Expense)

	s.writeAudit(ctx, req.Operator, "reconcile.summary", req)
	return result, nil
}

type OrdersRequest struct {
	Operator
	StartAt       time.Time `json:"start_at" binding:"required"`
	EndAt         time.Time `json:"end_at" binding:"required"`
	Page          int       `json:"page"`
	PageSize      int       `json:"page_size"`
	AutoSerial    string    `json:"auto_serial"` // 订单流水号过滤
	PlayerID      int64     `json:"player_id"`
	IncludeGifted bool      `json:"include_gifted"`
	OnlyAbnormal  bool      `json:"only_abnormal"`
}

type OrderRow struct {
	OrderID        int64           `json:"order_id"`
	OrderNo        string          `json:"order_no"`
	PlayerID       int64           `json:"player_id"`
	Status         string          `json:"status"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	TotalExpense   decimal.Decimal `json:"total_expense"`
	Profit         decimal.Decimal `json:"profit"`
	WorkerCount    int             `json:"worker_count"`
	Abnormal       bool            `json:"abnormal"`
	AbnormalReason string          `json:"abnormal_reason,omitempty"`
}

type OrdersResult struct {
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Total    int         `json:"total"`
	Rows     []*OrderRow `json:"rows"`
}

// Orders 逐单对账列表
// onlyAbnormal 是对完整计算结果的后置过滤，不是查询级过滤——
// 审计路径正确性优先于查询效率
func (s *ReconcileService) Orders(ctx context.Context, req *OrdersRequest) (*OrdersResult, error) {
	if !model.CanAudit(req.Role) {
		return nil, ErrPermissionDenied
	}
	if !req.StartAt.Before(req.EndAt) {
		return nil, ErrInvalidDateRange
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	var rows []*OrderRow
	err := s.db.Transaction(func(tx *gorm.DB) error {
		orderRepo := repository.NewOrderRepository(tx)

		orders, err := orderRepo.ListPaidInRange(ctx, req.StartAt, req.EndAt, req.IncludeGifted)
		if err != nil {
			return fmt.Errorf("查询订单失败: %w", err)
		}

		filtered := make([]*model.DispatchOrder, 0, len(orders))
		for _, order := range orders {
			if req.AutoSerial != "" && order.OrderNo != req.AutoSerial {
				continue
			}
			if req.PlayerID != 0 && order.PlayerID != req.PlayerID {
				continue
			}
			filtered = append(filtered, order)
		}

		orderIDs := make([]int64, 0, len(filtered))
		for _, order := range filtered {
			orderIDs = append(orderIDs, order.ID)
		}

		settlementsByOrder, transactionsByOrder, err := s.loadLedgerChunked(ctx, tx, orderIDs)
		if err != nil {
			return err
		}

		for _, order := range filtered {
			rows = append(rows, buildOrderRow(order, settlementsByOrder[order.ID], transactionsByOrder[order.ID]))
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	if req.OnlyAbnormal {
		abnormal := make([]*OrderRow, 0)
		for _, row := range rows {
			if row.Abnormal {
				abnormal = append(abnormal, row)
			}
		}
		rows = abnormal
	}

	total := len(rows)
	start := (req.Page - 1) * req.PageSize
	if start > total {
		start = total
	}
	end := start + req.PageSize
	if end > total {
		end = total
	}

	s.writeAudit(ctx, req.Operator, "reconcile.orders", req)

	return &OrdersResult{
		Page:     req.Page,
		PageSize: req.PageSize,
		Total:    total,
		Rows:     rows[start:end],
	}, nil
}

type OrderDetailRequest struct {
	Operator
	OrderID    int64  `json:"order_id"`
	AutoSerial string `json:"auto_serial"`
}

type OrderDetailResult struct {
	Order        *model.DispatchOrder       `json:"order"`
	Settlements  []*model.OrderSettlement   `json:"settlements"`
	Transactions []*model.WalletTransaction `json:"wallet_transactions"`
	Stats        *OrderRow                  `json:"stats"`
}

// OrderDetail 单笔订单的完整结算与流水历史（含冲正链），供人工审计
func (s *ReconcileService) OrderDetail(ctx context.Context, req *OrderDetailRequest) (*OrderDetailResult, error) {
	if !model.CanAudit(req.Role) {
		return nil, ErrPermissionDenied
	}
	if req.OrderID == 0 && req.AutoSerial == "" {
		return nil, errors.New("缺少订单标识")
	}

	result := &OrderDetailResult{}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		orderRepo := repository.NewOrderRepository(tx)
		settlementRepo := repository.NewSettlementRepository(tx)
		walletRepo := repository.NewWalletRepository(tx)

		var order *model.DispatchOrder
		var err error
		if req.OrderID != 0 {
			order, err = orderRepo.GetByID(ctx, req.OrderID)
		} else {
			order, err = orderRepo.GetByOrderNo(ctx, req.AutoSerial)
		}
		if err != nil {
			return err
		}

		settlements, err := settlementRepo.ListByOrderID(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("查询结算记录失败: %w", err)
		}

		transactions, err := walletRepo.ListTransactionsByOrderID(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("查询流水失败: %w", err)
		}

		result.Order = order
		result.Settlements = settlements
		result.Transactions = transactions
		result.Stats = buildOrderRow(order, settlements, transactions)
		return nil
	})

	if err != nil {
		return nil, err
	}

	s.writeAudit(ctx, req.Operator, "reconcile.order_detail", req)
	return result, nil
}

// loadLedgerChunked 按分片批量拉取结算与流水，再按订单归组
func (s *ReconcileService) loadLedgerChunked(ctx context.Context, tx *gorm.DB, orderIDs []int64) (
	map[int64][]*model.OrderSettlement, map[int64][]*model.WalletTransaction, error,
) {
	settlementRepo := repository.NewSettlementRepository(tx)
	walletRepo := repository.NewWalletRepository(tx)

	settlementsByOrder := make(map[int64][]*model.OrderSettlement)
	transactionsByOrder := make(map[int64][]*model.WalletTransaction)

	for _, chunk := range chunkInt64s(orderIDs, s.chunkSize) {
		settlements, err := settlementRepo.ListByOrderIDs(ctx, chunk)
		if err != nil {
			return nil, nil, fmt.Errorf("查询结算记录失败: %w", err)
		}
		for _, row := range settlements {
			settlementsByOrder[row.OrderID] = append(settlementsByOrder[row.OrderID], row)
		}

		transactions, err := walletRepo.ListTransactionsByOrderIDs(ctx, chunk)
		if err != nil {
			return nil, nil, fmt.Errorf("查询流水失败: %w", err)
		}
		for _, trans := range transactions {
			if trans.OrderID != nil {
				transactionsByOrder[*trans.OrderID] = append(transactionsByOrder[*trans.OrderID], trans)
			}
		}
	}

	return settlementsByOrder, transactionsByOrder, nil
}

// hasReversalMark 冲正判定：业务类型为退款冲正，或带有冲正回溯引用
func hasReversalMark(trans *model.WalletTransaction) bool {
	return trans.BizType == model.BizTypeRefundReversal || trans.ReversalOfTxID != nil
}

// buildOrderRow 单个订单的对账行：支出、利润、异常标记
func buildOrderRow(order *model.DispatchOrder, settlements []*model.OrderSettlement, transactions []*model.WalletTransaction) *OrderRow {
	totalExpense := decimal.Zero
	for _, row := range settlements {
		totalExpense = totalExpense.Add(row.FinalEarnings).Add(row.CSEarnings)
	}

	row := &OrderRow{
		OrderID:      order.ID,
		OrderNo:      order.OrderNo,
		PlayerID:     order.PlayerID,
		Status:       order.Status,
		PaidAmount:   order.PaidAmount,
		TotalExpense: totalExpense,
		Profit:       order.PaidAmount.Sub(totalExpense),
		WorkerCount:  len(settlements),
	}

	switch {
	case !order.IsPaid:
		row.Abnormal = true
		row.AbnormalReason = "未支付订单出现在对账范围内"
	case totalExpense.GreaterThan(order.PaidAmount):
		row.Abnormal = true
		row.AbnormalReason = "支出超过实付金额"
	case order.Status == model.OrderStatusRefunded && !hasCompletedReversal(transactions):
		row.Abnormal = true
		row.AbnormalReason = "已退款但未见冲正流水"
	}

	return row
}

func hasCompletedReversal(transactions []*model.WalletTransaction) bool {
	for _, trans := range transactions {
		if hasReversalMark(trans) {
			return true
		}
	}
	return false
}

// writeAudit 尽力而为的审计日志，失败只打日志
func (s *ReconcileService) writeAudit(ctx context.Context, operator Operator, action string, params interface{}) {
	paramsBytes, _ := json.Marshal(params)
	entry := &model.FinanceAuditLog{
		OperatorID:   operator.ID,
		OperatorRole: operator.Role,
		Action:       action,
		Params:       string(paramsBytes),
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		log.Printf("[ReconcileService] 审计日志写入失败（不影响查询）: action=%s, err=%v", action, err)
	}
}

// chunkInt64s 把 ID 集合按 size 分片，分片聚合结果必须等于整体聚合
func chunkInt64s(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = defaultReconcileChunkSize
	}
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
