package handler

import (
	"errors"
	"strconv"

	"dispatchpay/internal/config"
	"dispatchpay/internal/service"
	"dispatchpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	walletService     *service.WalletService
	settlementService *service.SettlementService
	refundService     *service.RefundService
	reconcileService  *service.ReconcileService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		walletService:     service.NewWalletService(db),
		settlementService: service.NewSettlementService(db, rdb, cfg),
		refundService:     service.NewRefundService(db, rdb, cfg),
		reconcileService:  service.NewReconcileService(db, cfg),
	}
}

// ============================================================
// 钱包相关接口
// ============================================================

// GetBalance 查询钱包余额
// GET /api/v1/wallet/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	account, err := h.walletService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"user_id":           account.UserID,
		"available_balance": account.AvailableBalance,
		"frozen_balance":    account.FrozenBalance,
	})
}

// ListTransactions 查询钱包流水
// GET /api/v1/wallet/transactions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.walletService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// WalletMutationRequest 入账/冻结请求
type WalletMutationRequest struct {
	UserID  int64           `json:"user_id" binding:"required"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
	BizType string          `json:"biz_type" binding:"required"`
	OrderID *int64          `json:"order_id"`
	Remark  string          `json:"remark"`
}

// Credit 可用余额入账
// POST /api/v1/wallet/credit
func (h *Handler) Credit(c *gin.Context) {
	var req WalletMutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.walletService.Credit(c.Request.Context(), req.UserID, req.Amount, req.BizType,
		service.TxRefs{OrderID: req.OrderID, Remark: req.Remark})
	if err != nil {
		h.walletError(c, err)
		return
	}

	response.Success(c, trans)
}

// Freeze 冻结入账
// POST /api/v1/wallet/freeze
func (h *Handler) Freeze(c *gin.Context) {
	var req WalletMutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.walletService.Freeze(c.Request.Context(), req.UserID, req.Amount, req.BizType,
		service.TxRefs{OrderID: req.OrderID, Remark: req.Remark})
	if err != nil {
		h.walletError(c, err)
		return
	}

	response.Success(c, trans)
}

// Release 解冻
// POST /api/v1/wallet/release
func (h *Handler) Release(c *gin.Context) {
	var req struct {
		TxID int64 `json:"tx_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.walletService.Release(c.Request.Context(), req.TxID)
	if err != nil {
		h.walletError(c, err)
		return
	}

	response.Success(c, trans)
}

// Reverse 冲正
// POST /api/v1/wallet/reverse
func (h *Handler) Reverse(c *gin.Context) {
	var req struct {
		TxID   int64  `json:"tx_id" binding:"required"`
		Remark string `json:"remark"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.walletService.Reverse(c.Request.Context(), req.TxID, req.Remark)
	if err != nil {
		h.walletError(c, err)
		return
	}

	response.Success(c, trans)
}

// WithdrawReserve 提现预扣
// POST /api/v1/wallet/withdraw/reserve
func (h *Handler) WithdrawReserve(c *gin.Context) {
	var req struct {
		UserID int64           `json:"user_id" binding:"required"`
		Amount decimal.Decimal `json:"amount" binding:"required"`
		Remark string          `json:"remark"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.walletService.WithdrawReserve(c.Request.Context(), req.UserID, req.Amount, req.Remark)
	if err != nil {
		h.walletError(c, err)
		return
	}

	response.Success(c, trans)
}

func (h *Handler) walletError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrNotFrozen):
		response.BusinessError(c, response.CodeNotFrozen, err.Error())
	case errors.Is(err, service.ErrAlreadyReversed):
		response.BusinessError(c, response.CodeAlreadyReversed, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 结算相关接口
// ============================================================

// PreviewSettlement 结算试算（只算不落库）
// POST /api/v1/settlement/preview
func (h *Handler) PreviewSettlement(c *gin.Context) {
	var req service.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.settlementService.Preview(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// CommitSettlement 结算提交
// POST /api/v1/settlement/commit
//
// 【关键点】结算是整个系统最核心的操作，需要保证：
// 1. 幂等性：同一订单只会结算一次，重复请求重放首次结果
// 2. 原子性：所有结算行和账本流水必须同时成功或同时失败
// 3. 硬校验：分成总额超过订单金额 1% 容差时整单拒绝
func (h *Handler) CommitSettlement(c *gin.Context) {
	var req service.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.settlementService.Settle(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSettlementExceedsOrder):
			response.BusinessError(c, response.CodeSettlementExceeds, err.Error())
		case errors.Is(err, service.ErrOrderNotSettleable):
			response.BusinessError(c, response.CodeOrderStatusInvalid, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, result)
}

// AdjustSettlement 人工调整结算收益（审计通道）
// POST /api/v1/settlement/adjust
func (h *Handler) AdjustSettlement(c *gin.Context) {
	var req service.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.settlementService.ManualAdjust(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrPermissionDenied) {
			response.BusinessError(c, response.CodePermissionDenied, err.Error())
			return
		}
		h.walletError(c, err)
		return
	}

	response.Success(c, trans)
}

// ============================================================
// 退款相关接口
// ============================================================

// RefundOrder 订单退款
// POST /api/v1/refund/execute
//
// 【关键点】退款不改写历史：已入账的结算收益通过等额冲正流水抵消
func (h *Handler) RefundOrder(c *gin.Context) {
	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.refundService.Refund(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// ============================================================
// 对账相关接口（FINANCE / SUPER_ADMIN）
// ============================================================

// ReconcileSummary 窗口汇总
// POST /api/v1/reconcile/summary
func (h *Handler) ReconcileSummary(c *gin.Context) {
	var req service.SummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.reconcileService.Summary(c.Request.Context(), &req)
	if err != nil {
		h.reconcileError(c, err)
		return
	}

	response.Success(c, result)
}

// ReconcileOrders 逐单对账列表
// POST /api/v1/reconcile/orders
func (h *Handler) ReconcileOrders(c *gin.Context) {
	var req service.OrdersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.reconcileService.Orders(c.Request.Context(), &req)
	if err != nil {
		h.reconcileError(c, err)
		return
	}

	response.Success(c, result)
}

// ReconcileOrderDetail 单笔订单审计明细
// POST /api/v1/reconcile/detail
func (h *Handler) ReconcileOrderDetail(c *gin.Context) {
	var req service.OrderDetailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.reconcileService.OrderDetail(c.Request.Context(), &req)
	if err != nil {
		h.reconcileError(c, err)
		return
	}

	response.Success(c, result)
}

func (h *Handler) reconcileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		response.BusinessError(c, response.CodePermissionDenied, err.Error())
	case errors.Is(err, service.ErrInvalidDateRange):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
