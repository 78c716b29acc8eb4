package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"dispatchpay/internal/config"
	"dispatchpay/internal/infrastructure/lock"
	"dispatchpay/internal/model"
	"dispatchpay/internal/repository"
	"dispatchpay/internal/settlement"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrSettlementExceedsOrder = errors.New("分成总额超过订单金额")
	ErrOrderNotSettleable     = errors.New("订单状态不允许结算")
	ErrPermissionDenied       = errors.New("没有财务操作权限")
)

type SettlementService struct {
	db             *gorm.DB
	redisClient    *redis.Client
	cfg            *config.Config
	orderRepo      *repository.OrderRepository
	settlementRepo *repository.SettlementRepository
	outboxRepo     *repository.OutboxRepository
	walletService  *WalletService
}

func NewSettlementService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *SettlementService {
	return &SettlementService{
		db:             db,
		redisClient:    redisClient,
		cfg:            cfg,
		orderRepo:      repository.NewOrderRepository(db),
		settlementRepo: repository.NewSettlementRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
		walletService:  NewWalletService(db),
	}
}

// SettleParticipant 上游贡献解析器给出的结构化参与记录 + 评级系数
type SettleParticipant struct {
	WorkerID     int64           `json:"worker_id" binding:"required"`
	Contribution decimal.Decimal `json:"contribution"`
	RatingRate   decimal.Decimal `json:"rating_rate"`
	IsSupplement bool            `json:"is_supplement"`
	CSEarnings   decimal.Decimal `json:"cs_earnings"`
}

type SettleRequest struct {
	OrderID          int64               `json:"order_id" binding:"required"`
	Participants     []SettleParticipant `json:"participants" binding:"required"`
	SupplementAmount decimal.Decimal     `json:"supplement_amount"`
}

type SettleWorkerResult struct {
	WorkerID      int64           `json:"worker_id"`
	SettlementID  int64           `json:"settlement_id,omitempty"`
	FinalEarnings decimal.Decimal `json:"final_earnings"`
	IsSupplement  bool            `json:"is_supplement"`
}

type SettleResponse struct {
	OrderNo           string               `json:"order_no"`
	ClubEarnings      decimal.Decimal      `json:"club_earnings"`
	SplitMode         string               `json:"split_mode"`
	TotalDistribution decimal.Decimal      `json:"total_distribution"`
	Workers           []SettleWorkerResult `json:"workers"`
	Replayed          bool                 `json:"replayed,omitempty"` // 幂等重放
}

func (s *SettlementService) engineContributions(participants []SettleParticipant) []settlement.Contribution {
	contribs := make([]settlement.Contribution, 0, len(participants))
	for _, p := range participants {
		contribs = append(contribs, settlement.Contribution{
			WorkerID:     p.WorkerID,
			Contribution: p.Contribution,
			RatingRate:   p.RatingRate,
			IsSupplement: p.IsSupplement,
		})
	}
	return contribs
}

// Preview 只算不落库
func (s *SettlementService) Preview(ctx context.Context, req *SettleRequest) (*SettleResponse, error) {
	order, err := s.orderRepo.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	policy := settlement.SplitPolicyFor(order.OrderType)
	result := settlement.ComputeEarnings(order.PaidAmount, order.BaseAmount, policy.ClubRate,
		s.engineContributions(req.Participants), req.SupplementAmount)

	resp := &SettleResponse{
		OrderNo:           order.OrderNo,
		ClubEarnings:      result.ClubEarnings.Round(2),
		SplitMode:         result.SplitMode,
		TotalDistribution: result.TotalDistribution.Round(2),
	}
	for _, w := range result.PerWorker {
		resp.Workers = append(resp.Workers, SettleWorkerResult{
			WorkerID:      w.WorkerID,
			FinalEarnings: w.FinalEarnings.Round(2),
			IsSupplement:  w.IsSupplement,
		})
	}
	return resp, nil
}

// Settle 结算提交
//
// 订单到达完成/归档状态后由订单生命周期方调用。保证：
// 1. 幂等：同一订单重复结算直接重放首次结果
// 2. 原子：所有结算行 + 对应账本流水同一事务，不允许出现部分结算
// 3. 硬校验：分成总额超出订单金额 1% 容差时整单拒绝
func (s *SettlementService) Settle(ctx context.Context, req *SettleRequest) (*SettleResponse, error) {
	order, err := s.orderRepo.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if !order.IsPaid || (order.Status != model.OrderStatusCompleted && order.Status != model.OrderStatusArchived) {
		return nil, ErrOrderNotSettleable
	}

	// 幂等预检
	if resp, err := s.replayIfSettled(ctx, order); err != nil || resp != nil {
		return resp, err
	}

	settleLock := lock.NewSettleLock(s.redisClient, order.ID)
	if err := settleLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer settleLock.Unlock(ctx)

	// 拿到锁后二次检查
	if resp, err := s.replayIfSettled(ctx, order); err != nil || resp != nil {
		return resp, err
	}

	policy := settlement.SplitPolicyFor(order.OrderType)
	result := settlement.ComputeEarnings(order.PaidAmount, order.BaseAmount, policy.ClubRate,
		s.engineContributions(req.Participants), req.SupplementAmount)

	if !settlement.ValidateTotalEarnings(result.ClubEarnings, result.PerWorker, order.PaidAmount) {
		return nil, ErrSettlementExceedsOrder
	}

	csByWorker := make(map[int64]decimal.Decimal, len(req.Participants))
	for _, p := range req.Participants {
		csByWorker[p.WorkerID] = p.CSEarnings
	}

	// 账户缺失时先幂等建户，避免在结算事务里做建户写放大
	for _, w := range result.PerWorker {
		if _, err := s.walletService.walletRepo.GetOrCreateAccount(ctx, w.WorkerID); err != nil {
			return nil, fmt.Errorf("创建钱包账户失败: %w", err)
		}
	}

	resp := &SettleResponse{
		OrderNo:           order.OrderNo,
		ClubEarnings:      result.ClubEarnings.Round(2),
		SplitMode:         result.SplitMode,
		TotalDistribution: result.TotalDistribution.Round(2),
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		for _, w := range result.PerWorker {
			earnings := w.FinalEarnings.Round(2)
			row := &model.OrderSettlement{
				OrderID:            order.ID,
				OrderNo:            order.OrderNo,
				WorkerID:           w.WorkerID,
				IsSupplement:       w.IsSupplement,
				CalculatedEarnings: earnings,
				FinalEarnings:      earnings,
				CSEarnings:         csByWorker[w.WorkerID].Round(2),
				PaymentStatus:      model.SettlementStatusFrozen,
				SettledAt:          now,
			}
			if err := s.settlementRepo.Create(ctx, tx, row); err != nil {
				return fmt.Errorf("创建结算记录失败: %w", err)
			}

			// 收益为正才入账本；补单的负收益只记在结算行上，
			// 由后续提现/人工调整通道扣收，避免把账户打成负数
			if earnings.IsPositive() {
				orderID := order.ID
				settlementID := row.ID
				_, err := s.walletService.freezeInTx(ctx, tx, w.WorkerID, earnings,
					model.BizTypeSettleEarning, TxRefs{
						OrderID:      &orderID,
						SettlementID: &settlementID,
						Remark:       fmt.Sprintf("结算收益-%s", order.OrderNo),
					})
				if err != nil {
					return fmt.Errorf("结算入账失败: %w", err)
				}
			}

			resp.Workers = append(resp.Workers, SettleWorkerResult{
				WorkerID:      w.WorkerID,
				SettlementID:  row.ID,
				FinalEarnings: earnings,
				IsSupplement:  w.IsSupplement,
			})
		}

		msgPayload := map[string]interface{}{
			"order_no":      order.OrderNo,
			"club_earnings": resp.ClubEarnings,
			"split_mode":    resp.SplitMode,
			"workers":       resp.Workers,
			"settled_at":    now.Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: order.OrderNo,
			Topic:      s.cfg.Kafka.Topic.SettleResult,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	log.Printf("结算成功: orderNo=%s, workers=%d, clubEarnings=%s",
		order.OrderNo, len(resp.Workers), resp.ClubEarnings)

	return resp, nil
}

// replayIfSettled 已结算过的订单直接由结算行重建响应
func (s *SettlementService) replayIfSettled(ctx context.Context, order *model.DispatchOrder) (*SettleResponse, error) {
	existing, err := s.settlementRepo.ListByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("查询结算记录失败: %w", err)
	}
	if len(existing) == 0 {
		return nil, nil
	}

	policy := settlement.SplitPolicyFor(order.OrderType)
	clubEarnings := decimal.Zero
	splitMode := settlement.SplitModeRatingBased
	if policy.ClubRate != nil {
		clubEarnings = order.PaidAmount.Mul(*policy.ClubRate).Round(2)
		splitMode = settlement.SplitModeFixed
	}

	resp := &SettleResponse{
		OrderNo:      order.OrderNo,
		ClubEarnings: clubEarnings,
		SplitMode:    splitMode,
		Replayed:     true,
	}
	for _, row := range existing {
		resp.Workers = append(resp.Workers, SettleWorkerResult{
			WorkerID:      row.WorkerID,
			SettlementID:  row.ID,
			FinalEarnings: row.FinalEarnings,
			IsSupplement:  row.IsSupplement,
		})
	}
	return resp, nil
}

type AdjustRequest struct {
	SettlementID int64           `json:"settlement_id" binding:"required"`
	Delta        decimal.Decimal `json:"delta" binding:"required"`
	Reason       string          `json:"reason"`
	OperatorID   int64           `json:"operator_id" binding:"required"`
	OperatorRole string          `json:"operator_role" binding:"required"`
}

// ManualAdjust 人工调整结算收益
// 结算行创建后唯一允许的修改通道：调整金额落到 manual_adjustment，
// 账本同步出一笔 MANUAL_ADJUST 流水，审计日志与业务同事务落库
func (s *SettlementService) ManualAdjust(ctx context.Context, req *AdjustRequest) (*model.WalletTransaction, error) {
	if !model.CanAudit(req.OperatorRole) {
		return nil, ErrPermissionDenied
	}
	if req.Delta.IsZero() {
		return nil, ErrInvalidAmount
	}

	row, err := s.settlementRepo.GetByID(ctx, req.SettlementID)
	if err != nil {
		return nil, err
	}

	if _, err := s.walletService.walletRepo.GetOrCreateAccount(ctx, row.WorkerID); err != nil {
		return nil, fmt.Errorf("创建钱包账户失败: %w", err)
	}

	var trans *model.WalletTransaction
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.settlementRepo.ApplyAdjustment(ctx, tx, row.ID, req.Delta); err != nil {
			return fmt.Errorf("调整结算记录失败: %w", err)
		}

		// 调整流水不带 order_id，避开 (订单,用户,业务类型) 唯一约束，
		// 同一结算行允许多次人工调整
		settlementID := row.ID
		refs := TxRefs{
			SettlementID: &settlementID,
			Remark:       fmt.Sprintf("人工调整-%s-%s", row.OrderNo, req.Reason),
		}
		var err error
		if req.Delta.IsPositive() {
			trans, err = s.walletService.creditInTx(ctx, tx, row.WorkerID, req.Delta, model.BizTypeManualAdjust, refs)
		} else {
			trans, err = s.walletService.debitInTx(ctx, tx, row.WorkerID, req.Delta.Neg(), model.BizTypeManualAdjust, refs)
		}
		if err != nil {
			return fmt.Errorf("调整入账失败: %w", err)
		}

		params, _ := json.Marshal(req)
		audit := &model.FinanceAuditLog{
			OperatorID:   req.OperatorID,
			OperatorRole: req.OperatorRole,
			Action:       "settlement.manual_adjust",
			Params:       string(params),
		}
		if err := tx.WithContext(ctx).Create(audit).Error; err != nil {
			return fmt.Errorf("写入审计日志失败: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	log.Printf("人工调整成功: settlementID=%d, delta=%s, operator=%d",
		row.ID, req.Delta, req.OperatorID)

	return trans, nil
}
