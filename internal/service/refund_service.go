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

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type RefundService struct {
	db             *gorm.DB
	redisClient    *redis.Client
	cfg            *config.Config
	orderRepo      *repository.OrderRepository
	settlementRepo *repository.SettlementRepository
	walletRepo     *repository.WalletRepository
	outboxRepo     *repository.OutboxRepository
	walletService  *WalletService
}

func NewRefundService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *RefundService {
	return &RefundService{
		db:             db,
		redisClient:    redisClient,
		cfg:            cfg,
		orderRepo:      repository.NewOrderRepository(db),
		settlementRepo: repository.NewSettlementRepository(db),
		walletRepo:     repository.NewWalletRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
		walletService:  NewWalletService(db),
	}
}

type RefundRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	OrderNo   string `json:"order_no" binding:"required"`
	Reason    string `json:"reason"`
}

type RefundResponse struct {
	RefundNo      string `json:"refund_no,omitempty"`
	OrderNo       string `json:"order_no"`
	Status        string `json:"status"`
	ReversedCount int    `json:"reversed_count"`
	Message       string `json:"message,omitempty"`
}

// Refund 订单退款
//
// 退款不改写历史：每笔已入账的结算收益流水生成一笔等额冲正流水，
// 结算行置 REVERSED，订单状态走 REFUNDING -> REFUNDED，全部同一事务
func (s *RefundService) Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, req.OrderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, errors.New("订单不存在")
		}
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}

	if order.Status == model.OrderStatusRefunded {
		return &RefundResponse{
			OrderNo: order.OrderNo,
			Status:  model.OrderStatusRefunded,
			Message: "已退款，请勿重复操作",
		}, nil
	}
	if order.Status != model.OrderStatusCompleted && order.Status != model.OrderStatusArchived {
		return nil, fmt.Errorf("订单状态不允许退款，当前状态: %s", order.Status)
	}

	refundLock := lock.NewRefundLock(s.redisClient, req.OrderNo, req.RequestID)
	if err := refundLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer refundLock.Unlock(ctx)

	// 拿到锁后二次检查
	order, err = s.orderRepo.GetByOrderNo(ctx, req.OrderNo)
	if err != nil {
		return nil, err
	}
	if order.Status == model.OrderStatusRefunded {
		return &RefundResponse{
			OrderNo: order.OrderNo,
			Status:  model.OrderStatusRefunded,
			Message: "已退款，请勿重复操作",
		}, nil
	}
	if order.Status != model.OrderStatusCompleted && order.Status != model.OrderStatusArchived {
		return nil, fmt.Errorf("订单状态不允许退款，当前状态: %s", order.Status)
	}

	fromStatus := order.Status
	refundNo := fmt.Sprintf("REF-%s", order.OrderNo)
	reversedCount := 0

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.UpdateStatus(ctx, tx, req.OrderNo, fromStatus, model.OrderStatusRefunding); err != nil {
			return fmt.Errorf("更新订单状态失败: %w", err)
		}

		transactions, err := s.walletRepo.ListTransactionsByOrderID(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("查询订单流水失败: %w", err)
		}

		for _, trans := range transactions {
			// 只冲正结算入账，冲正流水自己（REFUND_REVERSAL）不再冲正
			if trans.BizType != model.BizTypeSettleEarning || trans.Status == model.TxStatusReversed {
				continue
			}
			if _, err := s.walletService.reverseInTx(ctx, tx, trans.ID,
				fmt.Sprintf("退款冲正-%s-%s", refundNo, req.Reason)); err != nil {
				return fmt.Errorf("冲正流水失败: txID=%d: %w", trans.ID, err)
			}
			reversedCount++
		}

		if err := s.settlementRepo.UpdateStatusByOrderID(ctx, tx, order.ID,
			model.SettlementStatusFrozen, model.SettlementStatusReversed); err != nil {
			return fmt.Errorf("更新结算状态失败: %w", err)
		}
		if err := s.settlementRepo.UpdateStatusByOrderID(ctx, tx, order.ID,
			model.SettlementStatusPaid, model.SettlementStatusReversed); err != nil {
			return fmt.Errorf("更新结算状态失败: %w", err)
		}

		if err := s.orderRepo.UpdateStatus(ctx, tx, req.OrderNo, model.OrderStatusRefunding, model.OrderStatusRefunded); err != nil {
			return fmt.Errorf("更新订单状态失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"refund_no":      refundNo,
			"order_no":       req.OrderNo,
			"reversed_count": reversedCount,
			"reason":         req.Reason,
			"refunded_at":    time.Now().Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: refundNo,
			Topic:      s.cfg.Kafka.Topic.RefundResult,
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

	log.Printf("退款成功: refundNo=%s, orderNo=%s, reversed=%d", refundNo, req.OrderNo, reversedCount)

	return &RefundResponse{
		RefundNo:      refundNo,
		OrderNo:       req.OrderNo,
		Status:        model.OrderStatusRefunded,
		ReversedCount: reversedCount,
	}, nil
}
