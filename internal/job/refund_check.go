package job

import (
	"context"
	"log"
	"time"

	"dispatchpay/internal/config"
	"dispatchpay/internal/model"
	"dispatchpay/internal/repository"

	"gorm.io/gorm"
)

// RefundCheckJob 退款对账巡检
// 周期性扫描已退款订单，发现没有对应冲正流水的订单就告警。
// 只告警不补偿——退款在没有观察到冲正流水之前永远算未完成
type RefundCheckJob struct {
	db         *gorm.DB
	orderRepo  *repository.OrderRepository
	walletRepo *repository.WalletRepository
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	lookback   time.Duration
}

func NewRefundCheckJob(db *gorm.DB, cfg *config.Config) *RefundCheckJob {
	return &RefundCheckJob{
		db:         db,
		orderRepo:  repository.NewOrderRepository(db),
		walletRepo: repository.NewWalletRepository(db),
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   5 * time.Minute,
		lookback:   24 * time.Hour,
	}
}

func (j *RefundCheckJob) Start(ctx context.Context) {
	log.Println("[RefundCheckJob] 退款巡检任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[RefundCheckJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[RefundCheckJob] 任务停止")
			return
		case <-ticker.C:
			j.checkPendingRefunds(ctx)
		}
	}
}

func (j *RefundCheckJob) Stop() {
	close(j.stopCh)
}

func (j *RefundCheckJob) checkPendingRefunds(ctx context.Context) {
	now := time.Now()
	orders, err := j.orderRepo.ListRefundedInRange(ctx, now.Add(-j.lookback), now)
	if err != nil {
		log.Printf("[RefundCheckJob] 查询退款订单失败: %v", err)
		return
	}

	if len(orders) == 0 {
		return
	}

	pendingCount := 0
	for _, order := range orders {
		transactions, err := j.walletRepo.ListTransactionsByOrderID(ctx, order.ID)
		if err != nil {
			log.Printf("[RefundCheckJob] 查询流水失败: orderNo=%s, err=%v", order.OrderNo, err)
			continue
		}

		hasReversal := false
		for _, trans := range transactions {
			if trans.BizType == model.BizTypeRefundReversal || trans.ReversalOfTxID != nil {
				hasReversal = true
				break
			}
		}

		if !hasReversal {
			pendingCount++
			log.Printf("[RefundCheckJob] 已退款订单缺少冲正流水: orderNo=%s, playerID=%d",
				order.OrderNo, order.PlayerID)
		}
	}

	if pendingCount > 0 {
		log.Printf("[RefundCheckJob] 本轮发现 %d 笔退款待冲正", pendingCount)
	}
}
