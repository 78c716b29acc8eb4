package job

import (
	"context"
	"log"
	"time"

	"dispatchpay/internal/config"
	"dispatchpay/internal/model"
	"dispatchpay/internal/repository"
	"dispatchpay/internal/service"

	"gorm.io/gorm"
)

// FreezeReleaseJob 冻结解冻任务
// 结算收益先冻结进争议期，过了 freeze_days 的流水由这里批量解冻，
// 对应结算行从 FROZEN 置为 PAID
type FreezeReleaseJob struct {
	db             *gorm.DB
	walletRepo     *repository.WalletRepository
	settlementRepo *repository.SettlementRepository
	walletService  *service.WalletService
	cfg            *config.Config
	stopCh         chan struct{}
	interval       time.Duration
	batchSize      int
}

func NewFreezeReleaseJob(db *gorm.DB, cfg *config.Config) *FreezeReleaseJob {
	return &FreezeReleaseJob{
		db:             db,
		walletRepo:     repository.NewWalletRepository(db),
		settlementRepo: repository.NewSettlementRepository(db),
		walletService:  service.NewWalletService(db),
		cfg:            cfg,
		stopCh:         make(chan struct{}),
		interval:       time.Minute,
		batchSize:      100,
	}
}

func (j *FreezeReleaseJob) Start(ctx context.Context) {
	log.Println("[FreezeReleaseJob] 结算解冻任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[FreezeReleaseJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[FreezeReleaseJob] 任务停止")
			return
		case <-ticker.C:
			j.releaseExpiredFreezes(ctx)
		}
	}
}

func (j *FreezeReleaseJob) Stop() {
	close(j.stopCh)
}

func (j *FreezeReleaseJob) releaseExpiredFreezes(ctx context.Context) {
	freezeDays := j.cfg.Business.FreezeDays
	if freezeDays <= 0 {
		freezeDays = 7
	}
	before := time.Now().AddDate(0, 0, -freezeDays)

	transactions, err := j.walletRepo.ListFrozenBefore(ctx, model.BizTypeSettleEarning, before, j.batchSize)
	if err != nil {
		log.Printf("[FreezeReleaseJob] 查询冻结流水失败: %v", err)
		return
	}

	if len(transactions) == 0 {
		return
	}

	log.Printf("[FreezeReleaseJob] 发现 %d 笔到期冻结流水", len(transactions))

	releasedCount := 0
	for _, trans := range transactions {
		if err := j.releaseOne(ctx, trans); err != nil {
			log.Printf("[FreezeReleaseJob] 解冻失败: txNo=%s, err=%v", trans.TxNo, err)
			continue
		}
		releasedCount++
	}

	log.Printf("[FreezeReleaseJob] 本次解冻 %d 笔", releasedCount)
}

// releaseOne 解冻单笔：流水解冻 + 结算行置 PAID，同一事务
func (j *FreezeReleaseJob) releaseOne(ctx context.Context, trans *model.WalletTransaction) error {
	return j.db.Transaction(func(tx *gorm.DB) error {
		if _, err := j.walletService.ReleaseInTx(ctx, tx, trans.ID); err != nil {
			return err
		}
		if trans.SettlementID != nil {
			if err := j.settlementRepo.UpdatePaymentStatus(ctx, tx, *trans.SettlementID,
				model.SettlementStatusFrozen, model.SettlementStatusPaid); err != nil {
				return err
			}
		}
		return nil
	})
}
