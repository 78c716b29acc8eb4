package handler

import (
	"dispatchpay/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 钱包相关
		wallet := api.Group("/wallet")
		{
			wallet.GET("/balance", h.GetBalance)
			wallet.GET("/transactions", h.ListTransactions)
			wallet.POST("/credit", h.Credit)
			wallet.POST("/freeze", h.Freeze)
			wallet.POST("/release", h.Release)
			wallet.POST("/reverse", h.Reverse)
			wallet.POST("/withdraw/reserve", h.WithdrawReserve)
		}

		// 结算相关
		settlement := api.Group("/settlement")
		{
			settlement.POST("/preview", h.PreviewSettlement)
			settlement.POST("/commit", h.CommitSettlement)
			settlement.POST("/adjust", h.AdjustSettlement)
		}

		// 退款相关
		refund := api.Group("/refund")
		{
			refund.POST("/execute", h.RefundOrder)
		}

		// 对账相关（财务角色）
		reconcile := api.Group("/reconcile")
		{
			reconcile.POST("/summary", h.ReconcileSummary)
			reconcile.POST("/orders", h.ReconcileOrders)
			reconcile.POST("/detail", h.ReconcileOrderDetail)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
