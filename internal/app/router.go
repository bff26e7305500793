// internal/app/router.go
package app

import (
	payoutHandler "mikrobill-service/internal/handlers/payout"
	planHandler "mikrobill-service/internal/handlers/plan"
	reconciliationHandler "mikrobill-service/internal/handlers/reconciliation"
	transactionHandler "mikrobill-service/internal/handlers/transaction"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	TransactionHandler    *transactionHandler.TransactionHandler
	ReconciliationHandler *reconciliationHandler.ReconciliationHandler
	PayoutHandler         *payoutHandler.PayoutHandler
	PlanHandler           *planHandler.PlanHandler
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Transaction Ingestion ====================
	transactions := api.Group("/transactions")
	{
		transactions.POST("/provider", h.TransactionHandler.IngestProvider)
		transactions.POST("/system", h.TransactionHandler.IngestSystem)
	}

	// ==================== Reconciliation ====================
	reconciliation := api.Group("/reconciliation")
	{
		reconciliation.POST("/suggest", h.ReconciliationHandler.Suggest)
		reconciliation.POST("/approve", h.ReconciliationHandler.Approve)
		reconciliation.POST("/unmatch", h.ReconciliationHandler.Unmatch)
	}

	// ==================== Payouts ====================
	payouts := api.Group("/payouts")
	{
		payouts.POST("/request", h.PayoutHandler.Request)
		payouts.POST("/confirm", h.PayoutHandler.Confirm)
	}

	// ==================== Per-Merchant Views ====================
	merchants := api.Group("/merchants/:merchant_id")
	{
		merchants.GET("/transactions", h.TransactionHandler.List)

		merchants.POST("/reconciliation/run", h.ReconciliationHandler.Run)
		merchants.GET("/reconciliation/suggestions", h.ReconciliationHandler.ListSuggestions)
		merchants.GET("/reconciliation/report", h.ReconciliationHandler.Report)

		merchants.GET("/commissions", h.ReconciliationHandler.ListCommissions)

		merchants.GET("/payouts", h.PayoutHandler.History)
		merchants.GET("/payouts/balance", h.PayoutHandler.GetBalance)

		merchants.GET("/plan", h.PlanHandler.Get)
		merchants.PUT("/plan", h.PlanHandler.Upsert)
	}
}
