// internal/handlers/reconciliation/reconciliation_handler.go
package reconciliation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"mikrobill-service/internal/domain/billing"
	"mikrobill-service/internal/domain/reconciliation"
	xerrors "mikrobill-service/internal/pkg/errors"
	"mikrobill-service/internal/pkg/response"
	service "mikrobill-service/internal/service/reconciliation"

	"github.com/gin-gonic/gin"
)

type ReconciliationHandler struct {
	reconciliationService *service.Service
}

func NewReconciliationHandler(reconciliationService *service.Service) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciliationService: reconciliationService,
	}
}

// Run triggers one matching pass for a merchant.
func (h *ReconciliationHandler) Run(c *gin.Context) {
	merchantID, err := strconv.ParseInt(c.Param("merchant_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid merchant ID", err)
		return
	}

	result, err := h.reconciliationService.RunMatchingPass(c.Request.Context(), merchantID)
	if err != nil {
		if errors.Is(err, xerrors.ErrConflict) {
			response.Conflict(c, "a matching pass is already running for this merchant", err)
			return
		}
		response.Error(c, http.StatusInternalServerError, "matching pass failed", err)
		return
	}

	response.Success(c, http.StatusOK, "matching pass completed", result)
}

// ListSuggestions retrieves the suggested pairs awaiting operator review.
func (h *ReconciliationHandler) ListSuggestions(c *gin.Context) {
	merchantID, err := strconv.ParseInt(c.Param("merchant_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid merchant ID", err)
		return
	}

	suggestions, err := h.reconciliationService.ListSuggestions(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list suggestions", err)
		return
	}

	response.Success(c, http.StatusOK, "suggestions retrieved", gin.H{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

// Suggest proposes an explicit provider/system pairing for review.
func (h *ReconciliationHandler) Suggest(c *gin.Context) {
	var req reconciliation.PairInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.reconciliationService.Suggest(c.Request.Context(), &req); err != nil {
		h.pairError(c, err, "failed to suggest pair")
		return
	}

	response.Success(c, http.StatusOK, "pair suggested", nil)
}

// Approve confirms a pairing and books its commission.
func (h *ReconciliationHandler) Approve(c *gin.Context) {
	var req reconciliation.PairInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.reconciliationService.Approve(c.Request.Context(), &req); err != nil {
		h.pairError(c, err, "failed to approve pair")
		return
	}

	response.Success(c, http.StatusOK, "pair approved", nil)
}

// Unmatch rejects a suggestion or unwinds an approved pair.
func (h *ReconciliationHandler) Unmatch(c *gin.Context) {
	var req reconciliation.UnmatchInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.reconciliationService.Unmatch(c.Request.Context(), &req); err != nil {
		h.pairError(c, err, "failed to unmatch")
		return
	}

	response.Success(c, http.StatusOK, "transaction unmatched", nil)
}

// Report streams the reconciliation export as CSV. Column order is fixed for
// audit compatibility.
func (h *ReconciliationHandler) Report(c *gin.Context) {
	merchantID, err := strconv.ParseInt(c.Param("merchant_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid merchant ID", err)
		return
	}

	rows, err := h.reconciliationService.Report(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to build report", err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="reconciliation-%d.csv"`, merchantID))

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"transaction_id", "counterpart_id", "confidence", "amount", "amount_diff", "commission"})
	for _, row := range rows {
		counterpart := ""
		if row.CounterpartID != nil {
			counterpart = strconv.FormatInt(*row.CounterpartID, 10)
		}
		confidence := ""
		if row.CounterpartID != nil {
			confidence = string(row.Confidence)
		}
		_ = w.Write([]string{
			strconv.FormatInt(row.TransactionID, 10),
			counterpart,
			confidence,
			formatCents(row.AmountCents),
			formatCents(row.AmountDiffCents),
			formatCents(row.CommissionCents),
		})
	}
	w.Flush()
}

// ListCommissions retrieves the append-only commission ledger for a merchant.
func (h *ReconciliationHandler) ListCommissions(c *gin.Context) {
	merchantID, err := strconv.ParseInt(c.Param("merchant_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid merchant ID", err)
		return
	}

	var filters billing.CommissionFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid query parameters", err)
		return
	}

	records, err := h.reconciliationService.CommissionHistory(c.Request.Context(), merchantID, &filters)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list commissions", err)
		return
	}

	response.Success(c, http.StatusOK, "commissions retrieved", gin.H{
		"commissions": records,
		"count":       len(records),
	})
}

func (h *ReconciliationHandler) pairError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, xerrors.ErrNotFound):
		response.NotFound(c, "transaction not found")
	case errors.Is(err, xerrors.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, message, err)
	case errors.Is(err, xerrors.ErrStaleStateTransition):
		response.Conflict(c, "transaction state changed concurrently", err)
	case errors.Is(err, xerrors.ErrPlanNotFound):
		response.Error(c, http.StatusUnprocessableEntity, "merchant has no billing plan", err)
	default:
		response.Error(c, http.StatusInternalServerError, message, err)
	}
}

// formatCents renders minor units as a decimal amount string.
func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
