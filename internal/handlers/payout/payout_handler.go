// internal/handlers/payout/payout_handler.go
package payout

import (
	"errors"
	"net/http"
	"strconv"

	"mikrobill-service/internal/domain/billing"
	xerrors "mikrobill-service/internal/pkg/errors"
	"mikrobill-service/internal/pkg/response"
	service "mikrobill-service/internal/service/payout"

	"github.com/gin-gonic/gin"
)

type PayoutHandler struct {
	payoutService *service.Service
}

func NewPayoutHandler(payoutService *service.Service) *PayoutHandler {
	return &PayoutHandler{
		payoutService: payoutService,
	}
}

// GetBalance retrieves the merchant's withdrawable balance and payout gating.
func (h *PayoutHandler) GetBalance(c *gin.Context) {
	merchantID, err := strconv.ParseInt(c.Param("merchant_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid merchant ID", err)
		return
	}

	balance, err := h.payoutService.Balance(c.Request.Context(), merchantID)
	if err != nil {
		if errors.Is(err, xerrors.ErrPlanNotFound) {
			response.NotFound(c, "merchant has no billing plan")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to get balance", err)
		return
	}

	response.Success(c, http.StatusOK, "balance retrieved", balance)
}

// Request initiates a payout for the merchant's withdrawable balance.
func (h *PayoutHandler) Request(c *gin.Context) {
	var req billing.PayoutRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	ev, err := h.payoutService.RequestPayout(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, xerrors.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, "invalid payout request", err)
		case errors.Is(err, xerrors.ErrPlanNotFound):
			response.Error(c, http.StatusUnprocessableEntity, "merchant has no billing plan", err)
		case errors.Is(err, xerrors.ErrBelowPayoutThreshold):
			response.Error(c, http.StatusUnprocessableEntity, "balance below payout threshold", err)
		case errors.Is(err, xerrors.ErrInsufficientWithdrawable):
			response.Error(c, http.StatusUnprocessableEntity, "requested amount exceeds withdrawable balance", err)
		case errors.Is(err, xerrors.ErrConflict):
			response.Conflict(c, "a payout is already in flight", err)
		default:
			response.Error(c, http.StatusInternalServerError, "failed to request payout", err)
		}
		return
	}

	response.Success(c, http.StatusCreated, "payout requested", ev)
}

// Confirm settles one payout event from the payment rail's callback.
// Redelivered confirmations are acknowledged without changing anything so the
// rail stops retrying.
func (h *PayoutHandler) Confirm(c *gin.Context) {
	var req billing.DisbursementConfirmation
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	ev, err := h.payoutService.ConfirmDisbursement(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, xerrors.ErrDuplicateDisbursement) {
			response.Success(c, http.StatusOK, "confirmation already processed", nil)
			return
		}
		if errors.Is(err, xerrors.ErrPayoutNotFound) {
			response.NotFound(c, "payout not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to confirm disbursement", err)
		return
	}

	response.Success(c, http.StatusOK, "disbursement confirmed", ev)
}

// History retrieves a merchant's payout events, newest first.
func (h *PayoutHandler) History(c *gin.Context) {
	merchantID, err := strconv.ParseInt(c.Param("merchant_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid merchant ID", err)
		return
	}

	limitStr := c.DefaultQuery("limit", "100")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > 1000 {
		limit = 100
	}

	events, err := h.payoutService.History(c.Request.Context(), merchantID, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list payouts", err)
		return
	}

	response.Success(c, http.StatusOK, "payouts retrieved", gin.H{
		"payouts": events,
		"count":   len(events),
	})
}
