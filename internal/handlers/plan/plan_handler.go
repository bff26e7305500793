// internal/handlers/plan/plan_handler.go
package plan

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"mikrobill-service/internal/domain/billing"
	xerrors "mikrobill-service/internal/pkg/errors"
	"mikrobill-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// PlanStore is the billing-plan surface the handler needs.
type PlanStore interface {
	Get(ctx context.Context, merchantID int64) (*billing.BillingPlan, error)
	Upsert(ctx context.Context, plan *billing.BillingPlan) error
}

// PlanHandler is the delivery path for the external billing collaborator: it
// pushes plan changes here and the core reads them during approval and payout.
type PlanHandler struct {
	plans PlanStore
}

func NewPlanHandler(plans PlanStore) *PlanHandler {
	return &PlanHandler{plans: plans}
}

type upsertPlanRequest struct {
	PlanType       billing.PlanType       `json:"plan_type" binding:"required"`
	CommissionRate float64                `json:"commission_rate"`
	MinPayoutCents int64                  `json:"min_payout_cents"`
	Schedule       billing.PayoutSchedule `json:"schedule" binding:"required"`
}

// Upsert replaces a merchant's billing plan.
func (h *PlanHandler) Upsert(c *gin.Context) {
	merchantID, err := strconv.ParseInt(c.Param("merchant_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid merchant ID", err)
		return
	}

	var req upsertPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	switch req.PlanType {
	case billing.PlanPercentageCommission, billing.PlanFlatSubscription:
	default:
		response.Error(c, http.StatusBadRequest, "unknown plan type", nil)
		return
	}
	switch req.Schedule {
	case billing.ScheduleWeekly, billing.ScheduleMonthly, billing.ScheduleManual:
	default:
		response.Error(c, http.StatusBadRequest, "unknown payout schedule", nil)
		return
	}
	if req.CommissionRate < 0 || req.CommissionRate > 100 {
		response.Error(c, http.StatusBadRequest, "commission rate must be between 0 and 100", nil)
		return
	}
	if req.MinPayoutCents < 0 {
		response.Error(c, http.StatusBadRequest, "minimum payout cannot be negative", nil)
		return
	}

	plan := &billing.BillingPlan{
		MerchantID:     merchantID,
		PlanType:       req.PlanType,
		CommissionRate: req.CommissionRate,
		MinPayoutCents: req.MinPayoutCents,
		Schedule:       req.Schedule,
	}
	if err := h.plans.Upsert(c.Request.Context(), plan); err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to save plan", err)
		return
	}

	response.Success(c, http.StatusOK, "plan saved", plan)
}

// Get retrieves a merchant's billing plan.
func (h *PlanHandler) Get(c *gin.Context) {
	merchantID, err := strconv.ParseInt(c.Param("merchant_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid merchant ID", err)
		return
	}

	plan, err := h.plans.Get(c.Request.Context(), merchantID)
	if err != nil {
		if errors.Is(err, xerrors.ErrPlanNotFound) {
			response.NotFound(c, "merchant has no billing plan")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to get plan", err)
		return
	}

	response.Success(c, http.StatusOK, "plan retrieved", plan)
}
