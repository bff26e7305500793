// internal/domain/billing/entity.go
package billing

import "time"

type PlanType string

const (
	// PlanPercentageCommission: the merchant earns rate% of every matched
	// system-side transaction.
	PlanPercentageCommission PlanType = "percentage_commission"
	// PlanFlatSubscription: the merchant pays a periodic fee instead and earns
	// no per-transaction commission (rate 0).
	PlanFlatSubscription PlanType = "flat_subscription"
)

type PayoutSchedule string

const (
	ScheduleWeekly  PayoutSchedule = "weekly"
	ScheduleMonthly PayoutSchedule = "monthly"
	ScheduleManual  PayoutSchedule = "manual"
)

type PayoutMethod string

const (
	PayoutMethodMpesa        PayoutMethod = "mpesa"
	PayoutMethodBankTransfer PayoutMethod = "bank_transfer"
)

type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusCompleted PayoutStatus = "completed"
	PayoutStatusFailed    PayoutStatus = "failed"
)

// BillingPlan is the merchant's active plan as supplied by the billing
// collaborator. The core reads it, never writes it.
type BillingPlan struct {
	MerchantID     int64          `json:"merchant_id" db:"merchant_id"`
	PlanType       PlanType       `json:"plan_type" db:"plan_type"`
	CommissionRate float64        `json:"commission_rate" db:"commission_rate"` // percentage, 0-100
	MinPayoutCents int64          `json:"min_payout_cents" db:"min_payout_cents"`
	Schedule       PayoutSchedule `json:"schedule" db:"schedule"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// CommissionRecord is one computed commission line. Records are append-only:
// unmatching an approved pair appends a compensating negative record instead
// of mutating or deleting the original.
type CommissionRecord struct {
	ID        int64  `json:"id" db:"id"`
	Reference string `json:"reference" db:"reference"`

	MerchantID    int64 `json:"merchant_id" db:"merchant_id"`
	TransactionID int64 `json:"transaction_id" db:"transaction_id"` // system-side tx

	PlanType    PlanType `json:"plan_type" db:"plan_type"`
	Rate        float64  `json:"rate" db:"rate"`
	AmountCents int64    `json:"amount_cents" db:"amount_cents"`

	// Reversal marks a compensating record appended on unmatch.
	Reversal bool `json:"reversal" db:"reversal"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PayoutEvent records one payout request and its disbursement outcome.
// The withdrawable balance is decremented only when the event transitions
// pending -> completed.
type PayoutEvent struct {
	ID        int64  `json:"id" db:"id"`
	Reference string `json:"reference" db:"reference"`

	MerchantID  int64        `json:"merchant_id" db:"merchant_id"`
	AmountCents int64        `json:"amount_cents" db:"amount_cents"`
	Method      PayoutMethod `json:"method" db:"method"`
	Status      PayoutStatus `json:"status" db:"status"`

	FailureReason *string    `json:"failure_reason,omitempty" db:"failure_reason"`
	RequestedAt   time.Time  `json:"requested_at" db:"requested_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
}

// PayoutBalance is the per-merchant aggregate the UI shows: running sum of
// undisbursed commission plus the plan's gating parameters.
type PayoutBalance struct {
	MerchantID        int64          `json:"merchant_id"`
	WithdrawableCents int64          `json:"withdrawable_cents"`
	MinThresholdCents int64          `json:"min_threshold_cents"`
	Schedule          PayoutSchedule `json:"schedule"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
