// internal/service/commission/calculator.go
package commission

import (
	"fmt"
	"math"

	"mikrobill-service/internal/domain/billing"
	"mikrobill-service/internal/domain/reconciliation"
	xerrors "mikrobill-service/internal/pkg/errors"
	"mikrobill-service/internal/pkg/reference"
)

// Amount computes the commission in minor units for a transaction amount and
// a percentage rate, rounding half-up to the minor unit. Pure and
// re-derivable: the same inputs always produce the same output, which is what
// makes compensating reversal records safe to size.
func Amount(amountCents int64, rate float64) int64 {
	if amountCents <= 0 || rate <= 0 {
		return 0
	}
	return int64(math.Floor(float64(amountCents)*rate/100 + 0.5))
}

// ForApprovedMatch builds the commission record for an approved match. The
// system-side transaction carries the billable amount; the merchant's plan
// supplies the rate policy. A flat-subscription merchant earns rate 0 and the
// record is written with a zero amount so every approval leaves exactly one
// ledger line.
func ForApprovedMatch(systemTx *reconciliation.Transaction, plan *billing.BillingPlan) (*billing.CommissionRecord, error) {
	if systemTx == nil || systemTx.Source != reconciliation.SourceSystem {
		return nil, fmt.Errorf("%w: commission requires the system-side transaction", xerrors.ErrInvalidInput)
	}
	if plan.CommissionRate < 0 || plan.CommissionRate > 100 {
		return nil, fmt.Errorf("%w: commission rate %.2f out of range", xerrors.ErrInvalidInput, plan.CommissionRate)
	}

	rate := plan.CommissionRate
	if plan.PlanType == billing.PlanFlatSubscription {
		// Flat-subscription merchants owe a periodic fee instead; no
		// per-transaction commission accrues.
		rate = 0
	}

	return &billing.CommissionRecord{
		Reference:     reference.NewCommission(),
		MerchantID:    systemTx.MerchantID,
		TransactionID: systemTx.ID,
		PlanType:      plan.PlanType,
		Rate:          rate,
		AmountCents:   Amount(systemTx.AmountCents, rate),
	}, nil
}

// Reversal builds the compensating record that cancels the net commission
// already booked against a transaction. Appending it keeps the ledger
// append-only while netting the pair to zero.
func Reversal(original *billing.CommissionRecord, netCents int64) *billing.CommissionRecord {
	return &billing.CommissionRecord{
		Reference:     reference.NewCommission(),
		MerchantID:    original.MerchantID,
		TransactionID: original.TransactionID,
		PlanType:      original.PlanType,
		Rate:          original.Rate,
		AmountCents:   -netCents,
		Reversal:      true,
	}
}
