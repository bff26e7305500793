// internal/domain/billing/dto.go
package billing

// PayoutRequestInput is an operator or scheduler initiated payout request.
// AmountCents 0 means "withdraw the full balance".
type PayoutRequestInput struct {
	MerchantID  int64        `json:"merchant_id" binding:"required"`
	AmountCents int64        `json:"amount_cents"`
	Method      PayoutMethod `json:"method" binding:"required"`
}

// DisbursementConfirmation is the asynchronous callback from the payment-rail
// collaborator for one payout event. Confirmations may arrive late, out of
// order, or more than once.
type DisbursementConfirmation struct {
	PayoutReference string `json:"payout_reference" binding:"required"`
	Success         bool   `json:"success"`
	FailureReason   string `json:"failure_reason"`
}

// CommissionFilters narrows commission history listings.
type CommissionFilters struct {
	Reversals *bool `form:"reversals"`
	Limit     int   `form:"limit"`
}
