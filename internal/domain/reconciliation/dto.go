// internal/domain/reconciliation/dto.go
package reconciliation

import "time"

// IngestProviderInput is the normalized record the webhook-ingestion
// collaborator delivers for one confirmed mobile-money payment.
type IngestProviderInput struct {
	MerchantID int64     `json:"merchant_id" binding:"required"`
	ExternalID string    `json:"external_id" binding:"required"` // provider transaction id
	Amount     float64   `json:"amount" binding:"required"`      // decimal KES
	Phone      string    `json:"phone"`
	Reference  string    `json:"reference"`
	OccurredAt time.Time `json:"occurred_at" binding:"required"` // confirmation time
}

// IngestSystemInput is one internally created order record (voucher purchase,
// PPPoE billing cycle, subscription charge).
type IngestSystemInput struct {
	MerchantID int64     `json:"merchant_id" binding:"required"`
	ExternalID string    `json:"external_id" binding:"required"` // order id
	Amount     float64   `json:"amount" binding:"required"`
	Phone      string    `json:"phone"`
	Reference  string    `json:"reference"`
	OccurredAt time.Time `json:"occurred_at" binding:"required"` // order creation time
}

// ListFilters narrows transaction listings.
type ListFilters struct {
	Source     *Source     `form:"source"`
	MatchState *MatchState `form:"match_state"`
	Limit      int         `form:"limit"`
}

// PairInput identifies an explicit provider/system pairing for operator
// commands (suggest, approve).
type PairInput struct {
	MerchantID   int64 `json:"merchant_id" binding:"required"`
	ProviderTxID int64 `json:"provider_tx_id" binding:"required"`
	SystemTxID   int64 `json:"system_tx_id" binding:"required"`
}

// UnmatchInput identifies either side of a pair to reject/unmatch.
type UnmatchInput struct {
	MerchantID    int64 `json:"merchant_id" binding:"required"`
	TransactionID int64 `json:"transaction_id" binding:"required"`
}

// Suggestion is one suggested pair with its derived confidence breakdown,
// as consumed by the operator review screen.
type Suggestion struct {
	ProviderTx Transaction    `json:"provider_tx"`
	SystemTx   Transaction    `json:"system_tx"`
	Candidate  MatchCandidate `json:"candidate"`
}

// MatchingPassResult summarises one matching engine run.
type MatchingPassResult struct {
	MerchantID   int64 `json:"merchant_id"`
	ProviderPool int   `json:"provider_pool"`
	SystemPool   int   `json:"system_pool"`
	Suggested    int   `json:"suggested"`
	AutoApproved int   `json:"auto_approved"`
	Skipped      int   `json:"skipped"`
}

// ReportRow is one line of the tabular reconciliation export. Column order is
// fixed for audit compatibility: transaction id, counterpart id, confidence,
// amount, amount diff, commission.
type ReportRow struct {
	TransactionID   int64      `json:"transaction_id"`
	CounterpartID   *int64     `json:"counterpart_id"`
	Confidence      Confidence `json:"confidence"`
	AmountCents     int64      `json:"amount_cents"`
	AmountDiffCents int64      `json:"amount_diff_cents"`
	CommissionCents int64      `json:"commission_cents"`
}
