// internal/domain/reconciliation/entity.go
package reconciliation

import (
	"time"
)

type Source string

const (
	SourceProvider Source = "provider"
	SourceSystem   Source = "system"
)

type MatchState string

const (
	MatchStateUnmatched MatchState = "unmatched"
	MatchStateSuggested MatchState = "suggested"
	MatchStateApproved  MatchState = "approved"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Signal is one independent agreement dimension between a provider and a
// system transaction.
type Signal string

const (
	SignalAmount    Signal = "amount"
	SignalPhone     Signal = "phone"
	SignalReference Signal = "reference"
	SignalTime      Signal = "time"
)

// Transaction is one payment-side event, either from the mobile-money gateway
// (provider) or from internal order creation (system).
//
// CounterpartID is set if and only if MatchState is suggested or approved, and
// the relation is symmetric: if A points at B then B points at A.
type Transaction struct {
	ID        int64  `json:"id" db:"id"`
	Reference string `json:"reference" db:"reference"`

	MerchantID int64  `json:"merchant_id" db:"merchant_id"`
	Source     Source `json:"source" db:"source"`

	// ExternalID carries the provider receipt number or the internal order id.
	ExternalID string `json:"external_id" db:"external_id"`

	// AmountCents is the amount in minor currency units (KES cents).
	AmountCents int64 `json:"amount_cents" db:"amount_cents"`
	Currency    string `json:"currency" db:"currency"`

	// Phone is the normalized international-format number. Nil when the record
	// had no phone or normalization failed (see NormalizationNote).
	Phone *string `json:"phone,omitempty" db:"phone"`

	// PaymentReference is the free-text account reference supplied at payment time.
	PaymentReference string `json:"payment_reference" db:"payment_reference"`

	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`

	MatchState    MatchState `json:"match_state" db:"match_state"`
	CounterpartID *int64     `json:"counterpart_id,omitempty" db:"counterpart_id"`

	// NormalizationNote records a non-fatal normalization failure so the
	// transaction stays discoverable for manual reconciliation.
	NormalizationNote *string `json:"normalization_note,omitempty" db:"normalization_note"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MatchCandidate is a proposed, unconfirmed pairing produced by one matching
// pass. Confidence and signals are derived from the two transactions and are
// recomputable at any time; candidates are never persisted as such.
type MatchCandidate struct {
	ProviderTxID int64 `json:"provider_tx_id"`
	SystemTxID   int64 `json:"system_tx_id"`

	Confidence Confidence `json:"confidence"`
	MatchedBy  []Signal   `json:"matched_by"`

	// AmountDiffCents is provider.amount - system.amount in minor units.
	AmountDiffCents int64 `json:"amount_diff_cents"`

	// TimeGap is the absolute distance between the two event timestamps.
	TimeGap time.Duration `json:"time_gap"`

	// Ambiguous marks a candidate whose transaction had more than one equally
	// ranked alternative. Ambiguous candidates are never auto-approved.
	Ambiguous bool `json:"ambiguous"`
}

// AutoApprovable reports whether the candidate qualifies for approval without
// operator review: full signal agreement, exact amount, no ambiguity.
func (c MatchCandidate) AutoApprovable() bool {
	return c.Confidence == ConfidenceHigh && c.AmountDiffCents == 0 && !c.Ambiguous
}
