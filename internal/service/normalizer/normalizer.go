// internal/service/normalizer/normalizer.go
package normalizer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"mikrobill-service/internal/domain/reconciliation"
	xerrors "mikrobill-service/internal/pkg/errors"
	"mikrobill-service/internal/pkg/phone"
	"mikrobill-service/internal/pkg/reference"

	"go.uber.org/zap"
)

const defaultCurrency = "KES"

// Service canonicalizes heterogeneous payment-side records (provider webhook
// payloads, internal orders) into the common Transaction shape.
type Service struct {
	logger *zap.Logger
}

func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger}
}

// NormalizeProvider converts a confirmed mobile-money payment record.
func (s *Service) NormalizeProvider(in *reconciliation.IngestProviderInput) (*reconciliation.Transaction, error) {
	return s.normalize(
		in.MerchantID, reconciliation.SourceProvider, in.ExternalID,
		in.Amount, in.Phone, in.Reference, in.OccurredAt,
	)
}

// NormalizeSystem converts an internal order record.
func (s *Service) NormalizeSystem(in *reconciliation.IngestSystemInput) (*reconciliation.Transaction, error) {
	return s.normalize(
		in.MerchantID, reconciliation.SourceSystem, in.ExternalID,
		in.Amount, in.Phone, in.Reference, in.OccurredAt,
	)
}

func (s *Service) normalize(merchantID int64, source reconciliation.Source, externalID string, amount float64, rawPhone, rawReference string, occurredAt time.Time) (*reconciliation.Transaction, error) {
	amountCents, err := normalizeAmount(amount)
	if err != nil {
		return nil, err
	}
	if merchantID <= 0 {
		return nil, fmt.Errorf("%w: merchant id required", xerrors.ErrInvalidInput)
	}
	if strings.TrimSpace(externalID) == "" {
		return nil, fmt.Errorf("%w: external id required", xerrors.ErrInvalidInput)
	}
	if occurredAt.IsZero() {
		return nil, fmt.Errorf("%w: occurred_at required", xerrors.ErrInvalidInput)
	}

	txn := &reconciliation.Transaction{
		Reference:        reference.NewTransaction(),
		MerchantID:       merchantID,
		Source:           source,
		ExternalID:       strings.TrimSpace(externalID),
		AmountCents:      amountCents,
		Currency:         defaultCurrency,
		PaymentReference: strings.TrimSpace(rawReference),
		OccurredAt:       occurredAt.UTC(),
		MatchState:       reconciliation.MatchStateUnmatched,
	}

	// A bad phone never drops the record: amount, reference and time matching
	// must still be attempted, so the field is nulled and the failure noted.
	if raw := strings.TrimSpace(rawPhone); raw != "" {
		normalized, err := phone.Normalize(raw)
		if err != nil {
			note := fmt.Sprintf("%s: %q", xerrors.ErrInvalidPhoneFormat.Error(), raw)
			txn.NormalizationNote = &note
			s.logger.Warn("kept transaction without phone",
				zap.String("reference", txn.Reference),
				zap.String("raw_phone", raw),
				zap.Int64("merchant_id", merchantID),
			)
		} else {
			txn.Phone = &normalized
		}
	}

	return txn, nil
}

// normalizeAmount converts a decimal KES amount to minor units, rejecting
// non-positive and non-finite values. Rounding is half-up on the decimal
// rendering of the value, so 1.005 becomes 101 cents even though the float
// nearest to 1.005 sits just below it.
func normalizeAmount(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("%w: amount must be finite", xerrors.ErrInvalidAmount)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", xerrors.ErrInvalidAmount)
	}

	// Shortest decimal that round-trips to the same float, i.e. the digits
	// the caller actually sent.
	text := strconv.FormatFloat(amount, 'f', -1, 64)
	intPart, fracPart, _ := strings.Cut(text, ".")

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil || whole >= math.MaxInt64/100 {
		return 0, fmt.Errorf("%w: amount out of range", xerrors.ErrInvalidAmount)
	}
	cents := whole * 100

	fracPart += "00"
	cents += int64(fracPart[0]-'0')*10 + int64(fracPart[1]-'0')
	if len(fracPart) > 2 && fracPart[2] >= '5' {
		cents++
	}

	if cents <= 0 {
		return 0, fmt.Errorf("%w: amount below minor unit", xerrors.ErrInvalidAmount)
	}
	return cents, nil
}
