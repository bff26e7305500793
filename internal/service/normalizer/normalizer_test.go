package normalizer_test

import (
	"math"
	"testing"
	"time"

	"mikrobill-service/internal/domain/reconciliation"
	xerrors "mikrobill-service/internal/pkg/errors"
	"mikrobill-service/internal/service/normalizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validProviderInput() *reconciliation.IngestProviderInput {
	return &reconciliation.IngestProviderInput{
		MerchantID: 1,
		ExternalID: "SFD3K2LQ9X",
		Amount:     500,
		Phone:      "0712345678",
		Reference:  "VOUCHER",
		OccurredAt: time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
	}
}

func TestNormalizeProvider(t *testing.T) {
	svc := normalizer.NewService(zap.NewNop())

	txn, err := svc.NormalizeProvider(validProviderInput())
	require.NoError(t, err)

	assert.Equal(t, reconciliation.SourceProvider, txn.Source)
	assert.Equal(t, int64(50000), txn.AmountCents)
	assert.Equal(t, "KES", txn.Currency)
	require.NotNil(t, txn.Phone)
	assert.Equal(t, "254712345678", *txn.Phone)
	assert.Equal(t, reconciliation.MatchStateUnmatched, txn.MatchState)
	assert.Nil(t, txn.CounterpartID)
	assert.NotEmpty(t, txn.Reference)
}

func TestNormalizeKeepsRecordOnBadPhone(t *testing.T) {
	svc := normalizer.NewService(zap.NewNop())

	in := validProviderInput()
	in.Phone = "12345"

	txn, err := svc.NormalizeProvider(in)
	require.NoError(t, err, "a bad phone must not drop the record")
	assert.Nil(t, txn.Phone)
	require.NotNil(t, txn.NormalizationNote)
	assert.Contains(t, *txn.NormalizationNote, "invalid phone format")
}

func TestNormalizeSystemWithoutPhone(t *testing.T) {
	svc := normalizer.NewService(zap.NewNop())

	txn, err := svc.NormalizeSystem(&reconciliation.IngestSystemInput{
		MerchantID: 1,
		ExternalID: "ORD-1001",
		Amount:     1500,
		Reference:  "HOTSPOT",
		OccurredAt: time.Date(2025, 3, 10, 14, 29, 50, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Nil(t, txn.Phone)
	assert.Nil(t, txn.NormalizationNote, "a missing phone is not a normalization failure")
	assert.Equal(t, int64(150000), txn.AmountCents)
}

func TestNormalizeRejectsBadAmounts(t *testing.T) {
	svc := normalizer.NewService(zap.NewNop())

	for _, amount := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1), 0.001} {
		in := validProviderInput()
		in.Amount = amount

		_, err := svc.NormalizeProvider(in)
		assert.ErrorIs(t, err, xerrors.ErrInvalidAmount, "amount %v", amount)
	}
}

func TestNormalizeRoundsToMinorUnit(t *testing.T) {
	svc := normalizer.NewService(zap.NewNop())

	cases := []struct {
		amount float64
		cents  int64
	}{
		{19.995, 2000},
		// 1.005 has no exact float representation; rounding must follow the
		// decimal digits the caller sent, not the slightly-low float.
		{1.005, 101},
		{0.005, 1},
		{99.99, 9999},
		{500, 50000},
	}
	for _, tc := range cases {
		in := validProviderInput()
		in.Amount = tc.amount

		txn, err := svc.NormalizeProvider(in)
		require.NoError(t, err)
		assert.Equal(t, tc.cents, txn.AmountCents, "amount %v", tc.amount)
	}
}
