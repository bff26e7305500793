package commission_test

import (
	"testing"

	"mikrobill-service/internal/domain/billing"
	"mikrobill-service/internal/domain/reconciliation"
	"mikrobill-service/internal/service/commission"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount(t *testing.T) {
	tests := []struct {
		name        string
		amountCents int64
		rate        float64
		want        int64
	}{
		{name: "15 percent of 500 KES", amountCents: 50000, rate: 15, want: 7500},
		{name: "20 percent of 500 KES", amountCents: 50000, rate: 20, want: 10000},
		{name: "zero rate", amountCents: 50000, rate: 0, want: 0},
		{name: "zero amount", amountCents: 0, rate: 15, want: 0},
		{name: "half rounds up", amountCents: 10, rate: 15, want: 2},    // 1.5 -> 2
		{name: "below half rounds down", amountCents: 9, rate: 15, want: 1}, // 1.35 -> 1
		{name: "fractional rate", amountCents: 100000, rate: 12.5, want: 12500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, commission.Amount(tt.amountCents, tt.rate))
		})
	}
}

func TestAmountIsMonotonicInAmount(t *testing.T) {
	const rate = 15.0
	prev := int64(-1)
	for cents := int64(0); cents <= 10000; cents += 7 {
		got := commission.Amount(cents, rate)
		assert.GreaterOrEqual(t, got, prev, "commission must not decrease as amount grows (at %d cents)", cents)
		prev = got
	}
}

func TestForApprovedMatch(t *testing.T) {
	systemTx := &reconciliation.Transaction{
		ID:          42,
		MerchantID:  7,
		Source:      reconciliation.SourceSystem,
		AmountCents: 50000,
	}

	t.Run("percentage plan", func(t *testing.T) {
		plan := &billing.BillingPlan{
			MerchantID:     7,
			PlanType:       billing.PlanPercentageCommission,
			CommissionRate: 15,
		}

		rec, err := commission.ForApprovedMatch(systemTx, plan)
		require.NoError(t, err)
		assert.Equal(t, int64(7500), rec.AmountCents)
		assert.Equal(t, int64(42), rec.TransactionID)
		assert.Equal(t, 15.0, rec.Rate)
		assert.False(t, rec.Reversal)
	})

	t.Run("flat subscription plan earns zero", func(t *testing.T) {
		plan := &billing.BillingPlan{
			MerchantID:     7,
			PlanType:       billing.PlanFlatSubscription,
			CommissionRate: 15, // ignored for flat plans
		}

		rec, err := commission.ForApprovedMatch(systemTx, plan)
		require.NoError(t, err)
		assert.Zero(t, rec.AmountCents)
		assert.Zero(t, rec.Rate)
	})

	t.Run("provider side rejected", func(t *testing.T) {
		providerTx := &reconciliation.Transaction{Source: reconciliation.SourceProvider}
		_, err := commission.ForApprovedMatch(providerTx, &billing.BillingPlan{})
		assert.Error(t, err)
	})

	t.Run("rate out of range rejected", func(t *testing.T) {
		plan := &billing.BillingPlan{PlanType: billing.PlanPercentageCommission, CommissionRate: 120}
		_, err := commission.ForApprovedMatch(systemTx, plan)
		assert.Error(t, err)
	})
}

func TestReversalCancelsNet(t *testing.T) {
	original := &billing.CommissionRecord{
		MerchantID:    7,
		TransactionID: 42,
		PlanType:      billing.PlanPercentageCommission,
		Rate:          15,
		AmountCents:   7500,
	}

	rev := commission.Reversal(original, 7500)
	assert.Equal(t, int64(-7500), rev.AmountCents)
	assert.True(t, rev.Reversal)
	assert.Equal(t, original.TransactionID, rev.TransactionID)
	assert.Zero(t, original.AmountCents+rev.AmountCents)
}
