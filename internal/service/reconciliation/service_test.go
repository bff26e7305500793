package reconciliation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"mikrobill-service/internal/domain/billing"
	domain "mikrobill-service/internal/domain/reconciliation"
	xerrors "mikrobill-service/internal/pkg/errors"
	"mikrobill-service/internal/service/matching"
	"mikrobill-service/internal/service/normalizer"
	"mikrobill-service/internal/service/reconciliation"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---------- in-memory fakes ----------

// fakeTx satisfies pgx.Tx for repositories that never touch the connection;
// only Commit and Rollback are ever called by the service.
type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeDB struct{}

func (fakeDB) BeginTx(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

type fakeLocker struct{}

func (fakeLocker) Acquire(context.Context, int64) (func(), bool, error) {
	return func() {}, true, nil
}

type fakeTxStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Transaction

	// lockOrder records the ids passed to FindByIDWithTx, the row-lock
	// acquisition order a real database would see.
	lockOrder []int64
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{nextID: 1, rows: make(map[int64]*domain.Transaction)}
}

func (f *fakeTxStore) Create(_ context.Context, txn *domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn.ID = f.nextID
	f.nextID++
	cp := *txn
	f.rows[txn.ID] = &cp
	return nil
}

func (f *fakeTxStore) FindByID(_ context.Context, id int64) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeTxStore) FindByIDWithTx(ctx context.Context, _ pgx.Tx, id int64) (*domain.Transaction, error) {
	f.mu.Lock()
	f.lockOrder = append(f.lockOrder, id)
	f.mu.Unlock()
	return f.FindByID(ctx, id)
}

func (f *fakeTxStore) ListUnmatched(_ context.Context, merchantID int64, source domain.Source, since time.Time) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for id := int64(1); id < f.nextID; id++ {
		row, ok := f.rows[id]
		if !ok {
			continue
		}
		if row.MerchantID == merchantID && row.Source == source &&
			row.MatchState == domain.MatchStateUnmatched && !row.OccurredAt.Before(since) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeTxStore) ListByMerchant(_ context.Context, merchantID int64, _ *domain.ListFilters) ([]domain.Transaction, error) {
	return f.allForMerchant(merchantID), nil
}

func (f *fakeTxStore) ListForReport(_ context.Context, merchantID int64) ([]domain.Transaction, error) {
	return f.allForMerchant(merchantID), nil
}

func (f *fakeTxStore) ListSuggestedProviderSide(_ context.Context, merchantID int64) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for id := int64(1); id < f.nextID; id++ {
		row, ok := f.rows[id]
		if !ok {
			continue
		}
		if row.MerchantID == merchantID && row.Source == domain.SourceProvider &&
			row.MatchState == domain.MatchStateSuggested {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeTxStore) TransitionWithTx(_ context.Context, _ pgx.Tx, id int64, fromState, toState domain.MatchState, counterpartID *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.MatchState != fromState {
		return xerrors.ErrStaleStateTransition
	}
	row.MatchState = toState
	row.CounterpartID = counterpartID
	return nil
}

func (f *fakeTxStore) allForMerchant(merchantID int64) []domain.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for id := int64(1); id < f.nextID; id++ {
		if row, ok := f.rows[id]; ok && row.MerchantID == merchantID {
			out = append(out, *row)
		}
	}
	return out
}

type fakeCommissionStore struct {
	mu      sync.Mutex
	nextID  int64
	records []billing.CommissionRecord
}

func newFakeCommissionStore() *fakeCommissionStore { return &fakeCommissionStore{nextID: 1} }

func (f *fakeCommissionStore) CreateWithTx(_ context.Context, _ pgx.Tx, rec *billing.CommissionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = f.nextID
	f.nextID++
	rec.CreatedAt = time.Now()
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeCommissionStore) NetByTransactionWithTx(_ context.Context, _ pgx.Tx, transactionID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var net int64
	for _, r := range f.records {
		if r.TransactionID == transactionID {
			net += r.AmountCents
		}
	}
	return net, nil
}

func (f *fakeCommissionStore) LatestByTransactionWithTx(_ context.Context, _ pgx.Tx, transactionID int64) (*billing.CommissionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].TransactionID == transactionID {
			cp := f.records[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCommissionStore) ListByMerchant(_ context.Context, merchantID int64, _ *billing.CommissionFilters) ([]billing.CommissionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []billing.CommissionRecord
	for _, r := range f.records {
		if r.MerchantID == merchantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeCommissionStore) NetByTransactionForMerchant(_ context.Context, merchantID int64) (map[int64]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sums := make(map[int64]int64)
	for _, r := range f.records {
		if r.MerchantID == merchantID {
			sums[r.TransactionID] += r.AmountCents
		}
	}
	return sums, nil
}

type fakePlanStore struct {
	plans map[int64]*billing.BillingPlan
}

func (f *fakePlanStore) Get(_ context.Context, merchantID int64) (*billing.BillingPlan, error) {
	plan, ok := f.plans[merchantID]
	if !ok {
		return nil, xerrors.ErrPlanNotFound
	}
	cp := *plan
	return &cp, nil
}

type fakeBalanceStore struct {
	mu       sync.Mutex
	balances map[int64]int64
}

func newFakeBalanceStore() *fakeBalanceStore {
	return &fakeBalanceStore{balances: make(map[int64]int64)}
}

func (f *fakeBalanceStore) AdjustBalanceWithTx(_ context.Context, _ pgx.Tx, merchantID, deltaCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[merchantID] += deltaCents
	return nil
}

// ---------- fixture ----------

type fixture struct {
	svc         *reconciliation.Service
	txStore     *fakeTxStore
	commissions *fakeCommissionStore
	balances    *fakeBalanceStore
}

func newFixture(t *testing.T, plan *billing.BillingPlan) *fixture {
	t.Helper()

	txStore := newFakeTxStore()
	commissions := newFakeCommissionStore()
	balances := newFakeBalanceStore()
	plans := &fakePlanStore{plans: map[int64]*billing.BillingPlan{plan.MerchantID: plan}}

	svc := reconciliation.NewService(
		txStore,
		commissions,
		plans,
		balances,
		fakeDB{},
		normalizer.NewService(zap.NewNop()),
		matching.NewEngine(matching.DefaultConfig()),
		fakeLocker{},
		zap.NewNop(),
		reconciliation.DefaultConfig(),
	)

	return &fixture{svc: svc, txStore: txStore, commissions: commissions, balances: balances}
}

func percentagePlan(merchantID int64, rate float64) *billing.BillingPlan {
	return &billing.BillingPlan{
		MerchantID:     merchantID,
		PlanType:       billing.PlanPercentageCommission,
		CommissionRate: rate,
	}
}

func ingestPair(t *testing.T, f *fixture, amountKES float64, skew time.Duration) (providerID, systemID int64) {
	t.Helper()
	ctx := context.Background()
	at := time.Now().Add(-time.Hour)

	p, err := f.svc.IngestProvider(ctx, &domain.IngestProviderInput{
		MerchantID: 1,
		ExternalID: "RCPT-" + time.Now().Format("150405.000000000"),
		Amount:     amountKES,
		Phone:      "254712345678",
		Reference:  "VOUCHER",
		OccurredAt: at,
	})
	require.NoError(t, err)

	s, err := f.svc.IngestSystem(ctx, &domain.IngestSystemInput{
		MerchantID: 1,
		ExternalID: "ORD-" + time.Now().Format("150405.000000000"),
		Amount:     amountKES,
		Phone:      "0712345678",
		Reference:  "VOUCHER",
		OccurredAt: at.Add(-skew),
	})
	require.NoError(t, err)

	return p.ID, s.ID
}

// ---------- tests ----------

func TestMatchingPassAutoApprovesExactMatch(t *testing.T) {
	f := newFixture(t, percentagePlan(1, 15))
	ctx := context.Background()

	providerID, systemID := ingestPair(t, f, 500, 10*time.Second)

	result, err := f.svc.RunMatchingPass(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AutoApproved)
	assert.Zero(t, result.Suggested)
	assert.Zero(t, result.Skipped)

	provider, err := f.txStore.FindByID(ctx, providerID)
	require.NoError(t, err)
	system, err := f.txStore.FindByID(ctx, systemID)
	require.NoError(t, err)

	assert.Equal(t, domain.MatchStateApproved, provider.MatchState)
	assert.Equal(t, domain.MatchStateApproved, system.MatchState)
	require.NotNil(t, provider.CounterpartID)
	require.NotNil(t, system.CounterpartID)
	assert.Equal(t, system.ID, *provider.CounterpartID)
	assert.Equal(t, provider.ID, *system.CounterpartID)

	// 500 KES at 15% -> 75 KES commission.
	require.Len(t, f.commissions.records, 1)
	assert.Equal(t, int64(7500), f.commissions.records[0].AmountCents)
	assert.Equal(t, int64(7500), f.balances.balances[1])
}

func TestMatchingPassSuggestsAmountMismatch(t *testing.T) {
	f := newFixture(t, percentagePlan(1, 15))
	ctx := context.Background()
	at := time.Now().Add(-time.Hour)

	_, err := f.svc.IngestProvider(ctx, &domain.IngestProviderInput{
		MerchantID: 1, ExternalID: "RCPT-1", Amount: 1505,
		Phone: "254712345678", Reference: "HOTSPOT", OccurredAt: at,
	})
	require.NoError(t, err)
	_, err = f.svc.IngestSystem(ctx, &domain.IngestSystemInput{
		MerchantID: 1, ExternalID: "ORD-1", Amount: 1500,
		Phone: "254712345678", Reference: "HOTSPOT", OccurredAt: at.Add(-time.Minute),
	})
	require.NoError(t, err)

	result, err := f.svc.RunMatchingPass(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, result.AutoApproved)
	assert.Equal(t, 1, result.Suggested)
	assert.Empty(t, f.commissions.records, "a suggested pair must not book commission")

	suggestions, err := f.svc.ListSuggestions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, domain.ConfidenceMedium, suggestions[0].Candidate.Confidence)
	assert.Equal(t, int64(500), suggestions[0].Candidate.AmountDiffCents)
}

func TestMatchingPassIsIdempotent(t *testing.T) {
	f := newFixture(t, percentagePlan(1, 15))
	ctx := context.Background()

	ingestPair(t, f, 500, 10*time.Second)

	first, err := f.svc.RunMatchingPass(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, first.AutoApproved)

	// Re-triggering against the now-drained pool finds nothing new.
	second, err := f.svc.RunMatchingPass(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, second.AutoApproved)
	assert.Zero(t, second.Suggested)
	require.Len(t, f.commissions.records, 1)
}

func TestApproveIsIdempotent(t *testing.T) {
	f := newFixture(t, percentagePlan(1, 20))
	ctx := context.Background()

	providerID, systemID := ingestPair(t, f, 1000, time.Minute)
	pair := &domain.PairInput{MerchantID: 1, ProviderTxID: providerID, SystemTxID: systemID}

	require.NoError(t, f.svc.Approve(ctx, pair))
	require.NoError(t, f.svc.Approve(ctx, pair), "re-approving an approved pair must succeed as a no-op")

	require.Len(t, f.commissions.records, 1)
	assert.Equal(t, int64(20000), f.balances.balances[1])
}

func TestApproveUnmatchApproveNetsSingleCommission(t *testing.T) {
	f := newFixture(t, percentagePlan(1, 15))
	ctx := context.Background()

	providerID, systemID := ingestPair(t, f, 500, time.Minute)
	pair := &domain.PairInput{MerchantID: 1, ProviderTxID: providerID, SystemTxID: systemID}

	require.NoError(t, f.svc.Approve(ctx, pair))
	require.NoError(t, f.svc.Unmatch(ctx, &domain.UnmatchInput{MerchantID: 1, TransactionID: providerID}))
	require.NoError(t, f.svc.Approve(ctx, pair))

	// Three append-only records: original, compensating reversal, re-approval.
	require.Len(t, f.commissions.records, 3)
	assert.True(t, f.commissions.records[1].Reversal)

	var net int64
	for _, r := range f.commissions.records {
		net += r.AmountCents
	}
	assert.Equal(t, int64(7500), net, "net commission must equal a single approval")
	assert.Equal(t, int64(7500), f.balances.balances[1])
}

func TestUnmatchIsIdempotent(t *testing.T) {
	f := newFixture(t, percentagePlan(1, 15))
	ctx := context.Background()

	providerID, systemID := ingestPair(t, f, 500, time.Minute)
	pair := &domain.PairInput{MerchantID: 1, ProviderTxID: providerID, SystemTxID: systemID}
	unmatch := &domain.UnmatchInput{MerchantID: 1, TransactionID: systemID}

	require.NoError(t, f.svc.Approve(ctx, pair))
	require.NoError(t, f.svc.Unmatch(ctx, unmatch))
	require.NoError(t, f.svc.Unmatch(ctx, unmatch), "unmatching an unmatched transaction must succeed as a no-op")

	require.Len(t, f.commissions.records, 2)
	assert.Zero(t, f.balances.balances[1])
}

func TestUnmatchAcquiresRowLocksInIDOrder(t *testing.T) {
	f := newFixture(t, percentagePlan(1, 15))
	ctx := context.Background()

	providerID, systemID := ingestPair(t, f, 500, time.Minute)
	require.NoError(t, f.svc.Approve(ctx, &domain.PairInput{MerchantID: 1, ProviderTxID: providerID, SystemTxID: systemID}))

	// Naming the higher-id side must still lock the lower id first, the same
	// order every other pair operation uses, so opposing unmatches of one
	// pair cannot deadlock.
	f.txStore.lockOrder = nil
	require.NoError(t, f.svc.Unmatch(ctx, &domain.UnmatchInput{MerchantID: 1, TransactionID: systemID}))
	assert.Equal(t, []int64{providerID, systemID}, f.txStore.lockOrder)
}

func TestUnmatchRejectsSuggestedPairWithoutCommission(t *testing.T) {
	f := newFixture(t, percentagePlan(1, 15))
	ctx := context.Background()

	providerID, systemID := ingestPair(t, f, 500, time.Minute)
	require.NoError(t, f.svc.Suggest(ctx, &domain.PairInput{MerchantID: 1, ProviderTxID: providerID, SystemTxID: systemID}))
	require.NoError(t, f.svc.Unmatch(ctx, &domain.UnmatchInput{MerchantID: 1, TransactionID: providerID}))

	provider, err := f.txStore.FindByID(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStateUnmatched, provider.MatchState)
	assert.Nil(t, provider.CounterpartID)
	assert.Empty(t, f.commissions.records)
}

func TestApproveRejectsClaimedTransaction(t *testing.T) {
	f := newFixture(t, percentagePlan(1, 15))
	ctx := context.Background()

	providerID, systemID := ingestPair(t, f, 500, time.Minute)
	otherProviderID, _ := ingestPair(t, f, 500, time.Minute)

	require.NoError(t, f.svc.Approve(ctx, &domain.PairInput{MerchantID: 1, ProviderTxID: providerID, SystemTxID: systemID}))

	// The system transaction already belongs to an approved pair; pairing it
	// with another provider must lose the compare-and-swap.
	err := f.svc.Approve(ctx, &domain.PairInput{MerchantID: 1, ProviderTxID: otherProviderID, SystemTxID: systemID})
	assert.ErrorIs(t, err, xerrors.ErrStaleStateTransition)
	require.Len(t, f.commissions.records, 1)
}

func TestNoTransactionHasTwoCounterparts(t *testing.T) {
	f := newFixture(t, percentagePlan(1, 15))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		ingestPair(t, f, float64(100*(i+1)), 30*time.Second)
	}

	_, err := f.svc.RunMatchingPass(ctx, 1)
	require.NoError(t, err)

	txs, err := f.txStore.ListForReport(ctx, 1)
	require.NoError(t, err)

	referencedBy := make(map[int64]int)
	for _, txn := range txs {
		if txn.CounterpartID != nil {
			referencedBy[*txn.CounterpartID]++
		}
		// counterpart set iff paired
		assert.Equal(t, txn.MatchState != domain.MatchStateUnmatched, txn.CounterpartID != nil)
	}
	for id, n := range referencedBy {
		assert.Equal(t, 1, n, "transaction %d referenced by more than one counterpart", id)
	}
}

func TestReportCarriesConfidenceAndCommission(t *testing.T) {
	f := newFixture(t, percentagePlan(1, 15))
	ctx := context.Background()

	providerID, systemID := ingestPair(t, f, 500, time.Minute)
	require.NoError(t, f.svc.Approve(ctx, &domain.PairInput{MerchantID: 1, ProviderTxID: providerID, SystemTxID: systemID}))

	rows, err := f.svc.Report(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := make(map[int64]domain.ReportRow)
	for _, row := range rows {
		byID[row.TransactionID] = row
	}

	systemRow := byID[systemID]
	require.NotNil(t, systemRow.CounterpartID)
	assert.Equal(t, providerID, *systemRow.CounterpartID)
	assert.Equal(t, domain.ConfidenceHigh, systemRow.Confidence)
	assert.Equal(t, int64(7500), systemRow.CommissionCents)

	providerRow := byID[providerID]
	assert.Zero(t, providerRow.CommissionCents, "commission is booked against the system side")
}

func TestFlatSubscriptionPlanBooksZeroCommission(t *testing.T) {
	plan := &billing.BillingPlan{
		MerchantID:     1,
		PlanType:       billing.PlanFlatSubscription,
		CommissionRate: 15,
	}
	f := newFixture(t, plan)
	ctx := context.Background()

	providerID, systemID := ingestPair(t, f, 500, time.Minute)
	require.NoError(t, f.svc.Approve(ctx, &domain.PairInput{MerchantID: 1, ProviderTxID: providerID, SystemTxID: systemID}))

	require.Len(t, f.commissions.records, 1)
	assert.Zero(t, f.commissions.records[0].AmountCents)
	assert.Zero(t, f.balances.balances[1])
}
