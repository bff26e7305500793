package reconciliation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mikrobill-service/internal/domain/billing"
	domain "mikrobill-service/internal/domain/reconciliation"
	xerrors "mikrobill-service/internal/pkg/errors"
	"mikrobill-service/internal/service/matching"
	"mikrobill-service/internal/service/normalizer"
	service "mikrobill-service/internal/service/reconciliation"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// reportTxStore serves a canned report snapshot; the write paths are never
// reached by the report endpoint.
type reportTxStore struct {
	rows []domain.Transaction
}

func (s *reportTxStore) Create(context.Context, *domain.Transaction) error { return nil }

func (s *reportTxStore) FindByID(context.Context, int64) (*domain.Transaction, error) {
	return nil, xerrors.ErrNotFound
}

func (s *reportTxStore) FindByIDWithTx(context.Context, pgx.Tx, int64) (*domain.Transaction, error) {
	return nil, xerrors.ErrNotFound
}

func (s *reportTxStore) ListUnmatched(context.Context, int64, domain.Source, time.Time) ([]domain.Transaction, error) {
	return nil, nil
}

func (s *reportTxStore) ListByMerchant(context.Context, int64, *domain.ListFilters) ([]domain.Transaction, error) {
	return nil, nil
}

func (s *reportTxStore) ListForReport(context.Context, int64) ([]domain.Transaction, error) {
	return s.rows, nil
}

func (s *reportTxStore) ListSuggestedProviderSide(context.Context, int64) ([]domain.Transaction, error) {
	return nil, nil
}

func (s *reportTxStore) TransitionWithTx(context.Context, pgx.Tx, int64, domain.MatchState, domain.MatchState, *int64) error {
	return xerrors.ErrStaleStateTransition
}

type reportCommissionStore struct {
	sums map[int64]int64
}

func (s *reportCommissionStore) CreateWithTx(context.Context, pgx.Tx, *billing.CommissionRecord) error {
	return nil
}

func (s *reportCommissionStore) NetByTransactionWithTx(context.Context, pgx.Tx, int64) (int64, error) {
	return 0, nil
}

func (s *reportCommissionStore) LatestByTransactionWithTx(context.Context, pgx.Tx, int64) (*billing.CommissionRecord, error) {
	return nil, nil
}

func (s *reportCommissionStore) ListByMerchant(context.Context, int64, *billing.CommissionFilters) ([]billing.CommissionRecord, error) {
	return nil, nil
}

func (s *reportCommissionStore) NetByTransactionForMerchant(context.Context, int64) (map[int64]int64, error) {
	return s.sums, nil
}

type stubPlanStore struct{}

func (stubPlanStore) Get(context.Context, int64) (*billing.BillingPlan, error) {
	return nil, xerrors.ErrPlanNotFound
}

type stubBalanceStore struct{}

func (stubBalanceStore) AdjustBalanceWithTx(context.Context, pgx.Tx, int64, int64) error { return nil }

type stubDB struct{}

func (stubDB) BeginTx(context.Context) (pgx.Tx, error) { return nil, nil }

type stubLocker struct{}

func (stubLocker) Acquire(context.Context, int64) (func(), bool, error) {
	return func() {}, true, nil
}

func reportRouter(txStore *reportTxStore, commissions *reportCommissionStore) *gin.Engine {
	gin.SetMode(gin.TestMode)

	svc := service.NewService(
		txStore,
		commissions,
		stubPlanStore{},
		stubBalanceStore{},
		stubDB{},
		normalizer.NewService(zap.NewNop()),
		matching.NewEngine(matching.DefaultConfig()),
		stubLocker{},
		zap.NewNop(),
		service.DefaultConfig(),
	)
	h := NewReconciliationHandler(svc)

	r := gin.New()
	r.GET("/api/v1/merchants/:merchant_id/reconciliation/report", h.Report)
	return r
}

func TestReportCSVColumnsAndAmounts(t *testing.T) {
	phone := "254712345678"
	at := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	providerID, systemID := int64(1), int64(2)

	txStore := &reportTxStore{rows: []domain.Transaction{
		{
			ID: providerID, MerchantID: 7, Source: domain.SourceProvider,
			AmountCents: 49500, Phone: &phone, PaymentReference: "VOUCHER",
			OccurredAt: at, MatchState: domain.MatchStateApproved, CounterpartID: &systemID,
		},
		{
			ID: systemID, MerchantID: 7, Source: domain.SourceSystem,
			AmountCents: 50000, Phone: &phone, PaymentReference: "VOUCHER",
			OccurredAt: at.Add(-time.Minute), MatchState: domain.MatchStateApproved, CounterpartID: &providerID,
		},
		{
			ID: 3, MerchantID: 7, Source: domain.SourceProvider,
			AmountCents: 1000, OccurredAt: at, MatchState: domain.MatchStateUnmatched,
		},
	}}
	commissions := &reportCommissionStore{sums: map[int64]int64{systemID: 7425}}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/merchants/7/reconciliation/report", nil)
	reportRouter(txStore, commissions).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "reconciliation-7.csv")

	lines := strings.Split(strings.TrimRight(w.Body.String(), "\n"), "\n")
	require.Len(t, lines, 4)

	assert.Equal(t, "transaction_id,counterpart_id,confidence,amount,amount_diff,commission", lines[0])
	// The amounts differ by 5 KES, so the pair scores medium on phone,
	// reference and time; the diff column carries its sign.
	assert.Equal(t, "1,2,medium,495.00,-5.00,0.00", lines[1])
	assert.Equal(t, "2,1,medium,500.00,-5.00,74.25", lines[2])
	// An unmatched transaction exports empty counterpart and confidence.
	assert.Equal(t, "3,,,10.00,0.00,0.00", lines[3])
}

func TestFormatCents(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{7500, "75.00"},
		{-500, "-5.00"},
		{0, "0.00"},
		{-5, "-0.05"},
		{101, "1.01"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatCents(tc.cents), "cents %d", tc.cents)
	}
}
