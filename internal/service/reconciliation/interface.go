// internal/service/reconciliation/interface.go
package reconciliation

import (
	"context"
	"time"

	"mikrobill-service/internal/domain/billing"
	"mikrobill-service/internal/domain/reconciliation"

	"github.com/jackc/pgx/v5"
)

// TransactionRepository is the ledger's durable store of transactions.
type TransactionRepository interface {
	Create(ctx context.Context, txn *reconciliation.Transaction) error
	FindByID(ctx context.Context, id int64) (*reconciliation.Transaction, error)
	FindByIDWithTx(ctx context.Context, tx pgx.Tx, id int64) (*reconciliation.Transaction, error)
	ListUnmatched(ctx context.Context, merchantID int64, source reconciliation.Source, since time.Time) ([]reconciliation.Transaction, error)
	ListByMerchant(ctx context.Context, merchantID int64, filters *reconciliation.ListFilters) ([]reconciliation.Transaction, error)
	ListForReport(ctx context.Context, merchantID int64) ([]reconciliation.Transaction, error)
	ListSuggestedProviderSide(ctx context.Context, merchantID int64) ([]reconciliation.Transaction, error)

	// TransitionWithTx applies a compare-and-swap state transition and returns
	// xerrors.ErrStaleStateTransition when the row left fromState concurrently.
	TransitionWithTx(ctx context.Context, tx pgx.Tx, id int64, fromState, toState reconciliation.MatchState, counterpartID *int64) error
}

// CommissionRepository is the append-only commission ledger.
type CommissionRepository interface {
	CreateWithTx(ctx context.Context, tx pgx.Tx, rec *billing.CommissionRecord) error
	NetByTransactionWithTx(ctx context.Context, tx pgx.Tx, transactionID int64) (int64, error)
	LatestByTransactionWithTx(ctx context.Context, tx pgx.Tx, transactionID int64) (*billing.CommissionRecord, error)
	ListByMerchant(ctx context.Context, merchantID int64, filters *billing.CommissionFilters) ([]billing.CommissionRecord, error)
	NetByTransactionForMerchant(ctx context.Context, merchantID int64) (map[int64]int64, error)
}

// PlanRepository reads the external billing collaborator's plan surface.
type PlanRepository interface {
	Get(ctx context.Context, merchantID int64) (*billing.BillingPlan, error)
}

// BalanceRepository adjusts the withdrawable payout balance inside a ledger
// transaction.
type BalanceRepository interface {
	AdjustBalanceWithTx(ctx context.Context, tx pgx.Tx, merchantID, deltaCents int64) error
}

// TxBeginner opens database transactions for both-or-neither ledger writes.
type TxBeginner interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
}

// MerchantLocker serializes batch matching passes per merchant.
type MerchantLocker interface {
	Acquire(ctx context.Context, merchantID int64) (release func(), ok bool, err error)
}
