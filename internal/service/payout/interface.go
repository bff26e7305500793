// internal/service/payout/interface.go
package payout

import (
	"context"
	"time"

	"mikrobill-service/internal/domain/billing"

	"github.com/jackc/pgx/v5"
)

// PayoutRepository is the durable store of payout events and the withdrawable
// balance.
type PayoutRepository interface {
	GetWithdrawable(ctx context.Context, merchantID int64) (int64, time.Time, error)
	AdjustBalanceWithTx(ctx context.Context, tx pgx.Tx, merchantID, deltaCents int64) error
	CreateEvent(ctx context.Context, ev *billing.PayoutEvent) error
	FindEventByReference(ctx context.Context, ref string) (*billing.PayoutEvent, error)

	// SettleEventWithTx applies the pending -> completed/failed transition and
	// returns xerrors.ErrDuplicateDisbursement when the event already settled.
	SettleEventWithTx(ctx context.Context, tx pgx.Tx, id int64, status billing.PayoutStatus, failureReason *string) error
	HasPendingEvent(ctx context.Context, merchantID int64) (bool, error)
	ListEvents(ctx context.Context, merchantID int64, limit int) ([]billing.PayoutEvent, error)
}

// PlanRepository reads the billing collaborator's plan surface.
type PlanRepository interface {
	Get(ctx context.Context, merchantID int64) (*billing.BillingPlan, error)
	ListBySchedule(ctx context.Context, schedule billing.PayoutSchedule) ([]billing.BillingPlan, error)
}

// TxBeginner opens database transactions for settle-and-decrement writes.
type TxBeginner interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
}
