// internal/repository/postgres/payout_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mikrobill-service/internal/domain/billing"
	xerrors "mikrobill-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PayoutRepository struct {
	db *pgxpool.Pool
}

func NewPayoutRepository(db *pgxpool.Pool) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// GetWithdrawable returns the merchant's current withdrawable balance in
// minor units. A merchant with no balance row has earned nothing yet.
func (r *PayoutRepository) GetWithdrawable(ctx context.Context, merchantID int64) (int64, time.Time, error) {
	var cents int64
	var updatedAt time.Time
	err := r.db.QueryRow(ctx,
		`SELECT withdrawable_cents, updated_at FROM payout_balances WHERE merchant_id = $1`,
		merchantID,
	).Scan(&cents, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get withdrawable balance: %w", err)
	}
	return cents, updatedAt, nil
}

// AdjustBalanceWithTx moves the withdrawable balance by delta (positive for a
// new commission record, negative for a confirmed disbursement or reversal)
// inside the same transaction as the write that justifies the move.
func (r *PayoutRepository) AdjustBalanceWithTx(ctx context.Context, tx pgx.Tx, merchantID, deltaCents int64) error {
	query := `
		INSERT INTO payout_balances (merchant_id, withdrawable_cents, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (merchant_id) DO UPDATE
		SET withdrawable_cents = payout_balances.withdrawable_cents + EXCLUDED.withdrawable_cents,
		    updated_at = now()
	`
	if _, err := tx.Exec(ctx, query, merchantID, deltaCents); err != nil {
		return fmt.Errorf("failed to adjust payout balance: %w", err)
	}
	return nil
}

// CreateEvent records a pending payout request. The balance is untouched until
// the disbursement is confirmed. A partial unique index allows at most one
// pending event per merchant, so a racing second request maps to ErrConflict
// even when both passed the pre-insert pending check.
func (r *PayoutRepository) CreateEvent(ctx context.Context, ev *billing.PayoutEvent) error {
	query := `
		INSERT INTO payout_events (reference, merchant_id, amount_cents, method, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, requested_at
	`

	err := r.db.QueryRow(
		ctx, query,
		ev.Reference, ev.MerchantID, ev.AmountCents, ev.Method, billing.PayoutStatusPending,
	).Scan(&ev.ID, &ev.RequestedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return xerrors.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create payout event: %w", err)
	}
	ev.Status = billing.PayoutStatusPending
	return nil
}

// FindEventByReference retrieves one payout event.
func (r *PayoutRepository) FindEventByReference(ctx context.Context, ref string) (*billing.PayoutEvent, error) {
	query := `
		SELECT id, reference, merchant_id, amount_cents, method, status, failure_reason, requested_at, confirmed_at
		FROM payout_events
		WHERE reference = $1
	`

	var ev billing.PayoutEvent
	err := r.db.QueryRow(ctx, query, ref).Scan(
		&ev.ID, &ev.Reference, &ev.MerchantID, &ev.AmountCents,
		&ev.Method, &ev.Status, &ev.FailureReason, &ev.RequestedAt, &ev.ConfirmedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrPayoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payout event: %w", err)
	}
	return &ev, nil
}

// SettleEventWithTx moves a payout event pending -> completed/failed. The CAS
// on status makes a redelivered confirmation land on zero rows, which the
// service treats as a duplicate.
func (r *PayoutRepository) SettleEventWithTx(ctx context.Context, tx pgx.Tx, id int64, status billing.PayoutStatus, failureReason *string) error {
	query := `
		UPDATE payout_events
		SET status = $2, failure_reason = $3, confirmed_at = now()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := tx.Exec(ctx, query, id, status, failureReason)
	if err != nil {
		return fmt.Errorf("failed to settle payout event %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrDuplicateDisbursement
	}
	return nil
}

// HasPendingEvent reports whether a payout request is already in flight for
// the merchant.
func (r *PayoutRepository) HasPendingEvent(ctx context.Context, merchantID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM payout_events WHERE merchant_id = $1 AND status = 'pending')`,
		merchantID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending payouts: %w", err)
	}
	return exists, nil
}

// ListEvents retrieves payout history, newest first.
func (r *PayoutRepository) ListEvents(ctx context.Context, merchantID int64, limit int) ([]billing.PayoutEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, reference, merchant_id, amount_cents, method, status, failure_reason, requested_at, confirmed_at
		FROM payout_events
		WHERE merchant_id = $1
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, merchantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payout events: %w", err)
	}
	defer rows.Close()

	var out []billing.PayoutEvent
	for rows.Next() {
		var ev billing.PayoutEvent
		if err := rows.Scan(
			&ev.ID, &ev.Reference, &ev.MerchantID, &ev.AmountCents,
			&ev.Method, &ev.Status, &ev.FailureReason, &ev.RequestedAt, &ev.ConfirmedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payout row: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payout rows: %w", err)
	}
	return out, nil
}
