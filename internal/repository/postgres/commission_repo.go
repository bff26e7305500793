// internal/repository/postgres/commission_repo.go
package postgres

import (
	"context"
	"fmt"

	"mikrobill-service/internal/domain/billing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CommissionRepository struct {
	db *pgxpool.Pool
}

func NewCommissionRepository(db *pgxpool.Pool) *CommissionRepository {
	return &CommissionRepository{db: db}
}

// CreateWithTx appends a commission record inside an open ledger transaction.
// The ledger is append-only: reversals are new rows, never updates.
func (r *CommissionRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, rec *billing.CommissionRecord) error {
	query := `
		INSERT INTO commission_records (
			reference, merchant_id, transaction_id, plan_type, rate, amount_cents, reversal
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := tx.QueryRow(
		ctx, query,
		rec.Reference, rec.MerchantID, rec.TransactionID,
		rec.PlanType, rec.Rate, rec.AmountCents, rec.Reversal,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create commission record: %w", err)
	}
	return nil
}

// NetByTransactionWithTx returns the signed sum of all commission records for
// one system-side transaction. Used to size compensating reversals so the pair
// always nets to zero regardless of historical rate changes.
func (r *CommissionRepository) NetByTransactionWithTx(ctx context.Context, tx pgx.Tx, transactionID int64) (int64, error) {
	var net int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM commission_records WHERE transaction_id = $1`,
		transactionID,
	).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("failed to sum commission records: %w", err)
	}
	return net, nil
}

// LatestByTransactionWithTx returns the most recent commission record for a
// transaction, or nil when none exists.
func (r *CommissionRepository) LatestByTransactionWithTx(ctx context.Context, tx pgx.Tx, transactionID int64) (*billing.CommissionRecord, error) {
	query := `
		SELECT id, reference, merchant_id, transaction_id, plan_type, rate, amount_cents, reversal, created_at
		FROM commission_records
		WHERE transaction_id = $1
		ORDER BY id DESC
		LIMIT 1
	`

	var rec billing.CommissionRecord
	err := tx.QueryRow(ctx, query, transactionID).Scan(
		&rec.ID, &rec.Reference, &rec.MerchantID, &rec.TransactionID,
		&rec.PlanType, &rec.Rate, &rec.AmountCents, &rec.Reversal, &rec.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find commission record: %w", err)
	}
	return &rec, nil
}

// ListByMerchant retrieves commission history, newest first, including
// compensating entries.
func (r *CommissionRepository) ListByMerchant(ctx context.Context, merchantID int64, filters *billing.CommissionFilters) ([]billing.CommissionRecord, error) {
	query := `
		SELECT id, reference, merchant_id, transaction_id, plan_type, rate, amount_cents, reversal, created_at
		FROM commission_records
		WHERE merchant_id = $1
		  AND ($2::boolean IS NULL OR reversal = $2)
		ORDER BY id DESC
		LIMIT $3
	`

	limit := 100
	var reversals *bool
	if filters != nil {
		if filters.Limit > 0 && filters.Limit <= 1000 {
			limit = filters.Limit
		}
		reversals = filters.Reversals
	}

	rows, err := r.db.Query(ctx, query, merchantID, reversals, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list commission records: %w", err)
	}
	defer rows.Close()

	var out []billing.CommissionRecord
	for rows.Next() {
		var rec billing.CommissionRecord
		if err := rows.Scan(
			&rec.ID, &rec.Reference, &rec.MerchantID, &rec.TransactionID,
			&rec.PlanType, &rec.Rate, &rec.AmountCents, &rec.Reversal, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan commission row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commission rows: %w", err)
	}
	return out, nil
}

// NetByTransactionForMerchant returns the net commission per system-side
// transaction for the reconciliation report.
func (r *CommissionRepository) NetByTransactionForMerchant(ctx context.Context, merchantID int64) (map[int64]int64, error) {
	query := `
		SELECT transaction_id, COALESCE(SUM(amount_cents), 0)
		FROM commission_records
		WHERE merchant_id = $1
		GROUP BY transaction_id
	`

	rows, err := r.db.Query(ctx, query, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum commissions by transaction: %w", err)
	}
	defer rows.Close()

	sums := make(map[int64]int64)
	for rows.Next() {
		var txID, net int64
		if err := rows.Scan(&txID, &net); err != nil {
			return nil, fmt.Errorf("failed to scan commission sum: %w", err)
		}
		sums[txID] = net
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commission sum rows: %w", err)
	}
	return sums, nil
}
