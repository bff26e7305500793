// internal/repository/postgres/transaction_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mikrobill-service/internal/domain/reconciliation"
	xerrors "mikrobill-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const transactionColumns = `
	id, reference, merchant_id, source, external_id,
	amount_cents, currency, phone, payment_reference, occurred_at,
	match_state, counterpart_id, normalization_note, created_at, updated_at
`

type TransactionRepository struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a normalized transaction in the unmatched state.
// A duplicate (merchant, source, external_id) maps to ErrConflict so the
// ingestion collaborator can safely redeliver.
func (r *TransactionRepository) Create(ctx context.Context, txn *reconciliation.Transaction) error {
	query := `
		INSERT INTO transactions (
			reference, merchant_id, source, external_id,
			amount_cents, currency, phone, payment_reference, occurred_at,
			match_state, normalization_note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		txn.Reference, txn.MerchantID, txn.Source, txn.ExternalID,
		txn.AmountCents, txn.Currency, txn.Phone, txn.PaymentReference, txn.OccurredAt,
		reconciliation.MatchStateUnmatched, txn.NormalizationNote,
	).Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return xerrors.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	txn.MatchState = reconciliation.MatchStateUnmatched
	return nil
}

// FindByID retrieves a transaction by ID.
func (r *TransactionRepository) FindByID(ctx context.Context, id int64) (*reconciliation.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// FindByIDWithTx retrieves a transaction inside an open transaction, locking
// the row for the remainder of the transaction.
func (r *TransactionRepository) FindByIDWithTx(ctx context.Context, tx pgx.Tx, id int64) (*reconciliation.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	return r.scanOne(tx.QueryRow(ctx, query, id))
}

// ListUnmatched retrieves the unmatched pool for one merchant and source
// inside the matching window, oldest first.
func (r *TransactionRepository) ListUnmatched(ctx context.Context, merchantID int64, source reconciliation.Source, since time.Time) ([]reconciliation.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE merchant_id = $1 AND source = $2 AND match_state = 'unmatched' AND occurred_at >= $3
		ORDER BY occurred_at, id
	`

	rows, err := r.db.Query(ctx, query, merchantID, source, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmatched transactions: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListByMerchant retrieves transactions for one merchant with optional filters.
func (r *TransactionRepository) ListByMerchant(ctx context.Context, merchantID int64, filters *reconciliation.ListFilters) ([]reconciliation.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE merchant_id = $1
		  AND ($2::text IS NULL OR source = $2)
		  AND ($3::text IS NULL OR match_state = $3)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $4
	`

	limit := 100
	var source, state *string
	if filters != nil {
		if filters.Limit > 0 && filters.Limit <= 1000 {
			limit = filters.Limit
		}
		if filters.Source != nil {
			s := string(*filters.Source)
			source = &s
		}
		if filters.MatchState != nil {
			s := string(*filters.MatchState)
			state = &s
		}
	}

	rows, err := r.db.Query(ctx, query, merchantID, source, state, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListForReport retrieves every transaction for a merchant, oldest first,
// for the tabular reconciliation export.
func (r *TransactionRepository) ListForReport(ctx context.Context, merchantID int64) ([]reconciliation.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE merchant_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for report: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListSuggestedProviderSide retrieves the provider side of every suggested
// pair for a merchant; counterparts are fetched separately.
func (r *TransactionRepository) ListSuggestedProviderSide(ctx context.Context, merchantID int64) ([]reconciliation.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE merchant_id = $1 AND source = 'provider' AND match_state = 'suggested'
		ORDER BY occurred_at, id
	`

	rows, err := r.db.Query(ctx, query, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggested transactions: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// TransitionWithTx applies one compare-and-swap state transition. The update
// only lands if the row is still in fromState; anything else means a
// concurrent pass or operator won the race and the caller gets
// ErrStaleStateTransition.
func (r *TransactionRepository) TransitionWithTx(ctx context.Context, tx pgx.Tx, id int64, fromState, toState reconciliation.MatchState, counterpartID *int64) error {
	query := `
		UPDATE transactions
		SET match_state = $3, counterpart_id = $4, updated_at = now()
		WHERE id = $1 AND match_state = $2
	`

	tag, err := tx.Exec(ctx, query, id, fromState, toState, counterpartID)
	if err != nil {
		return fmt.Errorf("failed to transition transaction %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrStaleStateTransition
	}
	return nil
}

func (r *TransactionRepository) scanOne(row pgx.Row) (*reconciliation.Transaction, error) {
	var txn reconciliation.Transaction
	err := row.Scan(
		&txn.ID, &txn.Reference, &txn.MerchantID, &txn.Source, &txn.ExternalID,
		&txn.AmountCents, &txn.Currency, &txn.Phone, &txn.PaymentReference, &txn.OccurredAt,
		&txn.MatchState, &txn.CounterpartID, &txn.NormalizationNote, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return &txn, nil
}

func (r *TransactionRepository) scanMany(rows pgx.Rows) ([]reconciliation.Transaction, error) {
	var out []reconciliation.Transaction
	for rows.Next() {
		var txn reconciliation.Transaction
		if err := rows.Scan(
			&txn.ID, &txn.Reference, &txn.MerchantID, &txn.Source, &txn.ExternalID,
			&txn.AmountCents, &txn.Currency, &txn.Phone, &txn.PaymentReference, &txn.OccurredAt,
			&txn.MatchState, &txn.CounterpartID, &txn.NormalizationNote, &txn.CreatedAt, &txn.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction rows: %w", err)
	}
	return out, nil
}
