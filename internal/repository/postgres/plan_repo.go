// internal/repository/postgres/plan_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"mikrobill-service/internal/domain/billing"
	xerrors "mikrobill-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlanRepository reads the billing-plan collaborator's data surface. This core
// never decides a rate itself; a missing plan row is a loud error.
type PlanRepository struct {
	db *pgxpool.Pool
}

func NewPlanRepository(db *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{db: db}
}

// Get retrieves the merchant's active billing plan.
func (r *PlanRepository) Get(ctx context.Context, merchantID int64) (*billing.BillingPlan, error) {
	query := `
		SELECT merchant_id, plan_type, commission_rate, min_payout_cents, schedule, updated_at
		FROM merchant_plans
		WHERE merchant_id = $1
	`

	var plan billing.BillingPlan
	err := r.db.QueryRow(ctx, query, merchantID).Scan(
		&plan.MerchantID, &plan.PlanType, &plan.CommissionRate,
		&plan.MinPayoutCents, &plan.Schedule, &plan.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing plan: %w", err)
	}
	return &plan, nil
}

// Upsert replaces the merchant's plan. This is the delivery path for the
// external billing collaborator.
func (r *PlanRepository) Upsert(ctx context.Context, plan *billing.BillingPlan) error {
	query := `
		INSERT INTO merchant_plans (merchant_id, plan_type, commission_rate, min_payout_cents, schedule, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (merchant_id) DO UPDATE
		SET plan_type = EXCLUDED.plan_type,
		    commission_rate = EXCLUDED.commission_rate,
		    min_payout_cents = EXCLUDED.min_payout_cents,
		    schedule = EXCLUDED.schedule,
		    updated_at = now()
		RETURNING updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		plan.MerchantID, plan.PlanType, plan.CommissionRate, plan.MinPayoutCents, plan.Schedule,
	).Scan(&plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert billing plan: %w", err)
	}
	return nil
}

// ListMerchantIDs returns every merchant with a plan row, the population the
// background scheduler iterates.
func (r *PlanRepository) ListMerchantIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT merchant_id FROM merchant_plans ORDER BY merchant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list merchants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan merchant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("merchant rows: %w", err)
	}
	return ids, nil
}

// ListBySchedule returns merchants whose plan uses the given payout schedule.
func (r *PlanRepository) ListBySchedule(ctx context.Context, schedule billing.PayoutSchedule) ([]billing.BillingPlan, error) {
	query := `
		SELECT merchant_id, plan_type, commission_rate, min_payout_cents, schedule, updated_at
		FROM merchant_plans
		WHERE schedule = $1
		ORDER BY merchant_id
	`

	rows, err := r.db.Query(ctx, query, schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans by schedule: %w", err)
	}
	defer rows.Close()

	var plans []billing.BillingPlan
	for rows.Next() {
		var plan billing.BillingPlan
		if err := rows.Scan(
			&plan.MerchantID, &plan.PlanType, &plan.CommissionRate,
			&plan.MinPayoutCents, &plan.Schedule, &plan.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("plan rows: %w", err)
	}
	return plans, nil
}
