// internal/service/payout/aggregator.go
package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mikrobill-service/internal/domain/billing"
	xerrors "mikrobill-service/internal/pkg/errors"
	"mikrobill-service/internal/pkg/reference"

	"go.uber.org/zap"
)

// Service aggregates approved commission into per-merchant payouts: it gates
// requests on the plan's minimum threshold, records each request as a pending
// event and settles the balance only when the payment rail confirms the money
// actually moved.
type Service struct {
	payoutRepo PayoutRepository
	planRepo   PlanRepository
	db         TxBeginner
	logger     *zap.Logger
}

func NewService(payoutRepo PayoutRepository, planRepo PlanRepository, db TxBeginner, logger *zap.Logger) *Service {
	return &Service{
		payoutRepo: payoutRepo,
		planRepo:   planRepo,
		db:         db,
		logger:     logger,
	}
}

// Balance returns the merchant's withdrawable balance together with the plan's
// gating parameters.
func (s *Service) Balance(ctx context.Context, merchantID int64) (*billing.PayoutBalance, error) {
	plan, err := s.planRepo.Get(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	cents, updatedAt, err := s.payoutRepo.GetWithdrawable(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	return &billing.PayoutBalance{
		MerchantID:        merchantID,
		WithdrawableCents: cents,
		MinThresholdCents: plan.MinPayoutCents,
		Schedule:          plan.Schedule,
		UpdatedAt:         updatedAt,
	}, nil
}

// RequestPayout records a pending payout event. The withdrawable balance is
// not touched here; the money only leaves the balance when the disbursement
// is confirmed. An amount of zero requests the full balance.
func (s *Service) RequestPayout(ctx context.Context, in *billing.PayoutRequestInput) (*billing.PayoutEvent, error) {
	if in.AmountCents < 0 {
		return nil, fmt.Errorf("%w: payout amount cannot be negative", xerrors.ErrInvalidInput)
	}
	switch in.Method {
	case billing.PayoutMethodMpesa, billing.PayoutMethodBankTransfer:
	default:
		return nil, fmt.Errorf("%w: unknown payout method %q", xerrors.ErrInvalidInput, in.Method)
	}

	plan, err := s.planRepo.Get(ctx, in.MerchantID)
	if err != nil {
		return nil, err
	}

	withdrawable, _, err := s.payoutRepo.GetWithdrawable(ctx, in.MerchantID)
	if err != nil {
		return nil, err
	}
	if withdrawable < plan.MinPayoutCents {
		return nil, fmt.Errorf("%w: balance %d below minimum %d",
			xerrors.ErrBelowPayoutThreshold, withdrawable, plan.MinPayoutCents)
	}

	amount := in.AmountCents
	if amount == 0 {
		amount = withdrawable
	}
	if amount > withdrawable {
		return nil, fmt.Errorf("%w: requested %d, withdrawable %d",
			xerrors.ErrInsufficientWithdrawable, amount, withdrawable)
	}

	pending, err := s.payoutRepo.HasPendingEvent(ctx, in.MerchantID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, fmt.Errorf("%w: a payout is already in flight for merchant %d",
			xerrors.ErrConflict, in.MerchantID)
	}

	ev := &billing.PayoutEvent{
		Reference:   reference.NewPayout(),
		MerchantID:  in.MerchantID,
		AmountCents: amount,
		Method:      in.Method,
	}
	if err := s.payoutRepo.CreateEvent(ctx, ev); err != nil {
		// The pending check above is only a fast path; the one-pending-per-
		// merchant unique index is what actually closes the race between two
		// requests that both read the same balance.
		if errors.Is(err, xerrors.ErrConflict) {
			return nil, fmt.Errorf("%w: a payout is already in flight for merchant %d",
				xerrors.ErrConflict, in.MerchantID)
		}
		return nil, err
	}

	s.logger.Info("payout requested",
		zap.String("reference", ev.Reference),
		zap.Int64("merchant_id", ev.MerchantID),
		zap.Int64("amount_cents", ev.AmountCents),
		zap.String("method", string(ev.Method)),
	)
	return ev, nil
}

// ConfirmDisbursement settles one payout event from the payment rail's
// callback. A successful disbursement completes the event and decrements the
// withdrawable balance in the same database transaction; a failed one marks
// the event failed and leaves the balance intact. Redelivered confirmations
// return ErrDuplicateDisbursement without changing anything.
func (s *Service) ConfirmDisbursement(ctx context.Context, in *billing.DisbursementConfirmation) (*billing.PayoutEvent, error) {
	ev, err := s.payoutRepo.FindEventByReference(ctx, in.PayoutReference)
	if err != nil {
		return nil, err
	}

	status := billing.PayoutStatusCompleted
	var failureReason *string
	if !in.Success {
		status = billing.PayoutStatusFailed
		reason := in.FailureReason
		if reason == "" {
			reason = "disbursement failed"
		}
		failureReason = &reason
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.payoutRepo.SettleEventWithTx(ctx, tx, ev.ID, status, failureReason); err != nil {
		if errors.Is(err, xerrors.ErrDuplicateDisbursement) {
			s.logger.Warn("duplicate disbursement confirmation ignored",
				zap.String("reference", ev.Reference),
				zap.String("status", string(ev.Status)),
			)
		}
		return nil, err
	}

	if status == billing.PayoutStatusCompleted {
		if err := s.payoutRepo.AdjustBalanceWithTx(ctx, tx, ev.MerchantID, -ev.AmountCents); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	now := time.Now()
	ev.Status = status
	ev.FailureReason = failureReason
	ev.ConfirmedAt = &now

	s.logger.Info("payout settled",
		zap.String("reference", ev.Reference),
		zap.String("status", string(status)),
		zap.Int64("amount_cents", ev.AmountCents),
	)
	return ev, nil
}

// RunScheduledPayouts initiates full-balance payout requests for every
// merchant on the given schedule. Merchants below threshold or with a payout
// already in flight are skipped quietly; anything else is logged and the run
// continues.
func (s *Service) RunScheduledPayouts(ctx context.Context, schedule billing.PayoutSchedule) (int, error) {
	plans, err := s.planRepo.ListBySchedule(ctx, schedule)
	if err != nil {
		return 0, err
	}

	initiated := 0
	for _, plan := range plans {
		_, err := s.RequestPayout(ctx, &billing.PayoutRequestInput{
			MerchantID: plan.MerchantID,
			Method:     billing.PayoutMethodMpesa,
		})
		switch {
		case err == nil:
			initiated++
		case errors.Is(err, xerrors.ErrBelowPayoutThreshold), errors.Is(err, xerrors.ErrConflict):
			// Expected on most runs; nothing to do for this merchant.
		default:
			s.logger.Error("scheduled payout failed",
				zap.Int64("merchant_id", plan.MerchantID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("scheduled payout run finished",
		zap.String("schedule", string(schedule)),
		zap.Int("merchants", len(plans)),
		zap.Int("initiated", initiated),
	)
	return initiated, nil
}

// History returns the merchant's payout events, newest first.
func (s *Service) History(ctx context.Context, merchantID int64, limit int) ([]billing.PayoutEvent, error) {
	return s.payoutRepo.ListEvents(ctx, merchantID, limit)
}
