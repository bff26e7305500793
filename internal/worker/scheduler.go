// internal/worker/scheduler.go
package worker

import (
	"context"
	"errors"
	"time"

	"mikrobill-service/internal/domain/billing"
	"mikrobill-service/internal/domain/reconciliation"
	xerrors "mikrobill-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// MatchRunner executes one matching pass for a merchant.
type MatchRunner interface {
	RunMatchingPass(ctx context.Context, merchantID int64) (*reconciliation.MatchingPassResult, error)
}

// PayoutRunner initiates scheduled payout requests.
type PayoutRunner interface {
	RunScheduledPayouts(ctx context.Context, schedule billing.PayoutSchedule) (int, error)
}

// MerchantLister enumerates the merchant population to iterate.
type MerchantLister interface {
	ListMerchantIDs(ctx context.Context) ([]int64, error)
}

// SchedulerConfig tunes the background cadence.
type SchedulerConfig struct {
	MatchInterval       time.Duration
	PayoutCheckInterval time.Duration
	Workers             int
}

// Scheduler drives the recurring work: matching passes for every merchant on
// a fixed interval, weekly payout runs on Mondays and monthly runs on the
// first of the month.
type Scheduler struct {
	matcher   MatchRunner
	payouts   PayoutRunner
	merchants MerchantLister
	pool      *Pool
	logger    *zap.Logger
	cfg       SchedulerConfig

	lastWeeklyRun  string
	lastMonthlyRun string
}

func NewScheduler(matcher MatchRunner, payouts PayoutRunner, merchants MerchantLister, logger *zap.Logger, cfg SchedulerConfig) *Scheduler {
	if cfg.MatchInterval <= 0 {
		cfg.MatchInterval = 5 * time.Minute
	}
	if cfg.PayoutCheckInterval <= 0 {
		cfg.PayoutCheckInterval = time.Hour
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Scheduler{
		matcher:   matcher,
		payouts:   payouts,
		merchants: merchants,
		pool:      NewPool(cfg.Workers),
		logger:    logger,
		cfg:       cfg,
	}
}

// Run blocks until ctx is cancelled, then drains the pool.
func (s *Scheduler) Run(ctx context.Context) {
	matchTicker := time.NewTicker(s.cfg.MatchInterval)
	payoutTicker := time.NewTicker(s.cfg.PayoutCheckInterval)
	defer matchTicker.Stop()
	defer payoutTicker.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("match_interval", s.cfg.MatchInterval),
		zap.Duration("payout_check_interval", s.cfg.PayoutCheckInterval),
		zap.Int("workers", s.cfg.Workers),
	)

	for {
		select {
		case <-ctx.Done():
			s.pool.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-matchTicker.C:
			s.dispatchMatchingPasses(ctx)
		case <-payoutTicker.C:
			s.runDuePayouts(ctx, time.Now())
		}
	}
}

func (s *Scheduler) dispatchMatchingPasses(ctx context.Context) {
	ids, err := s.merchants.ListMerchantIDs(ctx)
	if err != nil {
		s.logger.Error("failed to list merchants for matching", zap.Error(err))
		return
	}

	for _, id := range ids {
		merchantID := id
		s.pool.Submit(func() {
			_, err := s.matcher.RunMatchingPass(ctx, merchantID)
			// A conflict means a manual or concurrent pass holds the lock;
			// the next tick covers this merchant.
			if err != nil && !errors.Is(err, xerrors.ErrConflict) {
				s.logger.Error("scheduled matching pass failed",
					zap.Int64("merchant_id", merchantID),
					zap.Error(err),
				)
			}
		})
	}
}

// runDuePayouts fires the weekly run on Mondays and the monthly run on the
// first of the month, at most once per day each.
func (s *Scheduler) runDuePayouts(ctx context.Context, now time.Time) {
	day := now.Format("2006-01-02")

	if now.Weekday() == time.Monday && s.lastWeeklyRun != day {
		s.lastWeeklyRun = day
		if _, err := s.payouts.RunScheduledPayouts(ctx, billing.ScheduleWeekly); err != nil {
			s.logger.Error("weekly payout run failed", zap.Error(err))
		}
	}

	if now.Day() == 1 && s.lastMonthlyRun != day {
		s.lastMonthlyRun = day
		if _, err := s.payouts.RunScheduledPayouts(ctx, billing.ScheduleMonthly); err != nil {
			s.logger.Error("monthly payout run failed", zap.Error(err))
		}
	}
}
