// internal/service/reconciliation/service.go
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mikrobill-service/internal/domain/billing"
	"mikrobill-service/internal/domain/reconciliation"
	xerrors "mikrobill-service/internal/pkg/errors"
	"mikrobill-service/internal/service/commission"
	"mikrobill-service/internal/service/matching"
	"mikrobill-service/internal/service/normalizer"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Config tunes the batch matching pass.
type Config struct {
	// Window is how far back the unmatched pool reaches.
	Window time.Duration

	// AutoApprove enables automatic approval of high-confidence, zero-diff,
	// unambiguous candidates.
	AutoApprove bool

	// StaleRetries bounds automatic retries after a compare-and-swap loss.
	StaleRetries int
}

// DefaultConfig returns the default pass configuration.
func DefaultConfig() Config {
	return Config{
		Window:       72 * time.Hour,
		AutoApprove:  true,
		StaleRetries: 3,
	}
}

// Service owns the reconciliation ledger: ingestion into the unmatched pool,
// the recurring matching pass, and the operator commands that move pairs
// through the unmatched -> suggested -> approved state machine.
type Service struct {
	txRepo         TransactionRepository
	commissionRepo CommissionRepository
	planRepo       PlanRepository
	balanceRepo    BalanceRepository
	db             TxBeginner
	normalizer     *normalizer.Service
	engine         *matching.Engine
	locker         MerchantLocker
	logger         *zap.Logger
	cfg            Config
}

func NewService(
	txRepo TransactionRepository,
	commissionRepo CommissionRepository,
	planRepo PlanRepository,
	balanceRepo BalanceRepository,
	db TxBeginner,
	normalizerSvc *normalizer.Service,
	engine *matching.Engine,
	locker MerchantLocker,
	logger *zap.Logger,
	cfg Config,
) *Service {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.StaleRetries < 0 {
		cfg.StaleRetries = 0
	}
	return &Service{
		txRepo:         txRepo,
		commissionRepo: commissionRepo,
		planRepo:       planRepo,
		balanceRepo:    balanceRepo,
		db:             db,
		normalizer:     normalizerSvc,
		engine:         engine,
		locker:         locker,
		logger:         logger,
		cfg:            cfg,
	}
}

// ========== Ingestion ==========

// IngestProvider normalizes and stores one confirmed mobile-money payment.
func (s *Service) IngestProvider(ctx context.Context, in *reconciliation.IngestProviderInput) (*reconciliation.Transaction, error) {
	txn, err := s.normalizer.NormalizeProvider(in)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, txn)
}

// IngestSystem normalizes and stores one internal order record.
func (s *Service) IngestSystem(ctx context.Context, in *reconciliation.IngestSystemInput) (*reconciliation.Transaction, error) {
	txn, err := s.normalizer.NormalizeSystem(in)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, txn)
}

func (s *Service) store(ctx context.Context, txn *reconciliation.Transaction) (*reconciliation.Transaction, error) {
	if err := s.txRepo.Create(ctx, txn); err != nil {
		return nil, err
	}

	s.logger.Info("transaction ingested",
		zap.String("reference", txn.Reference),
		zap.String("source", string(txn.Source)),
		zap.Int64("merchant_id", txn.MerchantID),
		zap.Int64("amount_cents", txn.AmountCents),
	)
	return txn, nil
}

// ========== Matching pass ==========

// RunMatchingPass executes one matching pass over the merchant's unmatched
// pool. The pass is deterministic and safely re-triggerable; a concurrent
// pass for the same merchant yields ErrConflict.
func (s *Service) RunMatchingPass(ctx context.Context, merchantID int64) (*reconciliation.MatchingPassResult, error) {
	release, ok, err := s.locker.Acquire(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: matching pass already running for merchant %d", xerrors.ErrConflict, merchantID)
	}
	defer release()

	since := time.Now().Add(-s.cfg.Window)

	providers, err := s.txRepo.ListUnmatched(ctx, merchantID, reconciliation.SourceProvider, since)
	if err != nil {
		return nil, err
	}
	systems, err := s.txRepo.ListUnmatched(ctx, merchantID, reconciliation.SourceSystem, since)
	if err != nil {
		return nil, err
	}

	candidates := s.engine.Run(providers, systems)

	result := &reconciliation.MatchingPassResult{
		MerchantID:   merchantID,
		ProviderPool: len(providers),
		SystemPool:   len(systems),
	}

	for _, cand := range candidates {
		pair := &reconciliation.PairInput{
			MerchantID:   merchantID,
			ProviderTxID: cand.ProviderTxID,
			SystemTxID:   cand.SystemTxID,
		}

		if cand.Ambiguous {
			s.logger.Warn("ambiguous candidate surfaced for manual review",
				zap.Int64("provider_tx_id", cand.ProviderTxID),
				zap.Int64("system_tx_id", cand.SystemTxID),
				zap.Error(xerrors.ErrAmbiguousMatch),
			)
		}

		autoApprove := s.cfg.AutoApprove && cand.AutoApprovable()

		var opErr error
		for attempt := 0; ; attempt++ {
			if autoApprove {
				opErr = s.Approve(ctx, pair)
			} else {
				opErr = s.Suggest(ctx, pair)
			}
			// Approve and Suggest re-fetch current state on every call, so a
			// retry after a compare-and-swap loss observes the post-race state.
			if !errors.Is(opErr, xerrors.ErrStaleStateTransition) || attempt >= s.cfg.StaleRetries {
				break
			}
		}

		switch {
		case opErr == nil && autoApprove:
			result.AutoApproved++
		case opErr == nil:
			result.Suggested++
		default:
			result.Skipped++
			s.logger.Warn("candidate skipped",
				zap.Int64("provider_tx_id", cand.ProviderTxID),
				zap.Int64("system_tx_id", cand.SystemTxID),
				zap.Error(opErr),
			)
		}
	}

	s.logger.Info("matching pass finished",
		zap.Int64("merchant_id", merchantID),
		zap.Int("provider_pool", result.ProviderPool),
		zap.Int("system_pool", result.SystemPool),
		zap.Int("suggested", result.Suggested),
		zap.Int("auto_approved", result.AutoApproved),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// ========== Operator commands ==========

// Suggest pairs a provider and system transaction as a suggested match.
// Used both by the matching pass and by an operator proposing a pairing
// manually. Suggesting an already-suggested pair is a no-op.
func (s *Service) Suggest(ctx context.Context, in *reconciliation.PairInput) error {
	provider, system, err := s.loadPair(ctx, in)
	if err != nil {
		return err
	}
	if pairedAs(provider, system, reconciliation.MatchStateSuggested) || pairedAs(provider, system, reconciliation.MatchStateApproved) {
		return nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	provider, system, err = s.lockPair(ctx, tx, provider.ID, system.ID)
	if err != nil {
		return err
	}
	if pairedAs(provider, system, reconciliation.MatchStateSuggested) || pairedAs(provider, system, reconciliation.MatchStateApproved) {
		return nil
	}
	if provider.MatchState != reconciliation.MatchStateUnmatched || system.MatchState != reconciliation.MatchStateUnmatched {
		// One side is already spoken for by a different pairing.
		return xerrors.ErrStaleStateTransition
	}

	if err := s.txRepo.TransitionWithTx(ctx, tx, provider.ID, provider.MatchState, reconciliation.MatchStateSuggested, &system.ID); err != nil {
		return err
	}
	if err := s.txRepo.TransitionWithTx(ctx, tx, system.ID, system.MatchState, reconciliation.MatchStateSuggested, &provider.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit suggestion: %w", err)
	}

	s.logger.Info("pair suggested",
		zap.Int64("provider_tx_id", provider.ID),
		zap.Int64("system_tx_id", system.ID),
	)
	return nil
}

// Approve confirms a pairing and books the commission in the same database
// transaction: either the pair is approved and the commission exists, or
// neither happened. Approving an already-approved pair is a no-op.
func (s *Service) Approve(ctx context.Context, in *reconciliation.PairInput) error {
	provider, system, err := s.loadPair(ctx, in)
	if err != nil {
		return err
	}
	if pairedAs(provider, system, reconciliation.MatchStateApproved) {
		return nil
	}

	plan, err := s.planRepo.Get(ctx, system.MerchantID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	provider, system, err = s.lockPair(ctx, tx, provider.ID, system.ID)
	if err != nil {
		return err
	}
	if pairedAs(provider, system, reconciliation.MatchStateApproved) {
		return nil
	}
	if !approvableFrom(provider, system.ID) || !approvableFrom(system, provider.ID) {
		return xerrors.ErrStaleStateTransition
	}

	if err := s.txRepo.TransitionWithTx(ctx, tx, provider.ID, provider.MatchState, reconciliation.MatchStateApproved, &system.ID); err != nil {
		return err
	}
	if err := s.txRepo.TransitionWithTx(ctx, tx, system.ID, system.MatchState, reconciliation.MatchStateApproved, &provider.ID); err != nil {
		return err
	}

	rec, err := commission.ForApprovedMatch(system, plan)
	if err != nil {
		return err
	}
	if err := s.commissionRepo.CreateWithTx(ctx, tx, rec); err != nil {
		return err
	}
	if err := s.balanceRepo.AdjustBalanceWithTx(ctx, tx, system.MerchantID, rec.AmountCents); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit approval: %w", err)
	}

	s.logger.Info("pair approved",
		zap.Int64("provider_tx_id", provider.ID),
		zap.Int64("system_tx_id", system.ID),
		zap.String("commission_reference", rec.Reference),
		zap.Int64("commission_cents", rec.AmountCents),
	)
	return nil
}

// Unmatch rejects a suggested pair or unwinds an approved one. Unwinding an
// approved pair appends a compensating commission record so the ledger stays
// append-only. Unmatching an already-unmatched transaction is a no-op.
func (s *Service) Unmatch(ctx context.Context, in *reconciliation.UnmatchInput) error {
	txn, err := s.txRepo.FindByID(ctx, in.TransactionID)
	if err != nil {
		return err
	}
	if txn.MerchantID != in.MerchantID {
		return fmt.Errorf("%w: transaction %d does not belong to merchant %d", xerrors.ErrInvalidInput, in.TransactionID, in.MerchantID)
	}
	if txn.MatchState == reconciliation.MatchStateUnmatched {
		return nil
	}
	if txn.CounterpartID == nil {
		return fmt.Errorf("%w: transaction %d is %s without a counterpart", xerrors.ErrInternal, txn.ID, txn.MatchState)
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, counterpart, err := s.lockPair(ctx, tx, txn.ID, *txn.CounterpartID)
	if err != nil {
		return err
	}
	if txn.MatchState == reconciliation.MatchStateUnmatched {
		return nil
	}
	if txn.CounterpartID == nil || *txn.CounterpartID != counterpart.ID {
		// The pair dissolved and re-formed against another transaction while
		// we waited for the locks.
		return xerrors.ErrStaleStateTransition
	}

	wasApproved := txn.MatchState == reconciliation.MatchStateApproved

	if err := s.txRepo.TransitionWithTx(ctx, tx, txn.ID, txn.MatchState, reconciliation.MatchStateUnmatched, nil); err != nil {
		return err
	}
	if err := s.txRepo.TransitionWithTx(ctx, tx, counterpart.ID, counterpart.MatchState, reconciliation.MatchStateUnmatched, nil); err != nil {
		return err
	}

	if wasApproved {
		systemSide := txn
		if systemSide.Source != reconciliation.SourceSystem {
			systemSide = counterpart
		}

		latest, err := s.commissionRepo.LatestByTransactionWithTx(ctx, tx, systemSide.ID)
		if err != nil {
			return err
		}
		if latest == nil {
			return fmt.Errorf("%w: approved transaction %d has no commission record", xerrors.ErrInternal, systemSide.ID)
		}

		net, err := s.commissionRepo.NetByTransactionWithTx(ctx, tx, systemSide.ID)
		if err != nil {
			return err
		}

		rev := commission.Reversal(latest, net)
		if err := s.commissionRepo.CreateWithTx(ctx, tx, rev); err != nil {
			return err
		}
		if err := s.balanceRepo.AdjustBalanceWithTx(ctx, tx, systemSide.MerchantID, rev.AmountCents); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit unmatch: %w", err)
	}

	s.logger.Info("pair unmatched",
		zap.Int64("transaction_id", txn.ID),
		zap.Int64("counterpart_id", counterpart.ID),
		zap.Bool("was_approved", wasApproved),
	)
	return nil
}

// ========== Queries ==========

// ListTransactions retrieves transactions for one merchant.
func (s *Service) ListTransactions(ctx context.Context, merchantID int64, filters *reconciliation.ListFilters) ([]reconciliation.Transaction, error) {
	return s.txRepo.ListByMerchant(ctx, merchantID, filters)
}

// ListSuggestions returns every suggested pair with its derived confidence
// and signal breakdown for operator review.
func (s *Service) ListSuggestions(ctx context.Context, merchantID int64) ([]reconciliation.Suggestion, error) {
	providers, err := s.txRepo.ListSuggestedProviderSide(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	suggestions := make([]reconciliation.Suggestion, 0, len(providers))
	for i := range providers {
		p := providers[i]
		if p.CounterpartID == nil {
			continue
		}
		system, err := s.txRepo.FindByID(ctx, *p.CounterpartID)
		if err != nil {
			return nil, err
		}

		// Confidence is derived, never stored: re-score the pair on read.
		cand, _ := s.engine.ScorePair(&p, system)
		suggestions = append(suggestions, reconciliation.Suggestion{
			ProviderTx: p,
			SystemTx:   *system,
			Candidate:  cand,
		})
	}
	return suggestions, nil
}

// CommissionHistory returns the append-only commission ledger for a merchant,
// compensating entries included.
func (s *Service) CommissionHistory(ctx context.Context, merchantID int64, filters *billing.CommissionFilters) ([]billing.CommissionRecord, error) {
	return s.commissionRepo.ListByMerchant(ctx, merchantID, filters)
}

// Report builds the tabular reconciliation export: one row per transaction
// with counterpart, derived confidence, amount difference and net commission.
func (s *Service) Report(ctx context.Context, merchantID int64) ([]reconciliation.ReportRow, error) {
	txs, err := s.txRepo.ListForReport(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	sums, err := s.commissionRepo.NetByTransactionForMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*reconciliation.Transaction, len(txs))
	for i := range txs {
		byID[txs[i].ID] = &txs[i]
	}

	rows := make([]reconciliation.ReportRow, 0, len(txs))
	for i := range txs {
		txn := &txs[i]
		row := reconciliation.ReportRow{
			TransactionID:   txn.ID,
			CounterpartID:   txn.CounterpartID,
			AmountCents:     txn.AmountCents,
			CommissionCents: sums[txn.ID],
		}

		if txn.CounterpartID != nil {
			if other, ok := byID[*txn.CounterpartID]; ok {
				provider, system := txn, other
				if provider.Source != reconciliation.SourceProvider {
					provider, system = other, txn
				}
				cand, _ := s.engine.ScorePair(provider, system)
				row.Confidence = cand.Confidence
				row.AmountDiffCents = cand.AmountDiffCents
			}
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// ========== helpers ==========

func (s *Service) loadPair(ctx context.Context, in *reconciliation.PairInput) (provider, system *reconciliation.Transaction, err error) {
	provider, err = s.txRepo.FindByID(ctx, in.ProviderTxID)
	if err != nil {
		return nil, nil, err
	}
	system, err = s.txRepo.FindByID(ctx, in.SystemTxID)
	if err != nil {
		return nil, nil, err
	}

	if provider.Source != reconciliation.SourceProvider || system.Source != reconciliation.SourceSystem {
		return nil, nil, fmt.Errorf("%w: pair must be one provider and one system transaction", xerrors.ErrInvalidInput)
	}
	if provider.MerchantID != in.MerchantID || system.MerchantID != in.MerchantID {
		return nil, nil, fmt.Errorf("%w: pair does not belong to merchant %d", xerrors.ErrInvalidInput, in.MerchantID)
	}
	return provider, system, nil
}

// lockPair re-fetches both rows with row locks, always acquiring in id order
// so concurrent operator actions on the same pair cannot deadlock whichever
// side each one names. Results come back in argument order.
func (s *Service) lockPair(ctx context.Context, tx pgx.Tx, aID, bID int64) (a, b *reconciliation.Transaction, err error) {
	firstID, secondID := aID, bID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}

	first, err := s.txRepo.FindByIDWithTx(ctx, tx, firstID)
	if err != nil {
		return nil, nil, err
	}
	second, err := s.txRepo.FindByIDWithTx(ctx, tx, secondID)
	if err != nil {
		return nil, nil, err
	}

	if first.ID == aID {
		return first, second, nil
	}
	return second, first, nil
}

// pairedAs reports whether the two transactions are already joined to each
// other in the given state.
func pairedAs(provider, system *reconciliation.Transaction, state reconciliation.MatchState) bool {
	return provider.MatchState == state && system.MatchState == state &&
		provider.CounterpartID != nil && *provider.CounterpartID == system.ID &&
		system.CounterpartID != nil && *system.CounterpartID == provider.ID
}

// approvableFrom reports whether a transaction can transition to approved
// with the given counterpart: either still unmatched, or suggested with that
// same counterpart.
func approvableFrom(txn *reconciliation.Transaction, counterpartID int64) bool {
	switch txn.MatchState {
	case reconciliation.MatchStateUnmatched:
		return true
	case reconciliation.MatchStateSuggested:
		return txn.CounterpartID != nil && *txn.CounterpartID == counterpartID
	default:
		return false
	}
}
