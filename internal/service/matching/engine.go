// internal/service/matching/engine.go
package matching

import (
	"sort"
	"strings"
	"time"

	"mikrobill-service/internal/domain/reconciliation"
)

// Config configures the matching behavior.
type Config struct {
	// MaxSkew bounds the gap between system order creation and provider
	// payment confirmation for the time signal and for candidate generation.
	MaxSkew time.Duration

	// AmountToleranceCents is the maximum absolute difference that still
	// counts as the amount signal. Zero means exact match required; a small
	// residual difference never counts as the signal but is carried on the
	// candidate as amount_diff for operator review.
	AmountToleranceCents int64
}

// DefaultConfig returns the default matching configuration.
func DefaultConfig() Config {
	return Config{
		MaxSkew:              5 * time.Minute,
		AmountToleranceCents: 0,
	}
}

// Engine scores provider/system transaction pairs. It is pure: no I/O, no
// clock reads, and a given unmatched pool always yields the same candidate
// set, so a pass can be re-triggered freely.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = DefaultConfig().MaxSkew
	}
	if cfg.AmountToleranceCents < 0 {
		cfg.AmountToleranceCents = 0
	}
	return &Engine{cfg: cfg}
}

// ScorePair computes the signal agreement for one provider/system pair.
// surfaceable is false when neither amount nor phone agrees; such pairs are
// noise and are never shown to the operator.
func (e *Engine) ScorePair(provider, system *reconciliation.Transaction) (cand reconciliation.MatchCandidate, surfaceable bool) {
	cand = reconciliation.MatchCandidate{
		ProviderTxID:    provider.ID,
		SystemTxID:      system.ID,
		AmountDiffCents: provider.AmountCents - system.AmountCents,
	}

	gap := provider.OccurredAt.Sub(system.OccurredAt)
	if gap < 0 {
		gap = -gap
	}
	cand.TimeGap = gap

	var signals []reconciliation.Signal

	if abs64(cand.AmountDiffCents) <= e.cfg.AmountToleranceCents {
		signals = append(signals, reconciliation.SignalAmount)
	}
	if provider.Phone != nil && system.Phone != nil && *provider.Phone == *system.Phone {
		signals = append(signals, reconciliation.SignalPhone)
	}
	if referenceAgrees(provider.PaymentReference, system.PaymentReference) {
		signals = append(signals, reconciliation.SignalReference)
	}
	if gap <= e.cfg.MaxSkew {
		signals = append(signals, reconciliation.SignalTime)
	}

	cand.MatchedBy = signals

	switch len(signals) {
	case 4:
		cand.Confidence = reconciliation.ConfidenceHigh
	case 3:
		cand.Confidence = reconciliation.ConfidenceMedium
	default:
		cand.Confidence = reconciliation.ConfidenceLow
	}

	surfaceable = hasSignal(signals, reconciliation.SignalAmount) || hasSignal(signals, reconciliation.SignalPhone)
	return cand, surfaceable
}

// Run produces the surfaced candidate set for one merchant's unmatched pool.
// Each transaction appears in at most one candidate; ties are broken by
// smallest amount difference, then closest timestamps, then ids, which makes
// the pass deterministic. Candidates whose transaction had an equally ranked
// alternative are flagged ambiguous and left to manual review.
func (e *Engine) Run(providers, systems []reconciliation.Transaction) []reconciliation.MatchCandidate {
	if len(providers) == 0 || len(systems) == 0 {
		return nil
	}

	// Bucket system transactions by calendar day to bound the pairwise
	// comparison cost. A provider confirmation just after midnight may match
	// an order from the previous day, and an order logged just after midnight
	// may trail a confirmation from the day before, so each provider probes
	// its own day plus the days holding occurred_at +/- the skew.
	buckets := make(map[string][]*reconciliation.Transaction, len(systems))
	for i := range systems {
		day := dayKey(systems[i].OccurredAt)
		buckets[day] = append(buckets[day], &systems[i])
	}

	var candidates []reconciliation.MatchCandidate
	for i := range providers {
		p := &providers[i]

		days := []string{dayKey(p.OccurredAt)}
		if prev := dayKey(p.OccurredAt.Add(-e.cfg.MaxSkew)); prev != days[0] {
			days = append(days, prev)
		}
		if next := dayKey(p.OccurredAt.Add(e.cfg.MaxSkew)); next != days[0] {
			days = append(days, next)
		}

		for _, day := range days {
			for _, s := range buckets[day] {
				gap := p.OccurredAt.Sub(s.OccurredAt)
				if gap < 0 {
					gap = -gap
				}
				if gap > e.cfg.MaxSkew {
					continue
				}
				if cand, ok := e.ScorePair(p, s); ok {
					candidates = append(candidates, cand)
				}
			}
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return rankLess(candidates[i], candidates[j])
	})

	// Greedy selection over the ranked candidates: the first candidate to
	// claim a transaction wins; later ones touching either side are dropped.
	usedProvider := make(map[int64]bool)
	usedSystem := make(map[int64]bool)

	var selected []reconciliation.MatchCandidate
	for i := range candidates {
		c := candidates[i]
		if usedProvider[c.ProviderTxID] || usedSystem[c.SystemTxID] {
			continue
		}

		c.Ambiguous = hasEqualRankedRival(candidates, i, usedProvider, usedSystem)

		usedProvider[c.ProviderTxID] = true
		usedSystem[c.SystemTxID] = true
		selected = append(selected, c)
	}

	return selected
}

// hasEqualRankedRival reports whether another still-available candidate shares
// a transaction with candidates[i] and carries an identical rank. Such a pair
// cannot be auto-resolved and must go to manual review.
func hasEqualRankedRival(candidates []reconciliation.MatchCandidate, i int, usedProvider, usedSystem map[int64]bool) bool {
	c := candidates[i]
	for j := range candidates {
		if j == i {
			continue
		}
		r := candidates[j]
		if !sameRank(c, r) {
			continue
		}
		if r.ProviderTxID != c.ProviderTxID && r.SystemTxID != c.SystemTxID {
			continue
		}
		// A rival already consumed by an earlier selection is no longer a
		// competing interpretation of this transaction.
		if usedProvider[r.ProviderTxID] || usedSystem[r.SystemTxID] {
			continue
		}
		return true
	}
	return false
}

func rankLess(a, b reconciliation.MatchCandidate) bool {
	if ra, rb := confidenceRank(a.Confidence), confidenceRank(b.Confidence); ra != rb {
		return ra < rb
	}
	if da, db := abs64(a.AmountDiffCents), abs64(b.AmountDiffCents); da != db {
		return da < db
	}
	if a.TimeGap != b.TimeGap {
		return a.TimeGap < b.TimeGap
	}
	if a.ProviderTxID != b.ProviderTxID {
		return a.ProviderTxID < b.ProviderTxID
	}
	return a.SystemTxID < b.SystemTxID
}

func sameRank(a, b reconciliation.MatchCandidate) bool {
	return a.Confidence == b.Confidence &&
		abs64(a.AmountDiffCents) == abs64(b.AmountDiffCents) &&
		a.TimeGap == b.TimeGap
}

func confidenceRank(c reconciliation.Confidence) int {
	switch c {
	case reconciliation.ConfidenceHigh:
		return 0
	case reconciliation.ConfidenceMedium:
		return 1
	default:
		return 2
	}
}

// referenceAgrees checks the system account code against the provider's
// reference, case-insensitively. References are short account codes, so a
// substring hit is agreement.
func referenceAgrees(providerRef, systemRef string) bool {
	p := strings.ToLower(strings.TrimSpace(providerRef))
	s := strings.ToLower(strings.TrimSpace(systemRef))
	if p == "" || s == "" {
		return false
	}
	return p == s || strings.Contains(p, s)
}

func hasSignal(signals []reconciliation.Signal, want reconciliation.Signal) bool {
	for _, s := range signals {
		if s == want {
			return true
		}
	}
	return false
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
