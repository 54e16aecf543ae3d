package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/metrics"
	"wallet_ledger/internal/models"

	"github.com/google/uuid"
)

// ReconciliationServicer сверяет баланс кошелька с журналом.
type ReconciliationServicer interface {
	Reconcile(ctx context.Context, walletID uuid.UUID) (*models.ReconciliationReport, error)
	ApplyCorrection(ctx context.Context, walletID uuid.UUID, req models.CorrectionRequest) (*models.ReconciliationReport, error)
}

var _ ReconciliationServicer = (*ReconciliationService)(nil)

// ReconciliationService никогда не пишет баланс сам: расхождение превращается
// в предложение корректировки, которое применяется отдельным вызовом.
type ReconciliationService struct {
	ledger     Ledger
	staleAfter time.Duration
	log        *slog.Logger
}

func NewReconciliationService(ledger Ledger, staleAfter time.Duration, log *slog.Logger) *ReconciliationService {
	return &ReconciliationService{ledger: ledger, staleAfter: staleAfter, log: log}
}

func (s *ReconciliationService) Reconcile(ctx context.Context, walletID uuid.UUID) (*models.ReconciliationReport, error) {
	const op = "service.Reconcile"

	wallet, err := s.ledger.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	txns, err := s.ledger.ListTransactions(ctx, walletID, models.TransactionFilter{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.ledger.Now()
	a := newAudit(walletID, now.Add(-s.staleAfter))
	a.run(txns)

	report := &models.ReconciliationReport{
		WalletID:        walletID,
		StoredBalance:   wallet.Balance,
		ComputedBalance: a.computed,
		Discrepancy:     wallet.Balance - a.computed,
		Findings:        a.findings,
		GeneratedAt:     now,
	}
	classify(report)

	metrics.ReconciliationsTotal.WithLabelValues(string(report.Status)).Inc()
	if report.Discrepancy != 0 {
		metrics.DriftAmount.WithLabelValues(string(report.Classification)).Observe(math.Abs(float64(report.Discrepancy)))
	}

	log := s.log.With(slog.String("op", op), slog.String("wallet_id", walletID.String()))
	switch report.Status {
	case models.ReconciliationDrift:
		log.Error("баланс расходится с журналом",
			slog.Int64("stored", report.StoredBalance),
			slog.Int64("computed", report.ComputedBalance),
			slog.String("classification", string(report.Classification)),
			slog.Int("findings", len(report.OpenFindings())),
		)
	case models.ReconciliationAttention:
		log.Warn("сверка требует внимания",
			slog.String("classification", string(report.Classification)),
			slog.Int("findings", len(report.OpenFindings())),
		)
	default:
		log.Debug("сверка без расхождений")
	}
	return report, nil
}

// classify выставляет статус, классификацию и предложение корректировки.
func classify(r *models.ReconciliationReport) {
	open := r.OpenFindings()
	corrupted, parked := false, false
	for _, f := range open {
		corrupted = corrupted || f.Kind.IsCorruption()
		parked = parked || f.Kind == models.FindingParkedReversal
	}

	switch {
	case r.Discrepancy != 0:
		r.Status = models.ReconciliationDrift
		r.Classification = models.ClassificationUnexplained
		if corrupted {
			r.Classification = models.ClassificationDataCorruption
		}
		r.ProposedCorrection = &models.Correction{
			Amount:          r.ComputedBalance - r.StoredBalance,
			ExpectedBalance: r.StoredBalance,
			Reason: fmt.Sprintf("reconciliation: stored %d, ledger %d (%s)",
				r.StoredBalance, r.ComputedBalance, r.Classification),
		}
	case len(open) > 0:
		r.Status = models.ReconciliationAttention
		switch {
		case corrupted:
			r.Classification = models.ClassificationDataCorruption
		case parked:
			r.Classification = models.ClassificationUnrecovered
		default:
			r.Classification = models.ClassificationOrphaned
		}
	default:
		r.Status = models.ReconciliationOK
		r.Classification = models.ClassificationNone
	}
}

// ApplyCorrection проводит ранее предложенную корректировку. Запрос должен
// совпадать с текущим предложением, иначе ErrConflict.
func (s *ReconciliationService) ApplyCorrection(ctx context.Context, walletID uuid.UUID, req models.CorrectionRequest) (*models.ReconciliationReport, error) {
	const op = "service.ApplyCorrection"

	report, err := s.Reconcile(ctx, walletID)
	if err != nil {
		return nil, err
	}
	proposal := report.ProposedCorrection
	if proposal == nil {
		return nil, fmt.Errorf("%s: корректировка не требуется: %w", op, custom_err.ErrConflict)
	}
	if req.Amount != proposal.Amount || req.ExpectedBalance != proposal.ExpectedBalance {
		return nil, fmt.Errorf("%s: предложение изменилось (%d при балансе %d): %w",
			op, proposal.Amount, proposal.ExpectedBalance, custom_err.ErrConflict)
	}

	reason := req.Reason
	if reason == "" {
		reason = proposal.Reason
	}
	if _, err := s.ledger.Adjust(ctx, models.AdjustParams{
		WalletID:        walletID,
		Amount:          proposal.Amount,
		ExpectedBalance: proposal.ExpectedBalance,
		Reason:          reason,
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Warn("корректировка по сверке проведена",
		slog.String("op", op),
		slog.String("wallet_id", walletID.String()),
		slog.Int64("amount", proposal.Amount),
	)
	return s.Reconcile(ctx, walletID)
}

// audit проходит журнал кошелька и собирает находки.
type audit struct {
	walletID   uuid.UUID
	staleSince time.Time
	computed   int64
	findings   []models.Finding
}

func newAudit(walletID uuid.UUID, staleSince time.Time) *audit {
	return &audit{walletID: walletID, staleSince: staleSince, findings: []models.Finding{}}
}

func (a *audit) add(kind models.FindingKind, t *models.Transaction, detail string) {
	a.findings = append(a.findings, models.Finding{
		Kind:          kind,
		TransactionID: t.ID,
		Reference:     t.Reference,
		Status:        t.Status,
		Detail:        detail,
	})
}

func (a *audit) run(txns []*models.Transaction) {
	posted := make([]*models.Transaction, 0, len(txns))
	for _, t := range txns {
		switch {
		case t.Status.IsPosted():
			posted = append(posted, t)
		case t.IsParkedReversal():
			a.checkUnposted(t)
			a.add(models.FindingParkedReversal, t, t.FailureReason)
		case t.Status == models.StatusFailed, t.Status == models.StatusCancelled:
			a.checkUnposted(t)
		case t.UpdatedAt.Before(a.staleSince):
			a.add(models.FindingOrphanedTransaction, t,
				fmt.Sprintf("%s since %s", t.Status, t.UpdatedAt.Format(time.RFC3339)))
		}
	}

	sort.Slice(posted, func(i, j int) bool { return posted[i].PostingSeq < posted[j].PostingSeq })
	for _, t := range posted {
		if !t.IsAdjustment {
			a.computed += t.DeltaFor(a.walletID)
		}
	}

	a.checkChain(posted)
	a.checkDuplicates(posted)
	a.resolveBeforeAdjustment(txns)
}

// side возвращает снапшоты той стороны записи, которая касается кошелька.
func (a *audit) side(t *models.Transaction) (before, after *int64) {
	if t.IsDebitFor(a.walletID) {
		return t.SenderBalanceBefore, t.SenderBalanceAfter
	}
	return t.ReceiverBalanceBefore, t.ReceiverBalanceAfter
}

func (a *audit) checkUnposted(t *models.Transaction) {
	before, after := a.side(t)
	if before != nil && after != nil && *before != *after {
		a.add(models.FindingFailedBalanceMutation, t,
			fmt.Sprintf("%s entry moved balance %d -> %d", t.Status, *before, *after))
	}
}

// checkChain сверяет цепочку снапшотов в порядке проводки: before каждой
// записи равен after предыдущей. Корректировка начинает цепочку заново.
func (a *audit) checkChain(posted []*models.Transaction) {
	expected := models.Int64Ptr(0)
	for _, t := range posted {
		before, after := a.side(t)
		if before == nil || after == nil {
			a.add(models.FindingSnapshotMismatch, t, "posted entry without balance snapshots")
			expected = nil
			continue
		}
		if *after-*before != t.DeltaFor(a.walletID) {
			a.add(models.FindingSnapshotMismatch, t,
				fmt.Sprintf("snapshot delta %d does not match entry delta %d", *after-*before, t.DeltaFor(a.walletID)))
		}
		if !t.IsAdjustment && expected != nil && *before != *expected {
			a.add(models.FindingSnapshotMismatch, t,
				fmt.Sprintf("balance before %d, previous entry left %d", *before, *expected))
		}
		expected = models.Int64Ptr(*after)
	}
}

func (a *audit) checkDuplicates(posted []*models.Transaction) {
	byProviderRef := make(map[string]uuid.UUID)
	byParent := make(map[uuid.UUID]uuid.UUID)
	for _, t := range posted {
		if t.IsAdjustment {
			continue
		}
		if t.IsCreditFor(a.walletID) && t.ProviderReference != "" {
			if first, ok := byProviderRef[t.ProviderReference]; ok {
				a.add(models.FindingDuplicateCredit, t,
					fmt.Sprintf("provider reference %s already credited by %s", t.ProviderReference, first))
			} else {
				byProviderRef[t.ProviderReference] = t.ID
			}
		}
		if t.Type == models.ReversalTransaction && t.ParentTransactionID != nil {
			if first, ok := byParent[*t.ParentTransactionID]; ok {
				a.add(models.FindingDuplicateCredit, t,
					fmt.Sprintf("entry %s already reversed by %s", *t.ParentTransactionID, first))
			} else {
				byParent[*t.ParentTransactionID] = t.ID
			}
		}
	}
}

// resolveBeforeAdjustment помечает находки, закрытые последующей корректировкой.
func (a *audit) resolveBeforeAdjustment(txns []*models.Transaction) {
	var lastAdjustment int64
	for _, t := range txns {
		if t.IsAdjustment && t.Status.IsPosted() && t.PostingSeq > lastAdjustment {
			lastAdjustment = t.PostingSeq
		}
	}
	if lastAdjustment == 0 {
		return
	}

	seqByID := make(map[uuid.UUID]int64, len(txns))
	for _, t := range txns {
		seqByID[t.ID] = t.PostingSeq
	}
	for i := range a.findings {
		f := &a.findings[i]
		if f.Kind == models.FindingOrphanedTransaction {
			continue
		}
		if seq := seqByID[f.TransactionID]; seq != 0 && seq < lastAdjustment {
			f.Resolved = true
		}
	}
}
