package models

import (
	"fmt"
	"time"

	"wallet_ledger/internal/custom_err"

	"github.com/google/uuid"
)

type ReconciliationStatus string

const (
	ReconciliationOK        ReconciliationStatus = "OK"
	ReconciliationAttention ReconciliationStatus = "ATTENTION"
	ReconciliationDrift     ReconciliationStatus = "DRIFT"
)

type DriftClassification string

const (
	ClassificationNone           DriftClassification = ""
	ClassificationOrphaned       DriftClassification = "ORPHANED"
	ClassificationDataCorruption DriftClassification = "DATA_CORRUPTION"
	ClassificationUnexplained    DriftClassification = "UNEXPLAINED"
	ClassificationUnrecovered    DriftClassification = "UNRECOVERED_REVERSAL"
)

type FindingKind string

const (
	FindingOrphanedTransaction   FindingKind = "ORPHANED_TRANSACTION"
	FindingFailedBalanceMutation FindingKind = "FAILED_BALANCE_MUTATION"
	FindingSnapshotMismatch      FindingKind = "SNAPSHOT_MISMATCH"
	FindingDuplicateCredit       FindingKind = "DUPLICATE_CREDIT"
	// FindingParkedReversal: провайдер вернул средства, но сторно не покрыто
	// доступным остатком и записано FAILED.
	FindingParkedReversal FindingKind = "PARKED_REVERSAL"
)

// IsCorruption отмечает находки, указывающие на испорченные данные, а не на незавершенную работу.
func (k FindingKind) IsCorruption() bool {
	return k != FindingOrphanedTransaction && k != FindingParkedReversal
}

type Finding struct {
	Kind          FindingKind       `json:"kind"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	Reference     string            `json:"reference"`
	Status        TransactionStatus `json:"status"`
	Detail        string            `json:"detail"`
	// Resolved выставляется, если после находки уже проведена корректировка.
	Resolved bool `json:"resolved"`
}

type Correction struct {
	Amount          int64  `json:"amount"`
	ExpectedBalance int64  `json:"expected_balance"`
	Reason          string `json:"reason"`
}

type CorrectionRequest struct {
	Amount          int64  `json:"amount"`
	ExpectedBalance int64  `json:"expected_balance"`
	Reason          string `json:"reason"`
}

type ReconciliationReport struct {
	WalletID           uuid.UUID            `json:"wallet_id"`
	StoredBalance      int64                `json:"stored_balance"`
	ComputedBalance    int64                `json:"computed_balance"`
	Discrepancy        int64                `json:"discrepancy"`
	Status             ReconciliationStatus `json:"status"`
	Classification     DriftClassification  `json:"classification,omitempty"`
	Findings           []Finding            `json:"findings"`
	ProposedCorrection *Correction          `json:"proposed_correction,omitempty"`
	GeneratedAt        time.Time            `json:"generated_at"`
}

// Err возвращает ErrReconciliationDrift, если баланс расходится с журналом.
func (r *ReconciliationReport) Err() error {
	if r.Status != ReconciliationDrift {
		return nil
	}
	return fmt.Errorf("кошелек %s: хранимый %d, по журналу %d: %w",
		r.WalletID, r.StoredBalance, r.ComputedBalance, custom_err.ErrReconciliationDrift)
}

func (r *ReconciliationReport) OpenFindings() []Finding {
	open := make([]Finding, 0, len(r.Findings))
	for _, f := range r.Findings {
		if !f.Resolved {
			open = append(open, f)
		}
	}
	return open
}
