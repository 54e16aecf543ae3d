package models

import (
	"maps"
	"time"

	"wallet_ledger/internal/custom_err"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TransferTransaction   TransactionType = "TRANSFER"
	DepositTransaction    TransactionType = "DEPOSIT"
	WithdrawalTransaction TransactionType = "WITHDRAWAL"
	PaymentTransaction    TransactionType = "PAYMENT"
	ReversalTransaction   TransactionType = "REVERSAL"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransferTransaction, DepositTransaction, WithdrawalTransaction, PaymentTransaction, ReversalTransaction:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
	StatusCancelled  TransactionStatus = "CANCELLED"
	StatusReversed   TransactionStatus = "REVERSED"
)

func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusReversed:
		return true
	}
	return false
}

func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusReversed:
		return true
	}
	return false
}

// IsPosted сообщает, изменила ли транзакция баланс. REVERSED остается
// проведенной: ее компенсирует отдельная REVERSAL-запись.
func (s TransactionStatus) IsPosted() bool {
	return s == StatusCompleted || s == StatusReversed
}

const TransferDetailsVersion = 1

// TransferDetails: реквизиты получателя и отправителя, версионированная структура.
type TransferDetails struct {
	Version             int    `json:"version"`
	SourceAccount       string `json:"source_account,omitempty"`
	DestinationAccount  string `json:"destination_account,omitempty"`
	DestinationBankCode string `json:"destination_bank_code,omitempty"`
	DestinationName     string `json:"destination_name,omitempty"`
	Narration           string `json:"narration,omitempty"`
}

func (d TransferDetails) Validate(txType TransactionType) error {
	verr := &custom_err.ValidationError{}
	if d.Version != TransferDetailsVersion {
		verr.Add("details.version", "unsupported details version")
	}
	if txType == TransferTransaction || txType == WithdrawalTransaction {
		if d.DestinationAccount == "" {
			verr.Add("destination_account", "is required")
		}
		if d.DestinationBankCode == "" {
			verr.Add("destination_bank_code", "is required")
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

type Transaction struct {
	ID                    uuid.UUID         `json:"id"`
	Reference             string            `json:"reference"`
	Type                  TransactionType   `json:"type"`
	Status                TransactionStatus `json:"status"`
	Amount                int64             `json:"amount"`
	Fee                   int64             `json:"fee"`
	SenderWalletID        *uuid.UUID        `json:"sender_wallet_id,omitempty"`
	ReceiverWalletID      *uuid.UUID        `json:"receiver_wallet_id,omitempty"`
	SenderBalanceBefore   *int64            `json:"sender_balance_before,omitempty"`
	SenderBalanceAfter    *int64            `json:"sender_balance_after,omitempty"`
	ReceiverBalanceBefore *int64            `json:"receiver_balance_before,omitempty"`
	ReceiverBalanceAfter  *int64            `json:"receiver_balance_after,omitempty"`
	ProviderReference     string            `json:"provider_reference,omitempty"`
	ParentTransactionID   *uuid.UUID        `json:"parent_transaction_id,omitempty"`
	IsAdjustment          bool              `json:"is_adjustment"`
	Details               TransferDetails   `json:"details"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	FailureReason         string            `json:"failure_reason,omitempty"`
	PostingSeq            int64             `json:"posting_seq,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
}

// ParkedMetadataKey помечает сторно, отложенное из-за нехватки доступных средств.
const ParkedMetadataKey = "parked"

// IsParkedReversal: сторно записано FAILED и ждет ручного разбора по сверке.
func (t *Transaction) IsParkedReversal() bool {
	return t.Type == ReversalTransaction && t.Status == StatusFailed && t.Metadata[ParkedMetadataKey] == "true"
}

// DebitTotal: сумма, которую теряет кошелек отправителя.
func (t *Transaction) DebitTotal() int64 {
	return t.Amount + t.Fee
}

func (t *Transaction) IsDebitFor(walletID uuid.UUID) bool {
	return t.SenderWalletID != nil && *t.SenderWalletID == walletID
}

func (t *Transaction) IsCreditFor(walletID uuid.UUID) bool {
	return t.ReceiverWalletID != nil && *t.ReceiverWalletID == walletID
}

// DeltaFor возвращает изменение баланса кошелька, которое дает проведенная запись.
func (t *Transaction) DeltaFor(walletID uuid.UUID) int64 {
	var delta int64
	if t.IsDebitFor(walletID) {
		delta -= t.DebitTotal()
	}
	if t.IsCreditFor(walletID) {
		delta += t.Amount
	}
	return delta
}

// WalletIDs возвращает затронутые кошельки в порядке захвата блокировок.
func (t *Transaction) WalletIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, 2)
	if t.SenderWalletID != nil {
		ids = append(ids, *t.SenderWalletID)
	}
	if t.ReceiverWalletID != nil {
		ids = append(ids, *t.ReceiverWalletID)
	}
	if len(ids) == 2 && ids[1].String() < ids[0].String() {
		ids[0], ids[1] = ids[1], ids[0]
	}
	return ids
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.SenderWalletID = cloneUUID(t.SenderWalletID)
	c.ReceiverWalletID = cloneUUID(t.ReceiverWalletID)
	c.ParentTransactionID = cloneUUID(t.ParentTransactionID)
	c.SenderBalanceBefore = cloneInt(t.SenderBalanceBefore)
	c.SenderBalanceAfter = cloneInt(t.SenderBalanceAfter)
	c.ReceiverBalanceBefore = cloneInt(t.ReceiverBalanceBefore)
	c.ReceiverBalanceAfter = cloneInt(t.ReceiverBalanceAfter)
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	if t.Metadata != nil {
		c.Metadata = maps.Clone(t.Metadata)
	}
	return &c
}

func cloneUUID(v *uuid.UUID) *uuid.UUID {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Int64Ptr: хелпер для полей снапшотов.
func Int64Ptr(v int64) *int64 {
	return &v
}

func UUIDPtr(v uuid.UUID) *uuid.UUID {
	return &v
}

type TransactionFilter struct {
	Status TransactionStatus
	Type   TransactionType
	Limit  int
	Offset int
}

// Outcome: итог, применяемый к транзакции через ApplyCompletion.
type Outcome struct {
	Status            TransactionStatus
	ProviderReference string
	FailureReason     string
}
