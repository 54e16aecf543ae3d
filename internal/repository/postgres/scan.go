package postgres

import (
	"encoding/json"
	"fmt"

	"wallet_ledger/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(
		&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.IsActive, &w.IsFrozen, &w.VirtualAccountNumber,
		&w.ProviderName, &w.PINHash, &w.LastTransactionAt, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		t           models.Transaction
		providerRef *string
		postingSeq  *int64
		details     []byte
		metadata    []byte
	)
	err := row.Scan(
		&t.ID, &t.Reference, &t.Type, &t.Status, &t.Amount, &t.Fee, &t.SenderWalletID, &t.ReceiverWalletID,
		&t.SenderBalanceBefore, &t.SenderBalanceAfter, &t.ReceiverBalanceBefore, &t.ReceiverBalanceAfter,
		&providerRef, &t.ParentTransactionID, &t.IsAdjustment, &details, &metadata,
		&t.FailureReason, &postingSeq, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if providerRef != nil {
		t.ProviderReference = *providerRef
	}
	if postingSeq != nil {
		t.PostingSeq = *postingSeq
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &t.Details); err != nil {
			return nil, fmt.Errorf("ошибка разбора details транзакции %s: %w", t.ID, err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("ошибка разбора metadata транзакции %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullSeq(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func transactionArgs(t *models.Transaction) ([]any, error) {
	details, err := json.Marshal(t.Details)
	if err != nil {
		return nil, err
	}
	metadata, err := encodeMetadata(t.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		t.ID, t.Reference, t.Type, t.Status, t.Amount, t.Fee, t.SenderWalletID, t.ReceiverWalletID,
		t.SenderBalanceBefore, t.SenderBalanceAfter, t.ReceiverBalanceBefore, t.ReceiverBalanceAfter,
		nullString(t.ProviderReference), t.ParentTransactionID, t.IsAdjustment, details, metadata,
		t.FailureReason, nullSeq(t.PostingSeq), t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	}, nil
}

func toStrings(statuses []models.TransactionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
