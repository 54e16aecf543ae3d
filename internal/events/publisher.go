package events

import (
	"context"
	"log/slog"
	"time"

	"wallet_ledger/internal/models"

	"github.com/google/uuid"
)

type EventType string

const (
	TransactionCompleted EventType = "ledger.transaction.completed"
	TransactionFailed    EventType = "ledger.transaction.failed"
	TransactionCancelled EventType = "ledger.transaction.cancelled"
	TransactionReversed  EventType = "ledger.transaction.reversed"
	TransactionAdjusted  EventType = "ledger.transaction.adjusted"
)

// LedgerEvent публикуется после коммита терминального перехода.
type LedgerEvent struct {
	ID                  uuid.UUID                `json:"id"`
	Type                EventType                `json:"type"`
	TransactionID       uuid.UUID                `json:"transaction_id"`
	Reference           string                   `json:"reference"`
	TransactionType     models.TransactionType   `json:"transaction_type"`
	Status              models.TransactionStatus `json:"status"`
	Amount              int64                    `json:"amount"`
	Fee                 int64                    `json:"fee"`
	SenderWalletID      *uuid.UUID               `json:"sender_wallet_id,omitempty"`
	ReceiverWalletID    *uuid.UUID               `json:"receiver_wallet_id,omitempty"`
	ParentTransactionID *uuid.UUID               `json:"parent_transaction_id,omitempty"`
	FailureReason       string                   `json:"failure_reason,omitempty"`
	OccurredAt          time.Time                `json:"occurred_at"`
}

// EventFor строит событие по транзакции; тип выводится из статуса.
func EventFor(tx *models.Transaction, at time.Time) LedgerEvent {
	eventType := TransactionCompleted
	switch {
	case tx.IsAdjustment:
		eventType = TransactionAdjusted
	case tx.Status == models.StatusFailed:
		eventType = TransactionFailed
	case tx.Status == models.StatusCancelled:
		eventType = TransactionCancelled
	case tx.Status == models.StatusReversed:
		eventType = TransactionReversed
	}

	return LedgerEvent{
		ID:                  uuid.New(),
		Type:                eventType,
		TransactionID:       tx.ID,
		Reference:           tx.Reference,
		TransactionType:     tx.Type,
		Status:              tx.Status,
		Amount:              tx.Amount,
		Fee:                 tx.Fee,
		SenderWalletID:      tx.SenderWalletID,
		ReceiverWalletID:    tx.ReceiverWalletID,
		ParentTransactionID: tx.ParentTransactionID,
		FailureReason:       tx.FailureReason,
		OccurredAt:          at,
	}
}

// Publisher отправляет события журнала во внешнюю шину.
type Publisher interface {
	Publish(ctx context.Context, event LedgerEvent) error
	Close() error
}

var _ Publisher = (*NoopPublisher)(nil)

// NoopPublisher используется, когда брокер не настроен или недоступен при старте.
type NoopPublisher struct {
	log *slog.Logger
}

func NewNoopPublisher(log *slog.Logger) *NoopPublisher {
	return &NoopPublisher{log: log}
}

func (p *NoopPublisher) Publish(ctx context.Context, event LedgerEvent) error {
	p.log.Debug("публикация пропущена: брокер не настроен",
		slog.String("type", string(event.Type)),
		slog.String("reference", event.Reference),
	)
	return nil
}

func (p *NoopPublisher) Close() error { return nil }
