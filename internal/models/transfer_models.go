package models

import (
	"strings"
	"time"

	"wallet_ledger/internal/custom_err"

	"github.com/google/uuid"
)

type TransferRequest struct {
	Reference           string            `json:"reference"`
	WalletID            uuid.UUID         `json:"wallet_id"`
	Amount              int64             `json:"amount"`
	PIN                 string            `json:"pin"`
	DestinationAccount  string            `json:"destination_account"`
	DestinationBankCode string            `json:"destination_bank_code"`
	DestinationName     string            `json:"destination_name,omitempty"`
	Narration           string            `json:"narration,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// Validate проверяет только форму запроса, без обращения к хранилищу.
func (r TransferRequest) Validate() error {
	verr := &custom_err.ValidationError{}
	if strings.TrimSpace(r.Reference) == "" {
		verr.Add("reference", "is required")
	}
	if r.WalletID == uuid.Nil {
		verr.Add("wallet_id", "is required")
	}
	if r.Amount <= 0 {
		verr.Add("amount", "must be positive")
	}
	if strings.TrimSpace(r.DestinationAccount) == "" {
		verr.Add("destination_account", "is required")
	}
	if strings.TrimSpace(r.DestinationBankCode) == "" {
		verr.Add("destination_bank_code", "is required")
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// SameIntent сообщает, описывает ли запрос ту же операцию, что и существующая транзакция.
func (r TransferRequest) SameIntent(tx *Transaction) bool {
	return tx.Amount == r.Amount &&
		tx.IsDebitFor(r.WalletID) &&
		tx.Details.DestinationAccount == r.DestinationAccount &&
		tx.Details.DestinationBankCode == r.DestinationBankCode
}

type TransferResult struct {
	Reference         string            `json:"reference"`
	TransactionID     uuid.UUID         `json:"transaction_id"`
	Status            TransactionStatus `json:"status"`
	Amount            int64             `json:"amount"`
	Fee               int64             `json:"fee"`
	ProviderReference string            `json:"provider_reference,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	Replayed          bool              `json:"replayed"`
}

func NewTransferResult(tx *Transaction, replayed bool) *TransferResult {
	return &TransferResult{
		Reference:         tx.Reference,
		TransactionID:     tx.ID,
		Status:            tx.Status,
		Amount:            tx.Amount,
		Fee:               tx.Fee,
		ProviderReference: tx.ProviderReference,
		FailureReason:     tx.FailureReason,
		Replayed:          replayed,
	}
}

type RetryRequest struct {
	OriginalReference string `json:"-"`
	NewReference      string `json:"new_reference,omitempty"`
	PIN               string `json:"pin"`
}

type CallbackStatus string

const (
	CallbackSuccess  CallbackStatus = "SUCCESS"
	CallbackFailed   CallbackStatus = "FAILED"
	CallbackReversed CallbackStatus = "REVERSED"
)

func (s CallbackStatus) IsValid() bool {
	switch s {
	case CallbackSuccess, CallbackFailed, CallbackReversed:
		return true
	}
	return false
}

// Callback: уведомление провайдера о финальном статусе перевода.
type Callback struct {
	ProviderReference string         `json:"providerReference"`
	Reference         string         `json:"reference"`
	Status            CallbackStatus `json:"status"`
	Reason            string         `json:"reason,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// DepositNotification: входящее пополнение виртуального счета.
// Amount приходит в основных единицах валюты строкой, например "1500.50".
type DepositNotification struct {
	ProviderReference    string    `json:"providerReference"`
	VirtualAccountNumber string    `json:"accountNumber"`
	Amount               string    `json:"amount"`
	SenderName           string    `json:"senderName,omitempty"`
	SenderAccount        string    `json:"senderAccount,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

type ReserveParams struct {
	Reference string
	Type      TransactionType
	WalletID  uuid.UUID
	Amount    int64
	Fee       int64
	Details   TransferDetails
	Metadata  map[string]string
	ParentID  *uuid.UUID
}

type DepositParams struct {
	Reference         string
	WalletID          uuid.UUID
	Amount            int64
	ProviderReference string
	Details           TransferDetails
	Metadata          map[string]string
}

type AdjustParams struct {
	WalletID        uuid.UUID
	Amount          int64
	ExpectedBalance int64
	Reason          string
}
