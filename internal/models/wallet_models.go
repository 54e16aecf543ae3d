package models

import (
	"time"

	"github.com/google/uuid"
)

const DefaultCurrency = "NGN"

type Wallet struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	UserID               uuid.UUID  `json:"user_id" db:"user_id"`
	Balance              int64      `json:"balance" db:"balance"`
	Currency             string     `json:"currency" db:"currency"`
	IsActive             bool       `json:"is_active" db:"is_active"`
	IsFrozen             bool       `json:"is_frozen" db:"is_frozen"`
	VirtualAccountNumber string     `json:"virtual_account_number" db:"virtual_account_number"`
	ProviderName         string     `json:"provider_name" db:"provider_name"`
	PINHash              string     `json:"-" db:"pin_hash"`
	LastTransactionAt    *time.Time `json:"last_transaction_at,omitempty" db:"last_transaction_at"`
	Version              int64      `json:"-" db:"version"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

func (w *Wallet) Clone() *Wallet {
	if w == nil {
		return nil
	}
	c := *w
	if w.LastTransactionAt != nil {
		t := *w.LastTransactionAt
		c.LastTransactionAt = &t
	}
	return &c
}

// WalletBalance: баланс с учетом удержаний по незавершенным списаниям.
type WalletBalance struct {
	WalletID  uuid.UUID `json:"wallet_id"`
	Balance   int64     `json:"balance"`
	Held      int64     `json:"held"`
	Available int64     `json:"available"`
	Currency  string    `json:"currency"`
}

type NewWallet struct {
	ID                   uuid.UUID `json:"id"`
	UserID               uuid.UUID `json:"user_id"`
	Currency             string    `json:"currency"`
	VirtualAccountNumber string    `json:"virtual_account_number"`
	ProviderName         string    `json:"provider_name"`
	PIN                  string    `json:"pin"`
}
