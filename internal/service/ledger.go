package service

import (
	"context"
	"time"

	"wallet_ledger/internal/ledger"
	"wallet_ledger/internal/models"

	"github.com/google/uuid"
)

// Ledger: операции журнала, которыми пользуются сервисы.
type Ledger interface {
	Now() time.Time

	Reserve(ctx context.Context, p models.ReserveParams) (*models.Transaction, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	AttachProviderReference(ctx context.Context, id uuid.UUID, providerRef string) (*models.Transaction, error)
	ApplyCompletion(ctx context.Context, id uuid.UUID, outcome models.Outcome) (*models.Transaction, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	RecordDeposit(ctx context.Context, p models.DepositParams) (*models.Transaction, bool, error)
	Reverse(ctx context.Context, originalID uuid.UUID, reason string) (*models.Transaction, error)
	Adjust(ctx context.Context, p models.AdjustParams) (*models.Transaction, error)

	ProvisionWallets(ctx context.Context, reqs []models.NewWallet) ([]*models.Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	GetWalletByAccountNumber(ctx context.Context, accountNumber string) (*models.Wallet, error)
	GetBalance(ctx context.Context, walletID uuid.UUID) (*models.WalletBalance, error)
	ListActiveWalletIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	GetTransactionByProviderReference(ctx context.Context, providerRef string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, filter models.TransactionFilter) ([]*models.Transaction, error)
	ListStaleTransactions(ctx context.Context, statuses []models.TransactionStatus, olderThan time.Time, limit int) ([]*models.Transaction, error)
}

var _ Ledger = (*ledger.Store)(nil)
