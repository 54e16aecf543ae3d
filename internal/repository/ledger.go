package repository

import (
	"context"
	"time"

	"wallet_ledger/internal/models"

	"github.com/google/uuid"
)

// Ledger: чтение журнала и кошельков вне транзакции плюс единица работы RunInTx.
type Ledger interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error

	GetWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	GetWalletByAccountNumber(ctx context.Context, accountNumber string) (*models.Wallet, error)
	CreateWallets(ctx context.Context, wallets []*models.Wallet) error
	ListActiveWalletIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
	HeldAmount(ctx context.Context, walletID uuid.UUID) (int64, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	GetTransactionByProviderReference(ctx context.Context, providerReference string) (*models.Transaction, error)
	// ListTransactions возвращает записи кошелька, новые первыми. При Limit 0 ограничения нет.
	ListTransactions(ctx context.Context, walletID uuid.UUID, filter models.TransactionFilter) ([]*models.Transaction, error)
	ListStaleTransactions(ctx context.Context, statuses []models.TransactionStatus, olderThan time.Time, limit int) ([]*models.Transaction, error)
}

// LedgerTx: операции внутри одной транзакции хранилища. Блокировки держатся до коммита.
type LedgerTx interface {
	LockWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	UpdateWalletBalance(ctx context.Context, id uuid.UUID, newBalance int64, expectedVersion int64) error
	HeldAmount(ctx context.Context, walletID uuid.UUID) (int64, error)

	InsertTransaction(ctx context.Context, tx *models.Transaction) error
	LockTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, tx *models.Transaction) error
	NextPostingSeq(ctx context.Context) (int64, error)
}
