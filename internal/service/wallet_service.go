package service

import (
	"context"
	"fmt"

	"wallet_ledger/internal/models"

	"github.com/google/uuid"
)

// WalletServicer описывает, что должен уметь сервис кошелька.
type WalletServicer interface {
	ProvisionWallets(ctx context.Context, reqs []models.NewWallet) ([]*models.Wallet, error)
	GetWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	GetBalance(ctx context.Context, id uuid.UUID) (*models.WalletBalance, error)
	ListTransactions(ctx context.Context, id uuid.UUID, filter models.TransactionFilter) ([]*models.Transaction, error)
}

var _ WalletServicer = (*WalletService)(nil)

const maxListLimit = 500

// WalletService: чтение кошельков и выпуск новых. Баланс меняет только журнал.
type WalletService struct {
	ledger Ledger
}

func NewWalletService(ledger Ledger) *WalletService {
	return &WalletService{ledger: ledger}
}

func (s *WalletService) ProvisionWallets(ctx context.Context, reqs []models.NewWallet) ([]*models.Wallet, error) {
	return s.ledger.ProvisionWallets(ctx, reqs)
}

func (s *WalletService) GetWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	return s.ledger.GetWallet(ctx, id)
}

func (s *WalletService) GetBalance(ctx context.Context, id uuid.UUID) (*models.WalletBalance, error) {
	return s.ledger.GetBalance(ctx, id)
}

func (s *WalletService) ListTransactions(ctx context.Context, id uuid.UUID, filter models.TransactionFilter) ([]*models.Transaction, error) {
	const op = "service.ListTransactions"

	if filter.Limit == 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	txns, err := s.ledger.ListTransactions(ctx, id, filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return txns, nil
}
