package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWallet(account string) *models.Wallet {
	return &models.Wallet{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		Currency:             models.DefaultCurrency,
		IsActive:             true,
		VirtualAccountNumber: account,
		ProviderName:         "anchor",
		Version:              1,
	}
}

func newDebit(walletID uuid.UUID, reference string, amount int64) *models.Transaction {
	now := time.Now().UTC()
	return &models.Transaction{
		ID:             uuid.New(),
		Reference:      reference,
		Type:           models.TransferTransaction,
		Status:         models.StatusPending,
		Amount:         amount,
		SenderWalletID: models.UUIDPtr(walletID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestLedgerRepository_CreateWallets(t *testing.T) {
	repo := NewLedgerRepository()
	ctx := context.Background()

	w := newWallet("1000000001")
	require.NoError(t, repo.CreateWallets(ctx, []*models.Wallet{w}))

	got, err := repo.GetWalletByAccountNumber(ctx, "1000000001")
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	t.Run("Duplicate account rejects whole batch", func(t *testing.T) {
		fresh := newWallet("1000000002")
		dup := newWallet("1000000001")

		err := repo.CreateWallets(ctx, []*models.Wallet{fresh, dup})
		assert.ErrorIs(t, err, custom_err.ErrConflict)

		_, err = repo.GetWallet(ctx, fresh.ID)
		assert.ErrorIs(t, err, custom_err.ErrNotFound)
	})

	t.Run("Returned wallet is a copy", func(t *testing.T) {
		got.Balance = 999
		again, err := repo.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Zero(t, again.Balance)
	})
}

func TestLedgerRepository_RunInTx(t *testing.T) {
	ctx := context.Background()

	t.Run("Rollback on error discards every write", func(t *testing.T) {
		repo := NewLedgerRepository()
		w := newWallet("2000000001")
		require.NoError(t, repo.CreateWallets(ctx, []*models.Wallet{w}))

		boom := errors.New("boom")
		err := repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
			locked, err := tx.LockWallet(ctx, w.ID)
			require.NoError(t, err)
			require.NoError(t, tx.UpdateWalletBalance(ctx, w.ID, 500, locked.Version))
			require.NoError(t, tx.InsertTransaction(ctx, newDebit(w.ID, "r-1", 10)))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := repo.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Zero(t, got.Balance)

		_, err = repo.GetTransactionByReference(ctx, "r-1")
		assert.ErrorIs(t, err, custom_err.ErrNotFound)
	})

	t.Run("Optimistic version check and non-negative balance", func(t *testing.T) {
		repo := NewLedgerRepository()
		w := newWallet("2000000002")
		require.NoError(t, repo.CreateWallets(ctx, []*models.Wallet{w}))

		err := repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
			require.NoError(t, tx.UpdateWalletBalance(ctx, w.ID, 100, 1))
			assert.ErrorIs(t, tx.UpdateWalletBalance(ctx, w.ID, 200, 1), custom_err.ErrConflict)
			assert.Error(t, tx.UpdateWalletBalance(ctx, w.ID, -1, 2))
			return nil
		})
		require.NoError(t, err)

		got, err := repo.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), got.Balance)
		assert.Equal(t, int64(2), got.Version)
		assert.NotNil(t, got.LastTransactionAt)
	})

	t.Run("Duplicate reference", func(t *testing.T) {
		repo := NewLedgerRepository()
		w := newWallet("2000000003")
		require.NoError(t, repo.CreateWallets(ctx, []*models.Wallet{w}))

		insert := func(ref string) error {
			return repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
				return tx.InsertTransaction(ctx, newDebit(w.ID, ref, 10))
			})
		}
		require.NoError(t, insert("dup"))
		assert.ErrorIs(t, insert("dup"), custom_err.ErrDuplicateReference)

		held, err := repo.HeldAmount(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10), held)
	})

	t.Run("Provider reference is unique across transactions", func(t *testing.T) {
		repo := NewLedgerRepository()
		w := newWallet("2000000004")
		require.NoError(t, repo.CreateWallets(ctx, []*models.Wallet{w}))

		first, second := newDebit(w.ID, "a", 10), newDebit(w.ID, "b", 10)
		first.ProviderReference = "PRV-1"
		require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
			if err := tx.InsertTransaction(ctx, first); err != nil {
				return err
			}
			return tx.InsertTransaction(ctx, second)
		}))

		err := repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
			locked, err := tx.LockTransaction(ctx, second.ID)
			require.NoError(t, err)
			locked.ProviderReference = "PRV-1"
			return tx.UpdateTransaction(ctx, locked)
		})
		assert.ErrorIs(t, err, custom_err.ErrConflict)
	})
}

func TestLedgerRepository_WalletLockSerializes(t *testing.T) {
	repo := NewLedgerRepository()
	ctx := context.Background()
	w := newWallet("3000000001")
	require.NoError(t, repo.CreateWallets(ctx, []*models.Wallet{w}))

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
				locked, err := tx.LockWallet(ctx, w.ID)
				if err != nil {
					return err
				}
				return tx.UpdateWalletBalance(ctx, w.ID, locked.Balance+1, locked.Version)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), got.Balance)
}

func TestLedgerRepository_ListTransactions(t *testing.T) {
	repo := NewLedgerRepository()
	ctx := context.Background()
	w := newWallet("4000000001")
	require.NoError(t, repo.CreateWallets(ctx, []*models.Wallet{w}))

	base := time.Now().UTC().Add(-time.Hour)
	for i, status := range []models.TransactionStatus{models.StatusPending, models.StatusFailed, models.StatusPending} {
		txn := newDebit(w.ID, uuid.NewString(), int64(10*(i+1)))
		txn.Status = status
		txn.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		txn.UpdatedAt = txn.CreatedAt
		require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
			return tx.InsertTransaction(ctx, txn)
		}))
	}

	all, err := repo.ListTransactions(ctx, w.ID, models.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(30), all[0].Amount, "newest first")

	pending, err := repo.ListTransactions(ctx, w.ID, models.TransactionFilter{Status: models.StatusPending, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(10), pending[0].Amount)

	stale, err := repo.ListStaleTransactions(ctx, []models.TransactionStatus{models.StatusPending}, base.Add(90*time.Second), 0)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, int64(10), stale[0].Amount)

	held, err := repo.HeldAmount(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), held)
}
