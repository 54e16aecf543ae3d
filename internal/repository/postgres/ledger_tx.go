package postgres

import (
	"context"
	"errors"
	"fmt"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var _ repository.LedgerTx = (*ledgerTx)(nil)

const uniqueViolation = "23505"

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) LockWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	wallet, err := scanWallet(t.tx.QueryRow(ctx, repository.LockWalletQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения состояния кошелька: %w", err)
	}
	return wallet, nil
}

func (t *ledgerTx) UpdateWalletBalance(ctx context.Context, id uuid.UUID, newBalance int64, expectedVersion int64) error {
	cmdTag, err := t.tx.Exec(ctx, repository.UpdateWalletBalanceWithLockQuery, newBalance, expectedVersion, id)
	if err != nil {
		return fmt.Errorf("ошибка выполнения обновления с блокировкой: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return custom_err.ErrConflict
	}

	return nil
}

func (t *ledgerTx) HeldAmount(ctx context.Context, walletID uuid.UUID) (int64, error) {
	return heldAmount(ctx, t.tx, walletID)
}

func (t *ledgerTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	args, err := transactionArgs(txn)
	if err != nil {
		return fmt.Errorf("ошибка подготовки транзакции: %w", err)
	}

	if _, err := t.tx.Exec(ctx, repository.InsertTransactionQuery, args...); err != nil {
		if isUniqueViolation(err) {
			return custom_err.ErrDuplicateReference
		}
		return fmt.Errorf("ошибка сохранения транзакции в журнал: %w", err)
	}
	return nil
}

func (t *ledgerTx) LockTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return getTransaction(ctx, t.tx, "repository.LockTransaction", repository.LockTransactionQuery, id)
}

func (t *ledgerTx) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return getTransaction(ctx, t.tx, "repository.GetTransactionByReferenceTx", repository.GetTransactionByReferenceQuery, reference)
}

func (t *ledgerTx) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	metadata, err := encodeMetadata(txn.Metadata)
	if err != nil {
		return fmt.Errorf("ошибка подготовки metadata: %w", err)
	}

	cmdTag, err := t.tx.Exec(ctx, repository.UpdateTransactionQuery,
		txn.ID, txn.Status,
		txn.SenderBalanceBefore, txn.SenderBalanceAfter, txn.ReceiverBalanceBefore, txn.ReceiverBalanceAfter,
		nullString(txn.ProviderReference), txn.FailureReason, nullSeq(txn.PostingSeq), metadata,
		txn.CompletedAt, txn.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return custom_err.ErrConflict
		}
		return fmt.Errorf("ошибка обновления транзакции: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return custom_err.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) NextPostingSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := t.tx.QueryRow(ctx, repository.NextPostingSeqQuery).Scan(&seq); err != nil {
		return 0, fmt.Errorf("ошибка получения номера проводки: %w", err)
	}
	return seq, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
