package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ repository.Ledger = (*LedgerRepository)(nil)

type LedgerRepository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewLedgerRepository(db *pgxpool.Pool, log *slog.Logger) *LedgerRepository {
	return &LedgerRepository{db: db, log: log}
}

// RunInTx выполняет fn в одной транзакции БД; любая ошибка fn откатывает все изменения.
func (r *LedgerRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	const op = "repository.GetWallet"
	wallet, err := scanWallet(r.db.QueryRow(ctx, repository.GetWalletByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return wallet, nil
}

func (r *LedgerRepository) GetWalletByAccountNumber(ctx context.Context, accountNumber string) (*models.Wallet, error) {
	const op = "repository.GetWalletByAccountNumber"
	wallet, err := scanWallet(r.db.QueryRow(ctx, repository.GetWalletByAccountNumberQuery, accountNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return wallet, nil
}

func (r *LedgerRepository) ListActiveWalletIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	const op = "repository.ListActiveWalletIDs"
	rows, err := r.db.Query(ctx, repository.ListActiveWalletIDsQuery, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

func (r *LedgerRepository) HeldAmount(ctx context.Context, walletID uuid.UUID) (int64, error) {
	return heldAmount(ctx, r.db, walletID)
}

func (r *LedgerRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return getTransaction(ctx, r.db, "repository.GetTransaction", repository.GetTransactionByIDQuery, id)
}

func (r *LedgerRepository) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return getTransaction(ctx, r.db, "repository.GetTransactionByReference", repository.GetTransactionByReferenceQuery, reference)
}

func (r *LedgerRepository) GetTransactionByProviderReference(ctx context.Context, providerReference string) (*models.Transaction, error) {
	return getTransaction(ctx, r.db, "repository.GetTransactionByProviderReference", repository.GetTransactionByProviderReferenceQuery, providerReference)
}

func (r *LedgerRepository) ListTransactions(ctx context.Context, walletID uuid.UUID, filter models.TransactionFilter) ([]*models.Transaction, error) {
	const op = "repository.ListTransactions"
	rows, err := r.db.Query(ctx, repository.ListWalletTransactionsQuery,
		walletID, string(filter.Status), string(filter.Type), filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return collectTransactions(rows, op)
}

func (r *LedgerRepository) ListStaleTransactions(
	ctx context.Context,
	statuses []models.TransactionStatus,
	olderThan time.Time,
	limit int,
) ([]*models.Transaction, error) {
	const op = "repository.ListStaleTransactions"
	rows, err := r.db.Query(ctx, repository.ListStaleTransactionsQuery, toStrings(statuses), olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return collectTransactions(rows, op)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getTransaction(ctx context.Context, q querier, op, query string, arg any) (*models.Transaction, error) {
	t, err := scanTransaction(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func heldAmount(ctx context.Context, q querier, walletID uuid.UUID) (int64, error) {
	var held int64
	if err := q.QueryRow(ctx, repository.HeldAmountQuery, walletID).Scan(&held); err != nil {
		return 0, fmt.Errorf("ошибка подсчета удержаний: %w", err)
	}
	return held, nil
}

func collectTransactions(rows pgx.Rows, op string) ([]*models.Transaction, error) {
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
