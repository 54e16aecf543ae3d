package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/models"

	"github.com/jackc/pgx/v5"
)

var walletCopyColumns = []string{
	"id", "user_id", "balance", "currency", "is_active", "is_frozen",
	"virtual_account_number", "provider_name", "pin_hash", "version", "created_at", "updated_at",
}

// CreateWallets создает кошельки пачкой через COPY. Пачка атомарна: при
// конфликте по user_id или номеру счета не создается ни один кошелек.
func (r *LedgerRepository) CreateWallets(ctx context.Context, wallets []*models.Wallet) error {
	if len(wallets) == 0 {
		return nil
	}

	stats := r.db.Stat()
	r.log.Debug("пул соединений перед COPY",
		slog.Int("acquired", int(stats.AcquiredConns())),
		slog.Int("idle", int(stats.IdleConns())),
		slog.Int("total", int(stats.TotalConns())),
		slog.Int("max", int(stats.MaxConns())),
	)

	startTime := time.Now()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, 0, len(wallets))
	for _, w := range wallets {
		rows = append(rows, []any{
			w.ID, w.UserID, w.Balance, w.Currency, w.IsActive, w.IsFrozen,
			w.VirtualAccountNumber, w.ProviderName, w.PINHash, w.Version, w.CreatedAt, w.UpdatedAt,
		})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"wallets"},
		walletCopyColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("кошелек уже существует: %w", custom_err.ErrConflict)
		}
		return fmt.Errorf("ошибка COPY в таблицу wallets: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка коммита транзакции: %w", err)
	}

	r.log.Info("кошельки созданы",
		slog.Int("count", len(wallets)),
		slog.Duration("duration", time.Since(startTime)),
	)
	return nil
}
