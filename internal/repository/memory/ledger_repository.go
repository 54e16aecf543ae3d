package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/repository"

	"github.com/google/uuid"
)

var _ repository.Ledger = (*LedgerRepository)(nil)

// LedgerRepository: хранилище журнала в памяти для локального запуска и тестов.
// Повторяет семантику Postgres: блокировка строк до конца RunInTx, изменения
// видны другим только после коммита, уникальность reference и provider_reference.
type LedgerRepository struct {
	mu            sync.RWMutex
	wallets       map[uuid.UUID]*models.Wallet
	accounts      map[string]uuid.UUID
	users         map[uuid.UUID]uuid.UUID
	txns          map[uuid.UUID]*models.Transaction
	byReference   map[string]uuid.UUID
	byProviderRef map[string]uuid.UUID
	byWallet      map[uuid.UUID][]uuid.UUID

	rowLocks *lockTable
	seq      atomic.Int64
}

func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{
		wallets:       make(map[uuid.UUID]*models.Wallet),
		accounts:      make(map[string]uuid.UUID),
		users:         make(map[uuid.UUID]uuid.UUID),
		txns:          make(map[uuid.UUID]*models.Transaction),
		byReference:   make(map[string]uuid.UUID),
		byProviderRef: make(map[string]uuid.UUID),
		byWallet:      make(map[uuid.UUID][]uuid.UUID),
		rowLocks:      newLockTable(),
	}
}

func (r *LedgerRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	tx := newMemTx(r)
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (r *LedgerRepository) GetWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.wallets[id]
	if !ok {
		return nil, custom_err.ErrNotFound
	}
	return w.Clone(), nil
}

func (r *LedgerRepository) GetWalletByAccountNumber(ctx context.Context, accountNumber string) (*models.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.accounts[accountNumber]
	if !ok {
		return nil, custom_err.ErrNotFound
	}
	return r.wallets[id].Clone(), nil
}

func (r *LedgerRepository) CreateWallets(ctx context.Context, wallets []*models.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seenAccounts := make(map[string]struct{}, len(wallets))
	seenUsers := make(map[uuid.UUID]struct{}, len(wallets))
	for _, w := range wallets {
		_, idTaken := r.wallets[w.ID]
		_, accountTaken := r.accounts[w.VirtualAccountNumber]
		_, userTaken := r.users[w.UserID]
		_, accountDup := seenAccounts[w.VirtualAccountNumber]
		_, userDup := seenUsers[w.UserID]
		if idTaken || accountTaken || userTaken || accountDup || userDup {
			return fmt.Errorf("кошелек уже существует: %w", custom_err.ErrConflict)
		}
		seenAccounts[w.VirtualAccountNumber] = struct{}{}
		seenUsers[w.UserID] = struct{}{}
	}

	for _, w := range wallets {
		r.wallets[w.ID] = w.Clone()
		r.accounts[w.VirtualAccountNumber] = w.ID
		r.users[w.UserID] = w.ID
	}
	return nil
}

func (r *LedgerRepository) ListActiveWalletIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]*models.Wallet, 0)
	for _, w := range r.wallets {
		if w.LastTransactionAt != nil && !w.LastTransactionAt.Before(since) {
			active = append(active, w)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastTransactionAt.After(*active[j].LastTransactionAt)
	})

	ids := make([]uuid.UUID, 0, len(active))
	for _, w := range active {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, w.ID)
	}
	return ids, nil
}

func (r *LedgerRepository) HeldAmount(ctx context.Context, walletID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.heldLocked(walletID, nil), nil
}

// heldLocked считает удержания; pending содержит незакоммиченные версии строк текущей транзакции.
func (r *LedgerRepository) heldLocked(walletID uuid.UUID, pending map[uuid.UUID]*models.Transaction) int64 {
	var held int64
	counted := make(map[uuid.UUID]struct{})
	consider := func(t *models.Transaction) {
		if _, ok := counted[t.ID]; ok {
			return
		}
		counted[t.ID] = struct{}{}
		if t.IsDebitFor(walletID) && !t.Status.IsTerminal() {
			held += t.DebitTotal()
		}
	}
	for _, t := range pending {
		consider(t)
	}
	for _, id := range r.byWallet[walletID] {
		consider(r.txns[id])
	}
	return held
}

func (r *LedgerRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.txns[id]
	if !ok {
		return nil, custom_err.ErrNotFound
	}
	return t.Clone(), nil
}

func (r *LedgerRepository) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byReference[reference]
	if !ok {
		return nil, custom_err.ErrNotFound
	}
	return r.txns[id].Clone(), nil
}

func (r *LedgerRepository) GetTransactionByProviderReference(ctx context.Context, providerReference string) (*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byProviderRef[providerReference]
	if !ok {
		return nil, custom_err.ErrNotFound
	}
	return r.txns[id].Clone(), nil
}

func (r *LedgerRepository) ListTransactions(ctx context.Context, walletID uuid.UUID, filter models.TransactionFilter) ([]*models.Transaction, error) {
	r.mu.RLock()
	matched := make([]*models.Transaction, 0, len(r.byWallet[walletID]))
	for _, id := range r.byWallet[walletID] {
		t := r.txns[id]
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		matched = append(matched, t.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.Transaction{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (r *LedgerRepository) ListStaleTransactions(
	ctx context.Context,
	statuses []models.TransactionStatus,
	olderThan time.Time,
	limit int,
) ([]*models.Transaction, error) {
	wanted := make(map[models.TransactionStatus]struct{}, len(statuses))
	for _, s := range statuses {
		wanted[s] = struct{}{}
	}

	r.mu.RLock()
	stale := make([]*models.Transaction, 0)
	for _, t := range r.txns {
		if _, ok := wanted[t.Status]; ok && t.UpdatedAt.Before(olderThan) {
			stale = append(stale, t.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

var errNegativeBalance = errors.New("нарушение ограничения: баланс не может быть отрицательным")
