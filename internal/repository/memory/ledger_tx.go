package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/repository"

	"github.com/google/uuid"
)

var _ repository.LedgerTx = (*memTx)(nil)

type memTx struct {
	repo      *LedgerRepository
	held      []*sync.Mutex
	lockedIDs map[uuid.UUID]struct{}
	wallets   map[uuid.UUID]*models.Wallet
	txns      map[uuid.UUID]*models.Transaction
	inserted  map[uuid.UUID]struct{}
}

func newMemTx(repo *LedgerRepository) *memTx {
	return &memTx{
		repo:      repo,
		lockedIDs: make(map[uuid.UUID]struct{}),
		wallets:   make(map[uuid.UUID]*models.Wallet),
		txns:      make(map[uuid.UUID]*models.Transaction),
		inserted:  make(map[uuid.UUID]struct{}),
	}
}

func (t *memTx) lockRow(id uuid.UUID) {
	if _, ok := t.lockedIDs[id]; ok {
		return
	}
	m := t.repo.rowLocks.get(id)
	m.Lock()
	t.held = append(t.held, m)
	t.lockedIDs[id] = struct{}{}
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
}

func (t *memTx) currentWallet(id uuid.UUID) *models.Wallet {
	if w, ok := t.wallets[id]; ok {
		return w.Clone()
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	return t.repo.wallets[id].Clone()
}

func (t *memTx) currentTransaction(id uuid.UUID) *models.Transaction {
	if txn, ok := t.txns[id]; ok {
		return txn.Clone()
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	return t.repo.txns[id].Clone()
}

func (t *memTx) LockWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	if t.currentWallet(id) == nil {
		return nil, custom_err.ErrNotFound
	}
	t.lockRow(id)
	return t.currentWallet(id), nil
}

func (t *memTx) UpdateWalletBalance(ctx context.Context, id uuid.UUID, newBalance int64, expectedVersion int64) error {
	w := t.currentWallet(id)
	if w == nil || w.Version != expectedVersion {
		return custom_err.ErrConflict
	}
	if newBalance < 0 {
		return errNegativeBalance
	}

	now := time.Now().UTC()
	w.Balance = newBalance
	w.Version = expectedVersion + 1
	w.LastTransactionAt = &now
	w.UpdatedAt = now
	t.wallets[id] = w
	return nil
}

func (t *memTx) HeldAmount(ctx context.Context, walletID uuid.UUID) (int64, error) {
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	return t.repo.heldLocked(walletID, t.txns), nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := checkTransactionConstraints(txn); err != nil {
		return err
	}

	t.repo.mu.RLock()
	_, refTaken := t.repo.byReference[txn.Reference]
	_, idTaken := t.repo.txns[txn.ID]
	_, providerTaken := t.repo.byProviderRef[txn.ProviderReference]
	t.repo.mu.RUnlock()

	if refTaken || idTaken || (txn.ProviderReference != "" && providerTaken) {
		return custom_err.ErrDuplicateReference
	}
	for _, pending := range t.txns {
		if pending.Reference == txn.Reference || pending.ID == txn.ID {
			return custom_err.ErrDuplicateReference
		}
		if txn.ProviderReference != "" && pending.ProviderReference == txn.ProviderReference {
			return custom_err.ErrDuplicateReference
		}
	}

	t.txns[txn.ID] = txn.Clone()
	t.inserted[txn.ID] = struct{}{}
	return nil
}

func checkTransactionConstraints(txn *models.Transaction) error {
	switch {
	case txn.Amount <= 0:
		return fmt.Errorf("нарушение ограничения: amount > 0 (%d)", txn.Amount)
	case txn.Fee < 0:
		return fmt.Errorf("нарушение ограничения: fee >= 0 (%d)", txn.Fee)
	case txn.SenderWalletID == nil && txn.ReceiverWalletID == nil:
		return fmt.Errorf("нарушение ограничения: у транзакции нет ни одного кошелька")
	case txn.SenderWalletID != nil && txn.ReceiverWalletID != nil && *txn.SenderWalletID == *txn.ReceiverWalletID:
		return fmt.Errorf("нарушение ограничения: отправитель совпадает с получателем")
	}
	return nil
}

func (t *memTx) LockTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if t.currentTransaction(id) == nil {
		return nil, custom_err.ErrNotFound
	}
	t.lockRow(id)
	return t.currentTransaction(id), nil
}

func (t *memTx) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	for _, pending := range t.txns {
		if pending.Reference == reference {
			return pending.Clone(), nil
		}
	}
	return t.repo.GetTransactionByReference(ctx, reference)
}

func (t *memTx) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	if t.currentTransaction(txn.ID) == nil {
		return custom_err.ErrNotFound
	}

	if txn.ProviderReference != "" {
		t.repo.mu.RLock()
		owner, taken := t.repo.byProviderRef[txn.ProviderReference]
		t.repo.mu.RUnlock()
		if taken && owner != txn.ID {
			return custom_err.ErrConflict
		}
		for _, pending := range t.txns {
			if pending.ID != txn.ID && pending.ProviderReference == txn.ProviderReference {
				return custom_err.ErrConflict
			}
		}
	}

	t.txns[txn.ID] = txn.Clone()
	return nil
}

func (t *memTx) NextPostingSeq(ctx context.Context) (int64, error) {
	return t.repo.seq.Add(1), nil
}

// commit проверяет уникальность повторно под общей блокировкой: параллельная
// транзакция могла закоммитить тот же reference после нашей проверки.
func (t *memTx) commit() error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, txn := range t.txns {
		_, isNew := t.inserted[id]
		if isNew {
			if _, taken := r.byReference[txn.Reference]; taken {
				return custom_err.ErrDuplicateReference
			}
		}
		if txn.ProviderReference == "" {
			continue
		}
		if owner, taken := r.byProviderRef[txn.ProviderReference]; taken && owner != id {
			if isNew {
				return custom_err.ErrDuplicateReference
			}
			return custom_err.ErrConflict
		}
	}

	for id, w := range t.wallets {
		r.wallets[id] = w
	}
	for id, txn := range t.txns {
		if _, isNew := t.inserted[id]; isNew {
			r.byReference[txn.Reference] = id
			for _, walletID := range txn.WalletIDs() {
				r.byWallet[walletID] = append(r.byWallet[walletID], id)
			}
		}
		if txn.ProviderReference != "" {
			r.byProviderRef[txn.ProviderReference] = id
		}
		r.txns[id] = txn
	}
	return nil
}
