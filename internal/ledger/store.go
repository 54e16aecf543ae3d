package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/events"
	"wallet_ledger/internal/metrics"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	ReversalReferencePrefix   = "REV-"
	AdjustmentReferencePrefix = "ADJ-"

	parkedReversalReason = "insufficient available balance for reversal"
)

// Store является единственной точкой изменения балансов. Баланс меняется только
// при проводке терминального статуса COMPLETED внутри заблокированной транзакции.
type Store struct {
	repo      repository.Ledger
	publisher events.Publisher
	log       *slog.Logger
	now       func() time.Time
	pinCost   int
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithPINCost(cost int) Option {
	return func(s *Store) { s.pinCost = cost }
}

func NewStore(repo repository.Ledger, publisher events.Publisher, log *slog.Logger, opts ...Option) *Store {
	s := &Store{
		repo:      repo,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		pinCost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Now() time.Time {
	return s.now()
}

// Reserve фиксирует намерение списать amount+fee. Баланс не меняется: сумма
// удерживается, пока транзакция не станет терминальной.
func (s *Store) Reserve(ctx context.Context, p models.ReserveParams) (*models.Transaction, error) {
	const op = "ledger.Reserve"

	if p.Type == "" {
		p.Type = models.TransferTransaction
	}
	if err := validateReserve(p); err != nil {
		return nil, err
	}

	var reserved *models.Transaction
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		wallet, err := tx.LockWallet(ctx, p.WalletID)
		if err != nil {
			return err
		}
		if !wallet.IsActive {
			return custom_err.ErrWalletInactive
		}
		if wallet.IsFrozen {
			return custom_err.ErrWalletFrozen
		}

		held, err := tx.HeldAmount(ctx, wallet.ID)
		if err != nil {
			return err
		}
		if wallet.Balance-held < p.Amount+p.Fee {
			return custom_err.ErrInsufficientFunds
		}

		now := s.now()
		reserved = &models.Transaction{
			ID:                  uuid.New(),
			Reference:           p.Reference,
			Type:                p.Type,
			Status:              models.StatusPending,
			Amount:              p.Amount,
			Fee:                 p.Fee,
			SenderWalletID:      models.UUIDPtr(wallet.ID),
			SenderBalanceBefore: models.Int64Ptr(wallet.Balance),
			ParentTransactionID: p.ParentID,
			Details:             p.Details,
			Metadata:            p.Metadata,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		return tx.InsertTransaction(ctx, reserved)
	})
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}

	s.log.Info("средства зарезервированы",
		slog.String("op", op),
		slog.String("reference", reserved.Reference),
		slog.String("wallet_id", p.WalletID.String()),
		slog.Int64("amount", p.Amount),
		slog.Int64("fee", p.Fee),
	)
	return reserved, nil
}

func validateReserve(p models.ReserveParams) error {
	verr := &custom_err.ValidationError{}
	if strings.TrimSpace(p.Reference) == "" {
		verr.Add("reference", "is required")
	}
	if p.Amount <= 0 {
		verr.Add("amount", "must be positive")
	}
	if p.Fee < 0 {
		verr.Add("fee", "must not be negative")
	}
	if !p.Type.IsValid() || p.Type == models.DepositTransaction || p.Type == models.ReversalTransaction {
		verr.Add("type", "is not a debit type")
	}
	if derr := p.Details.Validate(p.Type); derr != nil {
		var dv *custom_err.ValidationError
		if errors.As(derr, &dv) {
			for k, v := range dv.Fields {
				verr.Add(k, v)
			}
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// MarkProcessing переводит PENDING в PROCESSING перед вызовом провайдера.
func (s *Store) MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	const op = "ledger.MarkProcessing"

	var result *models.Transaction
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		t, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		result = t

		switch t.Status {
		case models.StatusProcessing:
			return nil
		case models.StatusPending:
			t.Status = models.StatusProcessing
			t.UpdatedAt = s.now()
			return tx.UpdateTransaction(ctx, t)
		default:
			return custom_err.ErrAlreadyTerminal
		}
	})
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}
	return result, nil
}

// AttachProviderReference сохраняет ссылку провайдера; ссылка задается один раз.
func (s *Store) AttachProviderReference(ctx context.Context, id uuid.UUID, providerRef string) (*models.Transaction, error) {
	const op = "ledger.AttachProviderReference"

	if providerRef == "" {
		return nil, custom_err.NewValidationError("provider_reference", "is required")
	}

	var result *models.Transaction
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		t, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		result = t

		switch t.ProviderReference {
		case providerRef:
			return nil
		case "":
			t.ProviderReference = providerRef
			t.UpdatedAt = s.now()
			return tx.UpdateTransaction(ctx, t)
		default:
			return fmt.Errorf("ссылка провайдера уже задана (%s): %w", t.ProviderReference, custom_err.ErrConflict)
		}
	})
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}
	return result, nil
}

// ApplyCompletion остается единственным путем изменения балансов. Повторный вызов с тем
// же итогом ничего не меняет; другой терминальный итог дает ErrAlreadyTerminal.
func (s *Store) ApplyCompletion(ctx context.Context, id uuid.UUID, outcome models.Outcome) (*models.Transaction, error) {
	const op = "ledger.ApplyCompletion"

	switch outcome.Status {
	case models.StatusCompleted, models.StatusFailed, models.StatusCancelled:
	default:
		return nil, custom_err.NewValidationError("status", "must be COMPLETED, FAILED or CANCELLED")
	}

	snapshot, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}

	var (
		result  *models.Transaction
		changed bool
	)
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		wallets, err := lockWallets(ctx, tx, snapshot.WalletIDs())
		if err != nil {
			return err
		}
		t, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		result = t

		changed, err = s.applyOutcome(ctx, tx, t, wallets, outcome)
		return err
	})
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}

	if changed {
		s.log.Info("транзакция проведена",
			slog.String("op", op),
			slog.String("reference", result.Reference),
			slog.String("status", string(result.Status)),
		)
		s.publish(ctx, result)
	}
	return result, nil
}

// Cancel отменяет резерв, пока перевод не отправлен провайдеру. После
// MarkProcessing отмена невозможна: исход знает только провайдер.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	const op = "ledger.Cancel"

	snapshot, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}

	var (
		result  *models.Transaction
		changed bool
	)
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		wallets, err := lockWallets(ctx, tx, snapshot.WalletIDs())
		if err != nil {
			return err
		}
		t, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		result = t

		switch t.Status {
		case models.StatusCancelled:
			return nil
		case models.StatusPending:
		default:
			return fmt.Errorf("статус %s: %w", t.Status, custom_err.ErrNotCancellable)
		}

		changed, err = s.applyOutcome(ctx, tx, t, wallets, models.Outcome{
			Status:        models.StatusCancelled,
			FailureReason: reason,
		})
		return err
	})
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}

	if changed {
		s.log.Info("резерв отменен",
			slog.String("op", op),
			slog.String("reference", result.Reference),
			slog.String("reason", reason),
		)
		s.publish(ctx, result)
	}
	return result, nil
}

func lockWallets(ctx context.Context, tx repository.LedgerTx, ids []uuid.UUID) (map[uuid.UUID]*models.Wallet, error) {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	wallets := make(map[uuid.UUID]*models.Wallet, len(sorted))
	for _, id := range sorted {
		w, err := tx.LockWallet(ctx, id)
		if err != nil {
			return nil, err
		}
		wallets[id] = w
	}
	return wallets, nil
}

// applyOutcome применяет итог к заблокированной транзакции. Кошельки из wallets
// должны быть заблокированы в той же транзакции хранилища.
func (s *Store) applyOutcome(
	ctx context.Context,
	tx repository.LedgerTx,
	t *models.Transaction,
	wallets map[uuid.UUID]*models.Wallet,
	outcome models.Outcome,
) (bool, error) {
	if t.Status.IsTerminal() {
		if t.Status == outcome.Status {
			return false, nil
		}
		// Поздний SUCCESS после сторно: перевод уже был проведен.
		if t.Status == models.StatusReversed && outcome.Status == models.StatusCompleted {
			return false, nil
		}
		return false, fmt.Errorf("%s -> %s: %w", t.Status, outcome.Status, custom_err.ErrAlreadyTerminal)
	}

	if outcome.ProviderReference != "" {
		if t.ProviderReference != "" && t.ProviderReference != outcome.ProviderReference {
			return false, fmt.Errorf("ссылка провайдера %s не совпадает с %s: %w",
				outcome.ProviderReference, t.ProviderReference, custom_err.ErrConflict)
		}
		t.ProviderReference = outcome.ProviderReference
	}

	if outcome.Status == models.StatusCompleted {
		if err := s.post(ctx, tx, t, wallets); err != nil {
			return false, err
		}
	} else {
		freeze(t, wallets)
		t.FailureReason = outcome.FailureReason
	}

	seq, err := tx.NextPostingSeq(ctx)
	if err != nil {
		return false, err
	}
	now := s.now()
	t.Status = outcome.Status
	t.PostingSeq = seq
	t.CompletedAt = &now
	t.UpdatedAt = now

	if err := tx.UpdateTransaction(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

// post меняет балансы и фиксирует снапшоты по заблокированным значениям.
func (s *Store) post(ctx context.Context, tx repository.LedgerTx, t *models.Transaction, wallets map[uuid.UUID]*models.Wallet) error {
	if t.SenderWalletID != nil {
		w := wallets[*t.SenderWalletID]
		before := w.Balance
		after := before - t.DebitTotal()
		if after < 0 {
			return custom_err.ErrInsufficientFunds
		}
		if err := tx.UpdateWalletBalance(ctx, w.ID, after, w.Version); err != nil {
			return err
		}
		w.Balance, w.Version = after, w.Version+1
		t.SenderBalanceBefore, t.SenderBalanceAfter = models.Int64Ptr(before), models.Int64Ptr(after)
	}
	if t.ReceiverWalletID != nil {
		w := wallets[*t.ReceiverWalletID]
		before := w.Balance
		after := before + t.Amount
		if err := tx.UpdateWalletBalance(ctx, w.ID, after, w.Version); err != nil {
			return err
		}
		w.Balance, w.Version = after, w.Version+1
		t.ReceiverBalanceBefore, t.ReceiverBalanceAfter = models.Int64Ptr(before), models.Int64Ptr(after)
	}
	return nil
}

// freeze фиксирует before == after для неуспешного итога: баланс не трогаем.
func freeze(t *models.Transaction, wallets map[uuid.UUID]*models.Wallet) {
	if t.SenderWalletID != nil {
		balance := wallets[*t.SenderWalletID].Balance
		t.SenderBalanceBefore, t.SenderBalanceAfter = models.Int64Ptr(balance), models.Int64Ptr(balance)
	}
	if t.ReceiverWalletID != nil {
		balance := wallets[*t.ReceiverWalletID].Balance
		t.ReceiverBalanceBefore, t.ReceiverBalanceAfter = models.Int64Ptr(balance), models.Int64Ptr(balance)
	}
}

// RecordDeposit зачисляет входящий платеж. Повтор с тем же reference
// возвращает уже записанную транзакцию и created=false.
func (s *Store) RecordDeposit(ctx context.Context, p models.DepositParams) (*models.Transaction, bool, error) {
	const op = "ledger.RecordDeposit"

	verr := &custom_err.ValidationError{}
	if strings.TrimSpace(p.Reference) == "" {
		verr.Add("reference", "is required")
	}
	if p.Amount <= 0 {
		verr.Add("amount", "must be positive")
	}
	if verr.HasErrors() {
		return nil, false, verr
	}
	if p.Details.Version == 0 {
		p.Details.Version = models.TransferDetailsVersion
	}

	var (
		result  *models.Transaction
		created bool
	)
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		existing, err := tx.GetTransactionByReference(ctx, p.Reference)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, custom_err.ErrNotFound) {
			return err
		}

		wallet, err := tx.LockWallet(ctx, p.WalletID)
		if err != nil {
			return err
		}

		now := s.now()
		deposit := &models.Transaction{
			ID:                    uuid.New(),
			Reference:             p.Reference,
			Type:                  models.DepositTransaction,
			Status:                models.StatusPending,
			Amount:                p.Amount,
			ReceiverWalletID:      models.UUIDPtr(wallet.ID),
			ReceiverBalanceBefore: models.Int64Ptr(wallet.Balance),
			ProviderReference:     p.ProviderReference,
			Details:               p.Details,
			Metadata:              p.Metadata,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := tx.InsertTransaction(ctx, deposit); err != nil {
			return err
		}

		created, err = s.applyOutcome(ctx, tx, deposit, map[uuid.UUID]*models.Wallet{wallet.ID: wallet},
			models.Outcome{Status: models.StatusCompleted})
		result = deposit
		return err
	})

	if errors.Is(err, custom_err.ErrDuplicateReference) {
		// Параллельная доставка того же пополнения успела закоммитить первой.
		existing, lookupErr := s.findDeposit(ctx, p)
		if lookupErr != nil {
			return nil, false, wrapLedgerErr(op, err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, wrapLedgerErr(op, err)
	}

	if created {
		s.log.Info("пополнение зачислено",
			slog.String("op", op),
			slog.String("reference", result.Reference),
			slog.Int64("amount", result.Amount),
		)
		s.publish(ctx, result)
	}
	return result, created, nil
}

func (s *Store) findDeposit(ctx context.Context, p models.DepositParams) (*models.Transaction, error) {
	existing, err := s.repo.GetTransactionByReference(ctx, p.Reference)
	if err == nil {
		return existing, nil
	}
	if p.ProviderReference == "" {
		return nil, err
	}
	return s.repo.GetTransactionByProviderReference(ctx, p.ProviderReference)
}

// Reverse создает связанную REVERSAL-транзакцию для проведенной записи и
// помечает оригинал REVERSED. Исходные снапшоты не переписываются.
func (s *Store) Reverse(ctx context.Context, originalID uuid.UUID, reason string) (*models.Transaction, error) {
	const op = "ledger.Reverse"

	snapshot, err := s.repo.GetTransaction(ctx, originalID)
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}

	var (
		reversal *models.Transaction
		original *models.Transaction
		changed  bool
		parked   bool
	)
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		wallets, err := lockWallets(ctx, tx, snapshot.WalletIDs())
		if err != nil {
			return err
		}
		o, err := tx.LockTransaction(ctx, originalID)
		if err != nil {
			return err
		}
		original = o

		switch o.Status {
		case models.StatusReversed:
			reversal, err = tx.GetTransactionByReference(ctx, ReversalReferencePrefix+o.Reference)
			return err
		case models.StatusCompleted:
		default:
			return fmt.Errorf("сторно возможно только для COMPLETED, текущий статус %s: %w", o.Status, custom_err.ErrConflict)
		}

		// Оригинал COMPLETED, но сторно уже отложено ранее.
		existing, err := tx.GetTransactionByReference(ctx, ReversalReferencePrefix+o.Reference)
		if err == nil {
			reversal, parked = existing, existing.IsParkedReversal()
			return nil
		}
		if !errors.Is(err, custom_err.ErrNotFound) {
			return err
		}

		now := s.now()
		reversal = &models.Transaction{
			ID:                  uuid.New(),
			Reference:           ReversalReferencePrefix + o.Reference,
			Type:                models.ReversalTransaction,
			Status:              models.StatusPending,
			Amount:              reversalAmount(o),
			SenderWalletID:      o.ReceiverWalletID,
			ReceiverWalletID:    o.SenderWalletID,
			ParentTransactionID: models.UUIDPtr(o.ID),
			Details:             o.Details,
			Metadata:            map[string]string{"reason": reason},
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		// Сторно не может забрать средства, удержанные под переводы в работе:
		// иначе их последующее подтверждение не проведется.
		covered, err := coveredByAvailable(ctx, tx, reversal, wallets)
		if err != nil {
			return err
		}
		if !covered {
			reversal.Metadata[models.ParkedMetadataKey] = "true"
		}
		if err := tx.InsertTransaction(ctx, reversal); err != nil {
			return err
		}
		if !covered {
			if _, err := s.applyOutcome(ctx, tx, reversal, wallets, models.Outcome{
				Status:        models.StatusFailed,
				FailureReason: parkedReversalReason,
			}); err != nil {
				return err
			}
			parked, changed = true, true
			return nil
		}

		if _, err := s.applyOutcome(ctx, tx, reversal, wallets, models.Outcome{Status: models.StatusCompleted}); err != nil {
			return err
		}

		o.Status = models.StatusReversed
		o.UpdatedAt = now
		changed = true
		return tx.UpdateTransaction(ctx, o)
	})
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}

	if parked {
		if changed {
			s.log.Error("сторно отложено: доступных средств недостаточно",
				slog.String("op", op),
				slog.String("reference", original.Reference),
				slog.String("reversal_reference", reversal.Reference),
				slog.String("reason", reason),
			)
			s.publish(ctx, reversal)
		}
		return reversal, fmt.Errorf("%s: %w: %w", op, custom_err.ErrReversalParked, custom_err.ErrInsufficientFunds)
	}

	if changed {
		s.log.Warn("транзакция сторнирована",
			slog.String("op", op),
			slog.String("reference", original.Reference),
			slog.String("reversal_reference", reversal.Reference),
			slog.String("reason", reason),
		)
		s.publish(ctx, reversal, original)
	}
	return reversal, nil
}

// coveredByAvailable проверяет, что дебетуемый кошелек покрывает t из доступного
// остатка (баланс минус удержания). Кошельки заблокированы вызывающим.
func coveredByAvailable(ctx context.Context, tx repository.LedgerTx, t *models.Transaction, wallets map[uuid.UUID]*models.Wallet) (bool, error) {
	if t.SenderWalletID == nil {
		return true, nil
	}
	w := wallets[*t.SenderWalletID]
	held, err := tx.HeldAmount(ctx, w.ID)
	if err != nil {
		return false, err
	}
	return w.Balance-held >= t.DebitTotal(), nil
}

// reversalAmount: для выплаты во внешний банк возвращаем и комиссию,
// для движения между кошельками только сумму перевода.
func reversalAmount(o *models.Transaction) int64 {
	if o.ReceiverWalletID == nil {
		return o.DebitTotal()
	}
	return o.Amount
}

// Adjust проводит аудируемую корректировку баланса. expectedBalance защищает
// от применения устаревшего предложения сверки.
func (s *Store) Adjust(ctx context.Context, p models.AdjustParams) (*models.Transaction, error) {
	const op = "ledger.Adjust"

	verr := &custom_err.ValidationError{}
	if p.Amount == 0 {
		verr.Add("amount", "must not be zero")
	}
	if strings.TrimSpace(p.Reason) == "" {
		verr.Add("reason", "is required")
	}
	if verr.HasErrors() {
		return nil, verr
	}

	var adjustment *models.Transaction
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		wallet, err := tx.LockWallet(ctx, p.WalletID)
		if err != nil {
			return err
		}
		if wallet.Balance != p.ExpectedBalance {
			return fmt.Errorf("баланс %d, ожидался %d: %w", wallet.Balance, p.ExpectedBalance, custom_err.ErrConflict)
		}
		if wallet.Balance+p.Amount < 0 {
			return custom_err.NewValidationError("amount", "correction would make balance negative")
		}
		if p.Amount < 0 {
			held, err := tx.HeldAmount(ctx, wallet.ID)
			if err != nil {
				return err
			}
			if wallet.Balance-held+p.Amount < 0 {
				return fmt.Errorf("удержано %d при балансе %d: %w", held, wallet.Balance, custom_err.ErrInsufficientFunds)
			}
		}

		now := s.now()
		id := uuid.New()
		adjustment = &models.Transaction{
			ID:           id,
			Reference:    AdjustmentReferencePrefix + id.String(),
			Type:         models.ReversalTransaction,
			Status:       models.StatusPending,
			IsAdjustment: true,
			Details:      models.TransferDetails{Version: models.TransferDetailsVersion, Narration: p.Reason},
			Metadata: map[string]string{
				"reason":           p.Reason,
				"expected_balance": strconv.FormatInt(p.ExpectedBalance, 10),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if p.Amount > 0 {
			adjustment.Amount = p.Amount
			adjustment.ReceiverWalletID = models.UUIDPtr(wallet.ID)
		} else {
			adjustment.Amount = -p.Amount
			adjustment.SenderWalletID = models.UUIDPtr(wallet.ID)
		}

		if err := tx.InsertTransaction(ctx, adjustment); err != nil {
			return err
		}
		_, err = s.applyOutcome(ctx, tx, adjustment, map[uuid.UUID]*models.Wallet{wallet.ID: wallet},
			models.Outcome{Status: models.StatusCompleted})
		return err
	})
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}

	s.log.Warn("проведена корректировка баланса",
		slog.String("op", op),
		slog.String("wallet_id", p.WalletID.String()),
		slog.Int64("amount", p.Amount),
		slog.String("reason", p.Reason),
	)
	s.publish(ctx, adjustment)
	return adjustment, nil
}

func (s *Store) GetBalance(ctx context.Context, walletID uuid.UUID) (*models.WalletBalance, error) {
	const op = "ledger.GetBalance"

	wallet, err := s.repo.GetWallet(ctx, walletID)
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}
	held, err := s.repo.HeldAmount(ctx, walletID)
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}
	return &models.WalletBalance{
		WalletID:  wallet.ID,
		Balance:   wallet.Balance,
		Held:      held,
		Available: wallet.Balance - held,
		Currency:  wallet.Currency,
	}, nil
}

func (s *Store) GetWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	wallet, err := s.repo.GetWallet(ctx, id)
	if err != nil {
		return nil, wrapLedgerErr("ledger.GetWallet", err)
	}
	return wallet, nil
}

func (s *Store) GetWalletByAccountNumber(ctx context.Context, accountNumber string) (*models.Wallet, error) {
	wallet, err := s.repo.GetWalletByAccountNumber(ctx, accountNumber)
	if err != nil {
		return nil, wrapLedgerErr("ledger.GetWalletByAccountNumber", err)
	}
	return wallet, nil
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, wrapLedgerErr("ledger.GetTransaction", err)
	}
	return t, nil
}

func (s *Store) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	t, err := s.repo.GetTransactionByReference(ctx, reference)
	if err != nil {
		return nil, wrapLedgerErr("ledger.GetTransactionByReference", err)
	}
	return t, nil
}

func (s *Store) GetTransactionByProviderReference(ctx context.Context, providerRef string) (*models.Transaction, error) {
	t, err := s.repo.GetTransactionByProviderReference(ctx, providerRef)
	if err != nil {
		return nil, wrapLedgerErr("ledger.GetTransactionByProviderReference", err)
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, walletID uuid.UUID, filter models.TransactionFilter) ([]*models.Transaction, error) {
	const op = "ledger.ListTransactions"

	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, custom_err.NewValidationError("status", "unknown status")
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		return nil, custom_err.NewValidationError("type", "unknown type")
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, custom_err.NewValidationError("limit", "must not be negative")
	}
	if _, err := s.repo.GetWallet(ctx, walletID); err != nil {
		return nil, wrapLedgerErr(op, err)
	}

	txns, err := s.repo.ListTransactions(ctx, walletID, filter)
	if err != nil {
		return nil, wrapLedgerErr(op, err)
	}
	return txns, nil
}

func (s *Store) ListStaleTransactions(ctx context.Context, statuses []models.TransactionStatus, olderThan time.Time, limit int) ([]*models.Transaction, error) {
	txns, err := s.repo.ListStaleTransactions(ctx, statuses, olderThan, limit)
	if err != nil {
		return nil, wrapLedgerErr("ledger.ListStaleTransactions", err)
	}
	return txns, nil
}

func (s *Store) ListActiveWalletIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	ids, err := s.repo.ListActiveWalletIDs(ctx, since, limit)
	if err != nil {
		return nil, wrapLedgerErr("ledger.ListActiveWalletIDs", err)
	}
	return ids, nil
}

// ProvisionWallets создает кошельки с нулевым балансом. Баланс появляется
// только через проводки, поэтому начальный баланс не принимается.
func (s *Store) ProvisionWallets(ctx context.Context, reqs []models.NewWallet) ([]*models.Wallet, error) {
	const op = "ledger.ProvisionWallets"

	if len(reqs) == 0 {
		return nil, custom_err.NewValidationError("wallets", "at least one wallet is required")
	}

	now := s.now()
	wallets := make([]*models.Wallet, 0, len(reqs))
	for i, r := range reqs {
		field := fmt.Sprintf("wallets[%d]", i)
		if r.UserID == uuid.Nil {
			return nil, custom_err.NewValidationError(field+".user_id", "is required")
		}
		if strings.TrimSpace(r.VirtualAccountNumber) == "" {
			return nil, custom_err.NewValidationError(field+".virtual_account_number", "is required")
		}
		if strings.TrimSpace(r.ProviderName) == "" {
			return nil, custom_err.NewValidationError(field+".provider_name", "is required")
		}
		currency := r.Currency
		if currency == "" {
			currency = models.DefaultCurrency
		}
		if currency != models.DefaultCurrency {
			return nil, custom_err.NewValidationError(field+".currency", "only "+models.DefaultCurrency+" is supported")
		}

		var pinHash string
		if r.PIN != "" {
			hash, err := HashPIN(r.PIN, s.pinCost)
			if err != nil {
				return nil, err
			}
			pinHash = hash
		}

		id := r.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		wallets = append(wallets, &models.Wallet{
			ID:                   id,
			UserID:               r.UserID,
			Currency:             currency,
			IsActive:             true,
			VirtualAccountNumber: r.VirtualAccountNumber,
			ProviderName:         r.ProviderName,
			PINHash:              pinHash,
			Version:              1,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
	}

	if err := s.repo.CreateWallets(ctx, wallets); err != nil {
		return nil, wrapLedgerErr(op, err)
	}
	s.log.Info("кошельки выпущены", slog.String("op", op), slog.Int("count", len(wallets)))
	return wallets, nil
}

func (s *Store) publish(ctx context.Context, txns ...*models.Transaction) {
	now := s.now()
	for _, t := range txns {
		metrics.LedgerPostingsTotal.WithLabelValues(string(t.Type), string(t.Status)).Inc()

		if err := s.publisher.Publish(ctx, events.EventFor(t, now)); err != nil {
			s.log.Warn("событие журнала не опубликовано",
				slog.String("reference", t.Reference),
				slog.String("error", err.Error()),
			)
		}
	}
}

// wrapLedgerErr добавляет op, сохраняя sentinel-ошибки для errors.Is.
func wrapLedgerErr(op string, err error) error {
	var verr *custom_err.ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
