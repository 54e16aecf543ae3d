package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/fee"
	"wallet_ledger/internal/kyc"
	"wallet_ledger/internal/ledger"
	"wallet_ledger/internal/metrics"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/provider"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	MetadataRetryOf      = "retry_of"
	retryReferencePrefix = "RTY-"
	cancelledByUser      = "cancelled by user"
)

// TransferServicer: машина состояний исходящего перевода.
type TransferServicer interface {
	InitiateTransfer(ctx context.Context, req models.TransferRequest) (*models.TransferResult, error)
	GetTransfer(ctx context.Context, reference string) (*models.Transaction, error)
	CancelTransfer(ctx context.Context, reference string) (*models.TransferResult, error)
	RetryTransfer(ctx context.Context, req models.RetryRequest) (*models.TransferResult, error)
}

var _ TransferServicer = (*TransferService)(nil)

type TransferService struct {
	ledger          Ledger
	fees            fee.FeeResolver
	provider        provider.Client
	kyc             kyc.Checker
	providerTimeout time.Duration
	newReference    func() string
	log             *slog.Logger
}

func NewTransferService(
	ledger Ledger,
	fees fee.FeeResolver,
	providerClient provider.Client,
	kycChecker kyc.Checker,
	providerTimeout time.Duration,
	log *slog.Logger,
) *TransferService {
	return &TransferService{
		ledger:          ledger,
		fees:            fees,
		provider:        providerClient,
		kyc:             kycChecker,
		providerTimeout: providerTimeout,
		newReference:    func() string { return retryReferencePrefix + ulid.Make().String() },
		log:             log,
	}
}

func (s *TransferService) InitiateTransfer(ctx context.Context, req models.TransferRequest) (*models.TransferResult, error) {
	return s.initiate(ctx, req, nil)
}

func (s *TransferService) initiate(ctx context.Context, req models.TransferRequest, parentID *uuid.UUID) (*models.TransferResult, error) {
	const op = "service.InitiateTransfer"
	log := s.log.With(slog.String("op", op), slog.String("reference", req.Reference))

	if err := req.Validate(); err != nil {
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	existing, err := s.ledger.GetTransactionByReference(ctx, req.Reference)
	switch {
	case err == nil:
		return s.replay(req, existing)
	case !errors.Is(err, custom_err.ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	wallet, details, err := s.validate(ctx, req)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		log.Info("перевод отклонен при проверке", slog.String("error", err.Error()))
		return nil, err
	}

	amountFee, err := s.fees.ResolveFee(req.Amount, wallet.ProviderName)
	if err != nil {
		log.Error("не найден тариф комиссии", slog.Int64("amount", req.Amount), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tx, err := s.ledger.Reserve(ctx, models.ReserveParams{
		Reference: req.Reference,
		Type:      models.TransferTransaction,
		WalletID:  wallet.ID,
		Amount:    req.Amount,
		Fee:       amountFee,
		Details:   details,
		Metadata:  req.Metadata,
		ParentID:  parentID,
	})
	switch {
	case errors.Is(err, custom_err.ErrDuplicateReference):
		// Параллельный запрос с тем же reference успел первым.
		winner, getErr := s.ledger.GetTransactionByReference(ctx, req.Reference)
		if getErr != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return s.replay(req, winner)
	case errors.Is(err, custom_err.ErrInsufficientFunds):
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		log.Info("недостаточно средств для перевода", slog.Int64("amount", req.Amount), slog.Int64("fee", amountFee))
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.dispatch(ctx, tx, wallet)
}

// validate выполняет проверки, которые не создают записей в журнале.
func (s *TransferService) validate(ctx context.Context, req models.TransferRequest) (*models.Wallet, models.TransferDetails, error) {
	wallet, err := s.ledger.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, models.TransferDetails{}, err
	}
	if !wallet.IsActive {
		return nil, models.TransferDetails{}, custom_err.ErrWalletInactive
	}
	if wallet.IsFrozen {
		return nil, models.TransferDetails{}, custom_err.ErrWalletFrozen
	}
	if err := ledger.CheckPIN(wallet.PINHash, req.PIN); err != nil {
		return nil, models.TransferDetails{}, err
	}
	if err := kyc.Require(ctx, s.kyc, wallet.UserID); err != nil {
		return nil, models.TransferDetails{}, err
	}

	resolveCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()
	account, err := s.provider.ResolveAccount(resolveCtx, req.DestinationAccount, req.DestinationBankCode)
	switch {
	case provider.IsRejected(err), errors.Is(err, custom_err.ErrNotFound):
		return nil, models.TransferDetails{}, custom_err.NewValidationError("destination_account", "could not be resolved")
	case err != nil:
		return nil, models.TransferDetails{}, err
	}

	name := strings.TrimSpace(req.DestinationName)
	if name == "" {
		name = account.AccountName
	}
	return wallet, models.TransferDetails{
		Version:             models.TransferDetailsVersion,
		SourceAccount:       wallet.VirtualAccountNumber,
		DestinationAccount:  req.DestinationAccount,
		DestinationBankCode: req.DestinationBankCode,
		DestinationName:     name,
		Narration:           req.Narration,
	}, nil
}

func (s *TransferService) replay(req models.TransferRequest, existing *models.Transaction) (*models.TransferResult, error) {
	if !req.SameIntent(existing) {
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		return nil, custom_err.NewValidationError("reference", "already used for a different operation")
	}
	metrics.TransfersTotal.WithLabelValues("replayed").Inc()
	return models.NewTransferResult(existing, true), nil
}

// dispatch отправляет зарезервированный перевод провайдеру. Неоднозначный ответ
// оставляет запись в PROCESSING до вебхука или сверки; повтор с тем же
// reference не выполняется.
func (s *TransferService) dispatch(ctx context.Context, tx *models.Transaction, wallet *models.Wallet) (*models.TransferResult, error) {
	const op = "service.dispatch"
	log := s.log.With(slog.String("op", op), slog.String("reference", tx.Reference))

	processing, err := s.ledger.MarkProcessing(ctx, tx.ID)
	if errors.Is(err, custom_err.ErrAlreadyTerminal) {
		// Резерв отменили до отправки.
		return s.current(ctx, tx)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	resp, callErr := s.provider.InitiateTransfer(callCtx, provider.TransferRequest{
		Reference:          processing.Reference,
		Amount:             processing.Amount,
		Fee:                processing.Fee,
		// Комиссию списываем с кошелька сверх суммы, получатель получает Amount целиком.
		FeeIncluded:        false,
		Currency:           wallet.Currency,
		SourceAccount:      processing.Details.SourceAccount,
		DestinationAccount: processing.Details.DestinationAccount,
		BankCode:           processing.Details.DestinationBankCode,
		DestinationName:    processing.Details.DestinationName,
		Narration:          processing.Details.Narration,
	})
	cancel()

	// Ответ провайдера фиксируем даже если клиент уже отключился.
	ctx = context.WithoutCancel(ctx)

	var outcome *models.Outcome
	switch {
	case callErr == nil && resp.Status == provider.StatusSuccess:
		outcome = &models.Outcome{Status: models.StatusCompleted, ProviderReference: resp.ProviderReference}
	case callErr == nil && resp.Status == provider.StatusFailed:
		outcome = &models.Outcome{Status: models.StatusFailed, ProviderReference: resp.ProviderReference, FailureReason: resp.Reason}
	case callErr == nil:
		if resp.ProviderReference != "" {
			if _, err := s.ledger.AttachProviderReference(ctx, processing.ID, resp.ProviderReference); err != nil {
				log.Error("не удалось сохранить ссылку провайдера", slog.String("error", err.Error()))
			}
		}
	case provider.IsRejected(callErr):
		outcome = &models.Outcome{Status: models.StatusFailed, FailureReason: callErr.Error()}
	default:
		log.Warn("ответ провайдера неоднозначен, перевод остается в обработке", slog.String("error", callErr.Error()))
	}

	if outcome == nil {
		metrics.TransfersTotal.WithLabelValues("processing").Inc()
		return s.current(ctx, processing)
	}

	final, err := s.ledger.ApplyCompletion(ctx, processing.ID, *outcome)
	if errors.Is(err, custom_err.ErrAlreadyTerminal) {
		// Вебхук пришел раньше синхронного ответа и применил другой исход.
		log.Error("синхронный ответ провайдера расходится с уже примененным исходом",
			slog.String("outcome", string(outcome.Status)),
		)
		return s.current(ctx, processing)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.TransfersTotal.WithLabelValues(strings.ToLower(string(final.Status))).Inc()
	log.Info("перевод завершен", slog.String("status", string(final.Status)))
	return models.NewTransferResult(final, false), nil
}

func (s *TransferService) current(ctx context.Context, tx *models.Transaction) (*models.TransferResult, error) {
	latest, err := s.ledger.GetTransaction(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	return models.NewTransferResult(latest, false), nil
}

func (s *TransferService) GetTransfer(ctx context.Context, reference string) (*models.Transaction, error) {
	return s.ledger.GetTransactionByReference(ctx, reference)
}

func (s *TransferService) CancelTransfer(ctx context.Context, reference string) (*models.TransferResult, error) {
	const op = "service.CancelTransfer"

	tx, err := s.ledger.GetTransactionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if tx.SenderWalletID == nil || tx.Type == models.DepositTransaction || tx.Type == models.ReversalTransaction {
		return nil, custom_err.ErrNotCancellable
	}

	cancelled, err := s.ledger.Cancel(ctx, tx.ID, cancelledByUser)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return models.NewTransferResult(cancelled, false), nil
}

// RetryTransfer создает новую попытку для FAILED или CANCELLED перевода под
// новым reference. Исходная запись не меняется.
func (s *TransferService) RetryTransfer(ctx context.Context, req models.RetryRequest) (*models.TransferResult, error) {
	const op = "service.RetryTransfer"

	original, err := s.ledger.GetTransactionByReference(ctx, req.OriginalReference)
	if err != nil {
		return nil, err
	}
	if original.Type != models.TransferTransaction || original.SenderWalletID == nil {
		return nil, custom_err.ErrNotRetryable
	}
	if original.Status != models.StatusFailed && original.Status != models.StatusCancelled {
		return nil, fmt.Errorf("%s: статус %s: %w", op, original.Status, custom_err.ErrNotRetryable)
	}

	reference := strings.TrimSpace(req.NewReference)
	if reference == "" {
		reference = s.newReference()
	}
	if reference == original.Reference {
		return nil, custom_err.NewValidationError("new_reference", "must differ from the original reference")
	}

	metadata := maps.Clone(original.Metadata)
	if metadata == nil {
		metadata = make(map[string]string, 1)
	}
	metadata[MetadataRetryOf] = original.Reference

	s.log.Info("повтор перевода",
		slog.String("op", op),
		slog.String("original_reference", original.Reference),
		slog.String("reference", reference),
	)

	return s.initiate(ctx, models.TransferRequest{
		Reference:           reference,
		WalletID:            *original.SenderWalletID,
		Amount:              original.Amount,
		PIN:                 req.PIN,
		DestinationAccount:  original.Details.DestinationAccount,
		DestinationBankCode: original.Details.DestinationBankCode,
		DestinationName:     original.Details.DestinationName,
		Narration:           original.Details.Narration,
		Metadata:            metadata,
	}, models.UUIDPtr(original.ID))
}
