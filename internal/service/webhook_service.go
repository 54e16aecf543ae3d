package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"wallet_ledger/internal/cache"
	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/events"
	"wallet_ledger/internal/metrics"
	"wallet_ledger/internal/models"
)

const (
	depositReferencePrefix = "DEP-"
	reversedByProvider     = "reversed by provider"
)

// WebhookServicer применяет асинхронные уведомления провайдера.
type WebhookServicer interface {
	HandleCallback(ctx context.Context, cb models.Callback) error
	HandleDeposit(ctx context.Context, n models.DepositNotification) error
}

var (
	_ WebhookServicer        = (*WebhookService)(nil)
	_ events.CallbackHandler = (*WebhookService)(nil)
)

// WebhookService устойчив к повторной и неупорядоченной доставке: все переходы
// идут через идемпотентные операции журнала, кэш лишь срезает повторы.
type WebhookService struct {
	ledger Ledger
	dedupe cache.Dedupe
	log    *slog.Logger
}

func NewWebhookService(ledger Ledger, dedupe cache.Dedupe, log *slog.Logger) *WebhookService {
	return &WebhookService{ledger: ledger, dedupe: dedupe, log: log}
}

func (s *WebhookService) HandleCallback(ctx context.Context, cb models.Callback) error {
	const op = "service.HandleCallback"
	log := s.log.With(
		slog.String("op", op),
		slog.String("provider_reference", cb.ProviderReference),
		slog.String("reference", cb.Reference),
		slog.String("status", string(cb.Status)),
	)

	if err := validateCallback(cb); err != nil {
		metrics.WebhooksTotal.WithLabelValues("transfer", "invalid").Inc()
		return err
	}

	key := callbackKey(cb)
	if s.seen(ctx, key) {
		metrics.WebhooksTotal.WithLabelValues("transfer", "duplicate").Inc()
		log.Debug("повторная доставка вебхука пропущена")
		return nil
	}

	tx, err := s.lookup(ctx, cb)
	if errors.Is(err, custom_err.ErrNotFound) {
		metrics.WebhooksTotal.WithLabelValues("transfer", "unknown").Inc()
		log.Warn("вебхук для неизвестной транзакции отброшен")
		return nil
	}
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("transfer", "error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}

	err = s.apply(ctx, tx, cb)
	switch {
	case errors.Is(err, custom_err.ErrReversalParked):
		// Запись об отложенном сторно уже в журнале, сверка покажет ее как находку.
		metrics.WebhooksTotal.WithLabelValues("transfer", "parked").Inc()
		log.Error("сторно не покрыто доступным остатком, отложено до разбора",
			slog.String("error", err.Error()),
		)
	case errors.Is(err, custom_err.ErrAlreadyTerminal), errors.Is(err, custom_err.ErrConflict):
		// Противоречивый исход оставляем сверке.
		metrics.WebhooksTotal.WithLabelValues("transfer", "conflict").Inc()
		log.Error("вебхук противоречит состоянию транзакции",
			slog.String("current_status", string(tx.Status)),
			slog.String("error", err.Error()),
		)
	case err != nil:
		metrics.WebhooksTotal.WithLabelValues("transfer", "error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	default:
		metrics.WebhooksTotal.WithLabelValues("transfer", "applied").Inc()
		log.Info("вебхук применен")
	}

	s.mark(ctx, key)
	return nil
}

func validateCallback(cb models.Callback) error {
	verr := &custom_err.ValidationError{}
	if !cb.Status.IsValid() {
		verr.Add("status", "must be SUCCESS, FAILED or REVERSED")
	}
	if strings.TrimSpace(cb.ProviderReference) == "" && strings.TrimSpace(cb.Reference) == "" {
		verr.Add("providerReference", "providerReference or reference is required")
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

func callbackKey(cb models.Callback) string {
	ref := cb.ProviderReference
	if ref == "" {
		ref = "ref:" + cb.Reference
	}
	return "callback:" + ref + ":" + string(cb.Status)
}

// lookup ищет по ссылке провайдера, затем по нашему reference: при таймауте
// отправки ссылка провайдера нам еще не известна.
func (s *WebhookService) lookup(ctx context.Context, cb models.Callback) (*models.Transaction, error) {
	if cb.ProviderReference != "" {
		tx, err := s.ledger.GetTransactionByProviderReference(ctx, cb.ProviderReference)
		if err == nil || !errors.Is(err, custom_err.ErrNotFound) {
			return tx, err
		}
	}
	if cb.Reference == "" {
		return nil, custom_err.ErrNotFound
	}
	return s.ledger.GetTransactionByReference(ctx, cb.Reference)
}

func (s *WebhookService) apply(ctx context.Context, tx *models.Transaction, cb models.Callback) error {
	switch cb.Status {
	case models.CallbackSuccess:
		_, err := s.ledger.ApplyCompletion(ctx, tx.ID, models.Outcome{
			Status:            models.StatusCompleted,
			ProviderReference: cb.ProviderReference,
		})
		return err
	case models.CallbackFailed:
		_, err := s.ledger.ApplyCompletion(ctx, tx.ID, models.Outcome{
			Status:            models.StatusFailed,
			ProviderReference: cb.ProviderReference,
			FailureReason:     cb.Reason,
		})
		return err
	default:
		return s.applyReversal(ctx, tx, cb)
	}
}

// applyReversal: проведенный перевод сторнируется отдельной записью;
// незавершенный просто проваливается, деньги не уходили.
func (s *WebhookService) applyReversal(ctx context.Context, tx *models.Transaction, cb models.Callback) error {
	reason := cb.Reason
	if reason == "" {
		reason = reversedByProvider
	}

	switch tx.Status {
	case models.StatusCompleted:
		_, err := s.ledger.Reverse(ctx, tx.ID, reason)
		return err
	case models.StatusReversed, models.StatusFailed, models.StatusCancelled:
		return nil
	}

	_, err := s.ledger.ApplyCompletion(ctx, tx.ID, models.Outcome{
		Status:            models.StatusFailed,
		ProviderReference: cb.ProviderReference,
		FailureReason:     reason,
	})
	if !errors.Is(err, custom_err.ErrAlreadyTerminal) {
		return err
	}

	// Успех применили параллельно, значит сторнируем проведенную запись.
	latest, getErr := s.ledger.GetTransaction(ctx, tx.ID)
	if getErr != nil {
		return getErr
	}
	if latest.Status == models.StatusCompleted {
		_, err = s.ledger.Reverse(ctx, latest.ID, reason)
		return err
	}
	return nil
}

// HandleDeposit зачисляет входящий платеж на виртуальный счет.
func (s *WebhookService) HandleDeposit(ctx context.Context, n models.DepositNotification) error {
	const op = "service.HandleDeposit"
	log := s.log.With(
		slog.String("op", op),
		slog.String("provider_reference", n.ProviderReference),
		slog.String("account", n.VirtualAccountNumber),
	)

	verr := &custom_err.ValidationError{}
	if strings.TrimSpace(n.ProviderReference) == "" {
		verr.Add("providerReference", "is required")
	}
	if strings.TrimSpace(n.VirtualAccountNumber) == "" {
		verr.Add("accountNumber", "is required")
	}
	amount, err := models.ParseMinorUnits(n.Amount)
	if err != nil {
		verr.Add("amount", "must be a positive amount with at most two decimals")
	}
	if verr.HasErrors() {
		metrics.WebhooksTotal.WithLabelValues("deposit", "invalid").Inc()
		return verr
	}

	key := "deposit:" + n.ProviderReference
	if s.seen(ctx, key) {
		metrics.WebhooksTotal.WithLabelValues("deposit", "duplicate").Inc()
		return nil
	}

	wallet, err := s.ledger.GetWalletByAccountNumber(ctx, n.VirtualAccountNumber)
	if errors.Is(err, custom_err.ErrNotFound) {
		metrics.WebhooksTotal.WithLabelValues("deposit", "unknown").Inc()
		log.Warn("пополнение на неизвестный счет отброшено")
		return nil
	}
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("deposit", "error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}

	metadata := map[string]string{}
	if n.SenderName != "" {
		metadata["sender_name"] = n.SenderName
	}

	tx, created, err := s.ledger.RecordDeposit(ctx, models.DepositParams{
		Reference:         depositReferencePrefix + n.ProviderReference,
		WalletID:          wallet.ID,
		Amount:            amount,
		ProviderReference: n.ProviderReference,
		Details: models.TransferDetails{
			Version:            models.TransferDetailsVersion,
			SourceAccount:      n.SenderAccount,
			DestinationAccount: wallet.VirtualAccountNumber,
			DestinationName:    n.SenderName,
		},
		Metadata: metadata,
	})
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("deposit", "error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}

	if created {
		metrics.WebhooksTotal.WithLabelValues("deposit", "applied").Inc()
		log.Info("пополнение зачислено", slog.String("reference", tx.Reference), slog.Int64("amount", amount))
	} else {
		metrics.WebhooksTotal.WithLabelValues("deposit", "duplicate").Inc()
	}
	s.mark(ctx, key)
	return nil
}

func (s *WebhookService) seen(ctx context.Context, key string) bool {
	seen, err := s.dedupe.Seen(ctx, key)
	if err != nil {
		s.log.Warn("кэш дедупликации недоступен", slog.String("error", err.Error()))
		return false
	}
	return seen
}

func (s *WebhookService) mark(ctx context.Context, key string) {
	if err := s.dedupe.Mark(ctx, key); err != nil {
		s.log.Warn("не удалось отметить вебхук в кэше", slog.String("error", err.Error()))
	}
}
