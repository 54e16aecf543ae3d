package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/pkg/response"

	"github.com/google/uuid"
)

type apiError struct {
	status  int
	code    string
	message string
}

// Порядок важен: первая совпавшая ошибка определяет ответ.
var apiErrors = []struct {
	err error
	apiError
}{
	{custom_err.ErrInsufficientFunds, apiError{http.StatusBadRequest, "insufficient_funds", "Insufficient funds in the wallet"}},
	{custom_err.ErrInvalidPIN, apiError{http.StatusForbidden, "invalid_pin", "Invalid transaction PIN"}},
	{custom_err.ErrTransfersNotAllowed, apiError{http.StatusForbidden, "kyc_required", "Transfers are not allowed for this customer"}},
	{custom_err.ErrWalletInactive, apiError{http.StatusForbidden, "wallet_inactive", "Wallet is not active"}},
	{custom_err.ErrWalletFrozen, apiError{http.StatusForbidden, "wallet_frozen", "Wallet is frozen"}},
	{custom_err.ErrNotCancellable, apiError{http.StatusConflict, "not_cancellable", "Transfer can no longer be cancelled"}},
	{custom_err.ErrNotRetryable, apiError{http.StatusConflict, "not_retryable", "Only failed or cancelled transfers can be retried"}},
	{custom_err.ErrAlreadyTerminal, apiError{http.StatusConflict, "already_terminal", "Transaction is already final"}},
	{custom_err.ErrDuplicateReference, apiError{http.StatusConflict, "duplicate_reference", "Reference already exists"}},
	{custom_err.ErrConflict, apiError{http.StatusConflict, "conflict", "State changed, reload and retry"}},
	{custom_err.ErrProviderUnavailable, apiError{http.StatusServiceUnavailable, "provider_unavailable", "Transfer provider is unavailable"}},
}

// writeServiceError переводит ошибку сервиса в JSON-ответ. notFound задает текст
// для ErrNotFound, он зависит от ресурса.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, op string, err error, notFound string) {
	if response.WriteValidationError(w, log, err) {
		log.Info("запрос не прошел валидацию", slog.String("op", op), slog.String("error", err.Error()))
		return
	}
	if errors.Is(err, custom_err.ErrNotFound) {
		log.Info("запись не найдена", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusNotFound, "not_found", notFound)
		return
	}
	for _, e := range apiErrors {
		if errors.Is(err, e.err) {
			log.Warn("операция отклонена", slog.String("op", op), slog.String("error", err.Error()))
			response.WriteJSONError(w, log, e.status, e.code, e.message)
			return
		}
	}
	log.Error("внутренняя ошибка", slog.String("op", op), slog.String("error", err.Error()))
	response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "An internal error occurred")
}

func parseWalletID(w http.ResponseWriter, log *slog.Logger, op, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		log.Warn("невалидный UUID", slog.String("op", op), slog.String("uuid", raw))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_request", "Invalid wallet ID format")
		return uuid.Nil, false
	}
	return id, true
}
