package custom_err

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound            = errors.New("запись не найдена")
	ErrInsufficientFunds   = errors.New("недостаточно средств на счете")
	ErrDuplicateReference  = errors.New("транзакция с таким reference уже существует")
	ErrConflict            = errors.New("конфликт оптимистической блокировки")
	ErrMaxRetriesExceeded  = errors.New("превышено максимальное число повторных попыток")
	ErrProviderUnavailable = errors.New("провайдер недоступен или ответ неоднозначен")
	ErrReconciliationDrift = errors.New("баланс кошелька расходится с журналом")
	ErrNoTierConfigured    = errors.New("не настроен тариф комиссии для суммы")
	ErrAlreadyTerminal     = errors.New("транзакция уже в конечном статусе")
	ErrReversalParked      = errors.New("сторно отложено до разбора")
	ErrNotCancellable      = errors.New("транзакцию нельзя отменить в текущем статусе")
	ErrNotRetryable        = errors.New("транзакцию нельзя повторить в текущем статусе")
	ErrWalletInactive      = errors.New("кошелек не активен")
	ErrWalletFrozen        = errors.New("кошелек заморожен")
	ErrInvalidPIN          = errors.New("неверный PIN")
	ErrTransfersNotAllowed = errors.New("статус KYC не разрешает переводы")
	ErrInvalidSignature    = errors.New("неверная подпись вебхука")
	ErrValidation          = errors.New("ошибка валидации")
)

// ValidationError собирает ошибки по полям запроса.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
