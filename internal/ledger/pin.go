package ledger

import (
	"errors"
	"fmt"

	"wallet_ledger/internal/custom_err"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPINLength = 4
	maxPINLength = 6
)

func validatePIN(pin string) error {
	if len(pin) < minPINLength || len(pin) > maxPINLength {
		return custom_err.NewValidationError("pin", "must be 4 to 6 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return custom_err.NewValidationError("pin", "must contain digits only")
		}
	}
	return nil
}

// HashPIN возвращает bcrypt-хэш PIN-кода транзакций.
func HashPIN(pin string, cost int) (string, error) {
	if err := validatePIN(pin); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return "", fmt.Errorf("не удалось захэшировать PIN: %w", err)
	}
	return string(hash), nil
}

// CheckPIN сверяет PIN с хэшем. Кошелек без PIN не принимает переводы.
func CheckPIN(hash, pin string) error {
	if hash == "" {
		return custom_err.ErrInvalidPIN
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return custom_err.ErrInvalidPIN
	}
	return fmt.Errorf("ошибка проверки PIN: %w", err)
}
