package kyc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wallet_ledger/internal/custom_err"

	"github.com/google/uuid"
)

type Status string

const (
	StatusApproved Status = "APPROVED"
	StatusPending  Status = "PENDING"
	StatusRejected Status = "REJECTED"
)

// Checker отвечает, разрешены ли пользователю исходящие переводы.
type Checker interface {
	CanTransfer(ctx context.Context, userID uuid.UUID) (bool, error)
}

var (
	_ Checker = (*HTTPChecker)(nil)
	_ Checker = AllowAll{}
)

// AllowAll используется, когда сервис KYC не настроен.
type AllowAll struct{}

func (AllowAll) CanTransfer(ctx context.Context, userID uuid.UUID) (bool, error) {
	return true, nil
}

type statusResponse struct {
	Status          Status `json:"status"`
	TransferEnabled *bool  `json:"transferEnabled,omitempty"`
}

type HTTPChecker struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

func NewHTTPChecker(baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *HTTPChecker {
	return &HTTPChecker{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (c *HTTPChecker) CanTransfer(ctx context.Context, userID uuid.UUID) (bool, error) {
	const op = "kyc.CanTransfer"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/customers/"+userID.String()+"/kyc", nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s: сервис KYC недоступен: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.log.Info("пользователь не проходил KYC", slog.String("op", op), slog.String("user_id", userID.String()))
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%s: неожиданный статус %d", op, resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("%s: некорректный ответ: %w", op, err)
	}

	if body.Status != StatusApproved {
		return false, nil
	}
	if body.TransferEnabled != nil && !*body.TransferEnabled {
		return false, nil
	}
	return true, nil
}

// Require превращает отказ KYC в ErrTransfersNotAllowed.
func Require(ctx context.Context, c Checker, userID uuid.UUID) error {
	ok, err := c.CanTransfer(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return custom_err.ErrTransfersNotAllowed
	}
	return nil
}
