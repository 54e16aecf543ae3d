package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/metrics"
)

type TransferStatus string

const (
	StatusSuccess TransferStatus = "SUCCESS"
	StatusFailed  TransferStatus = "FAILED"
	StatusPending TransferStatus = "PENDING"
)

type TransferRequest struct {
	Reference          string `json:"reference"`
	Amount             int64  `json:"amount"`
	Fee                int64  `json:"fee"`
	FeeIncluded        bool   `json:"feeIncluded"`
	Currency           string `json:"currency"`
	SourceAccount      string `json:"sourceAccount"`
	DestinationAccount string `json:"destinationAccount"`
	BankCode           string `json:"bankCode"`
	DestinationName    string `json:"destinationName,omitempty"`
	Narration          string `json:"narration,omitempty"`
}

type TransferResponse struct {
	Status            TransferStatus `json:"status"`
	ProviderReference string         `json:"providerReference"`
	Reason            string         `json:"reason,omitempty"`
}

type AccountInfo struct {
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
	AccountName   string `json:"accountName"`
}

// Client: внешний провайдер банковских переводов.
type Client interface {
	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResponse, error)
	QueryTransfer(ctx context.Context, reference string) (*TransferResponse, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*AccountInfo, error)
}

// RejectedError: окончательный отказ провайдера (4xx). Перевод точно не выполнен.
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("провайдер отклонил запрос (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

// IsRejected сообщает, является ли ошибка окончательным отказом провайдера.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var _ Client = (*HTTPClient)(nil)

type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *HTTPClient) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("не удалось сериализовать запрос перевода: %w", err)
	}

	var resp TransferResponse
	if err := c.do(ctx, "initiate_transfer", http.MethodPost, "/v1/transfers", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) QueryTransfer(ctx context.Context, reference string) (*TransferResponse, error) {
	var resp TransferResponse
	if err := c.do(ctx, "query_transfer", http.MethodGet, "/v1/transfers/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*AccountInfo, error) {
	q := url.Values{}
	q.Set("accountNumber", accountNumber)
	q.Set("bankCode", bankCode)

	var info AccountInfo
	if err := c.do(ctx, "resolve_account", http.MethodGet, "/v1/accounts/resolve?"+q.Encode(), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// do выполняет запрос. Таймауты, сетевые ошибки, 5xx, 409 и 429 считаются
// неоднозначными (ErrProviderUnavailable); прочие 4xx означают окончательный отказ.
func (c *HTTPClient) do(ctx context.Context, operation, method, path string, body []byte, out any) error {
	start := time.Now()
	result := "ok"
	defer func() {
		metrics.ProviderLatency.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		result = "error"
		return fmt.Errorf("не удалось создать запрос к провайдеру: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		result = "unavailable"
		c.log.Warn("провайдер не ответил", slog.String("operation", operation), slog.String("error", err.Error()))
		return fmt.Errorf("%s: %w: %v", operation, custom_err.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		result = "unavailable"
		return fmt.Errorf("%s: чтение ответа: %w: %v", operation, custom_err.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		result = "not_found"
		return fmt.Errorf("%s: %w", operation, custom_err.ErrNotFound)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusTooManyRequests:
		result = "unavailable"
		c.log.Warn("неоднозначный ответ провайдера",
			slog.String("operation", operation),
			slog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%s: статус %d: %w", operation, resp.StatusCode, custom_err.ErrProviderUnavailable)
	default:
		result = "rejected"
		var eb errorBody
		if err := json.Unmarshal(raw, &eb); err != nil {
			eb.Message = strings.TrimSpace(string(raw))
		}
		c.log.Warn("провайдер отклонил запрос",
			slog.String("operation", operation),
			slog.Int("status", resp.StatusCode),
			slog.String("code", eb.Code),
			slog.String("message", eb.Message),
		)
		return &RejectedError{StatusCode: resp.StatusCode, Code: eb.Code, Message: eb.Message}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		result = "unavailable"
		return fmt.Errorf("%s: некорректный ответ: %w: %v", operation, custom_err.ErrProviderUnavailable, err)
	}
	return nil
}
