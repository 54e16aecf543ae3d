package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ service.WebhookServicer = (*mockWebhookService)(nil)

type mockWebhookService struct {
	HandleCallbackFunc func(ctx context.Context, cb models.Callback) error
	HandleDepositFunc  func(ctx context.Context, n models.DepositNotification) error
}

func (m *mockWebhookService) HandleCallback(ctx context.Context, cb models.Callback) error {
	if m.HandleCallbackFunc != nil {
		return m.HandleCallbackFunc(ctx, cb)
	}
	return nil
}

func (m *mockWebhookService) HandleDeposit(ctx context.Context, n models.DepositNotification) error {
	if m.HandleDepositFunc != nil {
		return m.HandleDepositFunc(ctx, n)
	}
	return nil
}

const testWebhookSecret = "whsec_test"

func signedRequest(t *testing.T, body, signature string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", bytes.NewBufferString(body))
	require.NoError(t, err)
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	return req
}

func TestWebhookHandler_HandleProviderWebhook(t *testing.T) {
	callbackBody := `{"event":"transfer.status","data":{"providerReference":"PRV-1","reference":"TRF-1","status":"SUCCESS","timestamp":"2026-03-01T12:00:00Z"}}`
	depositBody := `{"event":"deposit.received","data":{"providerReference":"PRV-IN","accountNumber":"9000000001","amount":"1500.50","senderName":"EMEKA"}}`
	sign := func(body string) string { return Sign([]byte(testWebhookSecret), []byte(body)) }

	testCases := []struct {
		name           string
		body           string
		signature      string
		serviceError   error
		expectedStatus int
		expectedBody   string
		wantCallback   bool
		wantDeposit    bool
	}{
		{
			name:           "Transfer status",
			body:           callbackBody,
			signature:      sign(callbackBody),
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"ok"}`,
			wantCallback:   true,
		},
		{
			name:           "Deposit",
			body:           depositBody,
			signature:      sign(depositBody),
			expectedStatus: http.StatusOK,
			wantDeposit:    true,
		},
		{
			name:           "Unknown event is acknowledged",
			body:           `{"event":"customer.updated","data":{}}`,
			signature:      sign(`{"event":"customer.updated","data":{}}`),
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"ignored"}`,
		},
		{
			name:           "Error - Missing Signature",
			body:           callbackBody,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":"invalid_signature","message":"Invalid signature"}`,
		},
		{
			name:           "Error - Tampered Body",
			body:           `{"event":"transfer.status","data":{"providerReference":"PRV-1","status":"FAILED"}}`,
			signature:      sign(callbackBody),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Error - Invalid Payload",
			body:           `{"event":"transfer.status","data":{"status":"DONE"}}`,
			signature:      sign(`{"event":"transfer.status","data":{"status":"DONE"}}`),
			serviceError:   custom_err.NewValidationError("status", "must be SUCCESS, FAILED or REVERSED"),
			expectedStatus: http.StatusBadRequest,
			wantCallback:   true,
		},
		{
			name:           "Error - Storage Failure Asks For Redelivery",
			body:           callbackBody,
			signature:      sign(callbackBody),
			serviceError:   errors.New("connection reset"),
			expectedStatus: http.StatusInternalServerError,
			wantCallback:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var gotCallback *models.Callback
			var gotDeposit *models.DepositNotification
			handler := NewWebhookHandler(&mockWebhookService{
				HandleCallbackFunc: func(ctx context.Context, cb models.Callback) error {
					gotCallback = &cb
					return tc.serviceError
				},
				HandleDepositFunc: func(ctx context.Context, n models.DepositNotification) error {
					gotDeposit = &n
					return tc.serviceError
				},
			}, testWebhookSecret)

			rr := httptest.NewRecorder()
			handler.HandleProviderWebhook(rr, signedRequest(t, tc.body, tc.signature))

			assert.Equal(t, tc.expectedStatus, rr.Code)
			if tc.expectedBody != "" {
				assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			}
			assert.Equal(t, tc.wantCallback, gotCallback != nil)
			assert.Equal(t, tc.wantDeposit, gotDeposit != nil)
			if tc.name == "Transfer status" {
				assert.Equal(t, models.Callback{
					ProviderReference: "PRV-1",
					Reference:         "TRF-1",
					Status:            models.CallbackSuccess,
					Timestamp:         gotCallback.Timestamp,
				}, *gotCallback)
				assert.Equal(t, 2026, gotCallback.Timestamp.Year())
			}
			if tc.wantDeposit {
				assert.Equal(t, "1500.50", gotDeposit.Amount)
				assert.Equal(t, "9000000001", gotDeposit.VirtualAccountNumber)
			}
		})
	}
}

func TestWebhookHandler_NoSecretSkipsVerification(t *testing.T) {
	called := false
	handler := NewWebhookHandler(&mockWebhookService{
		HandleCallbackFunc: func(ctx context.Context, cb models.Callback) error {
			called = true
			return nil
		},
	}, "")

	rr := httptest.NewRecorder()
	handler.HandleProviderWebhook(rr, signedRequest(t, `{"event":"transfer.status","data":{"reference":"TRF-1","status":"FAILED"}}`, ""))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, called)
}
