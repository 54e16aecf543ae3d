package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Эта строка проверит во время компиляции, что наш мок подходит под интерфейс.
var _ service.WalletServicer = (*mockWalletService)(nil)

type mockWalletService struct {
	ProvisionWalletsFunc func(ctx context.Context, reqs []models.NewWallet) ([]*models.Wallet, error)
	GetWalletByIDFunc    func(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	GetBalanceFunc       func(ctx context.Context, id uuid.UUID) (*models.WalletBalance, error)
	ListTransactionsFunc func(ctx context.Context, id uuid.UUID, filter models.TransactionFilter) ([]*models.Transaction, error)
}

func (m *mockWalletService) ProvisionWallets(ctx context.Context, reqs []models.NewWallet) ([]*models.Wallet, error) {
	if m.ProvisionWalletsFunc != nil {
		return m.ProvisionWalletsFunc(ctx, reqs)
	}
	return nil, nil
}

func (m *mockWalletService) GetWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	if m.GetWalletByIDFunc != nil {
		return m.GetWalletByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockWalletService) GetBalance(ctx context.Context, id uuid.UUID) (*models.WalletBalance, error) {
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockWalletService) ListTransactions(ctx context.Context, id uuid.UUID, filter models.TransactionFilter) ([]*models.Transaction, error) {
	if m.ListTransactionsFunc != nil {
		return m.ListTransactionsFunc(ctx, id, filter)
	}
	return nil, nil
}

// withURLParams подставляет параметры маршрута chi без роутера.
func withURLParams(req *http.Request, params map[string]string) *http.Request {
	chiCtx := chi.NewRouteContext()
	for k, v := range params {
		chiCtx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, chiCtx))
}

func TestWalletHandler_GetWalletByID(t *testing.T) {
	mockService := &mockWalletService{}
	handler := NewWalletHandler(mockService)

	walletID := uuid.New()

	testCases := []struct {
		name           string
		walletIDParam  string
		mockWallet     *models.Wallet
		mockError      error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Success",
			walletIDParam:  walletID.String(),
			mockWallet:     &models.Wallet{ID: walletID, Balance: 123, Currency: "NGN", IsActive: true},
			expectedStatus: http.StatusOK,
			expectedBody: fmt.Sprintf(`{"id":"%s","user_id":"00000000-0000-0000-0000-000000000000","balance":123,"currency":"NGN",`+
				`"is_active":true,"is_frozen":false,"virtual_account_number":"","provider_name":"",`+
				`"created_at":"0001-01-01T00:00:00Z","updated_at":"0001-01-01T00:00:00Z"}`, walletID.String()),
		},
		{
			name:           "Error - Not Found",
			walletIDParam:  walletID.String(),
			mockError:      custom_err.ErrNotFound,
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"not_found","message":"Wallet not found"}`,
		},
		{
			name:           "Error - Invalid UUID",
			walletIDParam:  "not-a-valid-uuid",
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"invalid_request","message":"Invalid wallet ID format"}`,
		},
		{
			name:           "Error - Internal Server Error",
			walletIDParam:  walletID.String(),
			mockError:      errors.New("unexpected db error"),
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"error":"internal_error","message":"An internal error occurred"}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockService.GetWalletByIDFunc = func(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
				return tc.mockWallet, tc.mockError
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+tc.walletIDParam, nil)
			req = withURLParams(req, map[string]string{"walletID": tc.walletIDParam})

			rr := httptest.NewRecorder()
			handler.GetWalletByID(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.JSONEq(t, tc.expectedBody, rr.Body.String())
		})
	}
}

func TestWalletHandler_ProvisionWallets(t *testing.T) {
	mockService := &mockWalletService{}
	handler := NewWalletHandler(mockService)

	testCases := []struct {
		name           string
		inputBody      string
		mockError      error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Success",
			inputBody:      `{"wallets":[{"user_id":"a7c9a494-386b-436d-8a58-29b7a3f754a3","virtual_account_number":"9000000001","provider_name":"anchor","pin":"1234"}]}`,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Error - Invalid JSON",
			inputBody:      `{`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"invalid_json","message":"Invalid JSON body"}`,
		},
		{
			name:           "Error - Validation",
			inputBody:      `{"wallets":[{}]}`,
			mockError:      custom_err.NewValidationError("wallets[0].user_id", "is required"),
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"validation_error","message":"Request validation failed","fields":{"wallets[0].user_id":"is required"}}`,
		},
		{
			name:           "Error - Already Exists",
			inputBody:      `{"wallets":[{"user_id":"a7c9a494-386b-436d-8a58-29b7a3f754a3"}]}`,
			mockError:      fmt.Errorf("кошелек уже существует: %w", custom_err.ErrConflict),
			expectedStatus: http.StatusConflict,
			expectedBody:   `{"error":"conflict","message":"State changed, reload and retry"}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got []models.NewWallet
			mockService.ProvisionWalletsFunc = func(ctx context.Context, reqs []models.NewWallet) ([]*models.Wallet, error) {
				got = reqs
				if tc.mockError != nil {
					return nil, tc.mockError
				}
				return []*models.Wallet{{ID: uuid.New(), UserID: reqs[0].UserID}}, nil
			}

			req, err := http.NewRequest(http.MethodPost, "/api/v1/wallets", bytes.NewBufferString(tc.inputBody))
			require.NoError(t, err)

			rr := httptest.NewRecorder()
			handler.ProvisionWallets(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			if tc.expectedBody != "" {
				assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			}
			if tc.expectedStatus == http.StatusCreated {
				require.Len(t, got, 1)
				assert.Equal(t, "1234", got[0].PIN)
				assert.Equal(t, "anchor", got[0].ProviderName)
			}
		})
	}
}

func TestWalletHandler_GetBalance(t *testing.T) {
	walletID := uuid.New()
	handler := NewWalletHandler(&mockWalletService{
		GetBalanceFunc: func(ctx context.Context, id uuid.UUID) (*models.WalletBalance, error) {
			return &models.WalletBalance{WalletID: id, Balance: 10_000, Held: 4_025, Available: 5_975, Currency: "NGN"}, nil
		},
	})

	req := withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"walletID": walletID.String()})
	rr := httptest.NewRecorder()
	handler.GetBalance(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"wallet_id":"%s","balance":10000,"held":4025,"available":5975,"currency":"NGN"}`, walletID), rr.Body.String())
}

func TestWalletHandler_ListTransactions(t *testing.T) {
	walletID := uuid.New()

	testCases := []struct {
		name           string
		query          string
		mockError      error
		expectedStatus int
		expectedFilter models.TransactionFilter
	}{
		{
			name:           "Filters are passed through",
			query:          "?status=COMPLETED&type=TRANSFER&limit=20&offset=40",
			expectedStatus: http.StatusOK,
			expectedFilter: models.TransactionFilter{Status: models.StatusCompleted, Type: models.TransferTransaction, Limit: 20, Offset: 40},
		},
		{
			name:           "No filters",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Error - Bad limit",
			query:          "?limit=ten",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Error - Unknown status",
			query:          "?status=DONE",
			mockError:      custom_err.NewValidationError("status", "unknown status"),
			expectedStatus: http.StatusBadRequest,
			expectedFilter: models.TransactionFilter{Status: "DONE"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got models.TransactionFilter
			handler := NewWalletHandler(&mockWalletService{
				ListTransactionsFunc: func(ctx context.Context, id uuid.UUID, filter models.TransactionFilter) ([]*models.Transaction, error) {
					got = filter
					return []*models.Transaction{}, tc.mockError
				},
			})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+walletID.String()+"/transactions"+tc.query, nil)
			req = withURLParams(req, map[string]string{"walletID": walletID.String()})
			rr := httptest.NewRecorder()
			handler.ListTransactions(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.Equal(t, tc.expectedFilter, got)
		})
	}
}
