package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"wallet_ledger/internal/cache"
	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/events"
	"wallet_ledger/internal/fee"
	"wallet_ledger/internal/kyc"
	"wallet_ledger/internal/ledger"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/provider"
	"wallet_ledger/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPIN = "1234"

var (
	_ provider.Client = (*mockProvider)(nil)
	_ fee.FeeResolver = (*mockFees)(nil)
	_ cache.Dedupe    = noDedupe{}
	_ kyc.Checker     = kycFunc(nil)
)

type mockProvider struct {
	InitiateTransferFunc func(ctx context.Context, req provider.TransferRequest) (*provider.TransferResponse, error)
	QueryTransferFunc    func(ctx context.Context, reference string) (*provider.TransferResponse, error)
	ResolveAccountFunc   func(ctx context.Context, accountNumber, bankCode string) (*provider.AccountInfo, error)

	mu        sync.Mutex
	initiated []provider.TransferRequest
}

func (m *mockProvider) InitiateTransfer(ctx context.Context, req provider.TransferRequest) (*provider.TransferResponse, error) {
	m.mu.Lock()
	m.initiated = append(m.initiated, req)
	m.mu.Unlock()
	if m.InitiateTransferFunc != nil {
		return m.InitiateTransferFunc(ctx, req)
	}
	return &provider.TransferResponse{Status: provider.StatusSuccess, ProviderReference: "PRV-" + req.Reference}, nil
}

func (m *mockProvider) QueryTransfer(ctx context.Context, reference string) (*provider.TransferResponse, error) {
	if m.QueryTransferFunc != nil {
		return m.QueryTransferFunc(ctx, reference)
	}
	return nil, custom_err.ErrNotFound
}

func (m *mockProvider) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*provider.AccountInfo, error) {
	if m.ResolveAccountFunc != nil {
		return m.ResolveAccountFunc(ctx, accountNumber, bankCode)
	}
	return &provider.AccountInfo{AccountNumber: accountNumber, BankCode: bankCode, AccountName: "ADA OBI"}, nil
}

func (m *mockProvider) initiatedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.initiated)
}

type mockFees struct {
	ResolveFeeFunc func(amount int64, provider string) (int64, error)
}

func (m *mockFees) ResolveFee(amount int64, provider string) (int64, error) {
	if m.ResolveFeeFunc != nil {
		return m.ResolveFeeFunc(amount, provider)
	}
	return 25, nil
}

// noDedupe ничего не помнит: повторная доставка доходит до журнала.
type noDedupe struct{}

func (noDedupe) Seen(ctx context.Context, key string) (bool, error) { return false, nil }
func (noDedupe) Mark(ctx context.Context, key string) error         { return nil }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	repo     *memory.LedgerRepository
	store    *ledger.Store
	clock    *testClock
	provider *mockProvider
	fees     *mockFees
	log      *slog.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewLedgerRepository()
	clock := newTestClock()
	store := ledger.NewStore(repo, events.NewNoopPublisher(log), log,
		ledger.WithPINCost(bcrypt.MinCost),
		ledger.WithClock(clock.Now),
	)
	return &env{
		repo:     repo,
		store:    store,
		clock:    clock,
		provider: &mockProvider{},
		fees:     &mockFees{},
		log:      log,
	}
}

func (e *env) transfers() *TransferService {
	return e.transfersWith(kyc.AllowAll{})
}

func (e *env) transfersWith(checker kyc.Checker) *TransferService {
	return NewTransferService(e.store, e.fees, e.provider, checker, time.Second, e.log)
}

func (e *env) webhooks(dedupe cache.Dedupe) *WebhookService {
	return NewWebhookService(e.store, dedupe, e.log)
}

func (e *env) reconciliation() *ReconciliationService {
	return NewReconciliationService(e.store, 30*time.Minute, e.log)
}

var accountSeq int

func (e *env) wallet(t *testing.T, balance int64) *models.Wallet {
	t.Helper()
	ctx := context.Background()
	accountSeq++
	wallets, err := e.store.ProvisionWallets(ctx, []models.NewWallet{{
		UserID:               uuid.New(),
		VirtualAccountNumber: fmt.Sprintf("80%08d", accountSeq),
		ProviderName:         "anchor",
		PIN:                  testPIN,
	}})
	require.NoError(t, err)
	w := wallets[0]

	if balance > 0 {
		_, _, err := e.store.RecordDeposit(ctx, models.DepositParams{
			Reference:         "DEP-SEED-" + uuid.NewString(),
			WalletID:          w.ID,
			Amount:            balance,
			ProviderReference: "SEED-" + uuid.NewString(),
		})
		require.NoError(t, err)
	}
	return w
}

func (e *env) balance(t *testing.T, walletID uuid.UUID) *models.WalletBalance {
	t.Helper()
	bal, err := e.store.GetBalance(context.Background(), walletID)
	require.NoError(t, err)
	return bal
}

func transferRequest(walletID uuid.UUID, reference string, amount int64) models.TransferRequest {
	return models.TransferRequest{
		Reference:           reference,
		WalletID:            walletID,
		Amount:              amount,
		PIN:                 testPIN,
		DestinationAccount:  "0123456789",
		DestinationBankCode: "058",
		Narration:           "rent",
	}
}

type kycFunc func(ctx context.Context, userID uuid.UUID) (bool, error)

func (f kycFunc) CanTransfer(ctx context.Context, userID uuid.UUID) (bool, error) { return f(ctx, userID) }
