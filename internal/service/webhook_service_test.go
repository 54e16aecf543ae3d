package service

import (
	"context"
	"testing"
	"time"

	"wallet_ledger/internal/cache"
	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/ledger"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// processingTransfer оставляет перевод в PROCESSING, как после таймаута провайдера.
func processingTransfer(t *testing.T, e *env, reference string, amount int64) (*models.Wallet, *models.TransferResult) {
	t.Helper()
	e.provider.InitiateTransferFunc = func(ctx context.Context, req provider.TransferRequest) (*provider.TransferResponse, error) {
		return nil, custom_err.ErrProviderUnavailable
	}
	w := e.wallet(t, 10_000)
	res, err := e.transfers().InitiateTransfer(context.Background(), transferRequest(w.ID, reference, amount))
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessing, res.Status)
	return w, res
}

func TestWebhookService_HandleCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("Success found by reference", func(t *testing.T) {
		e := newEnv(t)
		w, _ := processingTransfer(t, e, "TRF-CB-OK", 4_000)
		hooks := e.webhooks(cache.NewMemoryDedupe(time.Hour))

		err := hooks.HandleCallback(ctx, models.Callback{Reference: "TRF-CB-OK", ProviderReference: "PRV-1", Status: models.CallbackSuccess})
		require.NoError(t, err)

		tx, err := e.store.GetTransactionByReference(ctx, "TRF-CB-OK")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, tx.Status)
		assert.Equal(t, "PRV-1", tx.ProviderReference)
		assert.Equal(t, int64(5_975), e.balance(t, w.ID).Balance)

		// Повтор по ссылке провайдера отсекается кэшем.
		err = hooks.HandleCallback(ctx, models.Callback{ProviderReference: "PRV-1", Status: models.CallbackSuccess})
		require.NoError(t, err)
		assert.Equal(t, int64(5_975), e.balance(t, w.ID).Balance)
	})

	t.Run("Duplicate delivery without cache posts once", func(t *testing.T) {
		e := newEnv(t)
		w, _ := processingTransfer(t, e, "TRF-CB-DUP", 4_000)
		hooks := e.webhooks(noDedupe{})

		cb := models.Callback{Reference: "TRF-CB-DUP", ProviderReference: "PRV-2", Status: models.CallbackSuccess}
		for range 3 {
			require.NoError(t, hooks.HandleCallback(ctx, cb))
		}

		assert.Equal(t, int64(5_975), e.balance(t, w.ID).Balance)
		txns, err := e.store.ListTransactions(ctx, w.ID, models.TransactionFilter{})
		require.NoError(t, err)
		assert.Len(t, txns, 2, "seed deposit and the transfer")
	})

	t.Run("Contradicting outcome is left for reconciliation", func(t *testing.T) {
		e := newEnv(t)
		w, _ := processingTransfer(t, e, "TRF-CB-CONTRA", 4_000)
		hooks := e.webhooks(noDedupe{})

		require.NoError(t, hooks.HandleCallback(ctx, models.Callback{Reference: "TRF-CB-CONTRA", Status: models.CallbackSuccess}))
		require.NoError(t, hooks.HandleCallback(ctx, models.Callback{Reference: "TRF-CB-CONTRA", Status: models.CallbackFailed, Reason: "late"}))

		tx, err := e.store.GetTransactionByReference(ctx, "TRF-CB-CONTRA")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, tx.Status)
		assert.Equal(t, int64(5_975), e.balance(t, w.ID).Balance)
	})

	t.Run("Reversal of completed transfer restores funds once", func(t *testing.T) {
		e := newEnv(t)
		w := e.wallet(t, 10_000)
		_, err := e.transfers().InitiateTransfer(ctx, transferRequest(w.ID, "TRF-CB-REV", 4_000))
		require.NoError(t, err)
		require.Equal(t, int64(5_975), e.balance(t, w.ID).Balance)

		hooks := e.webhooks(noDedupe{})
		cb := models.Callback{ProviderReference: "PRV-TRF-CB-REV", Status: models.CallbackReversed}
		require.NoError(t, hooks.HandleCallback(ctx, cb))
		require.NoError(t, hooks.HandleCallback(ctx, cb))

		assert.Equal(t, int64(10_000), e.balance(t, w.ID).Balance)

		original, err := e.store.GetTransactionByReference(ctx, "TRF-CB-REV")
		require.NoError(t, err)
		assert.Equal(t, models.StatusReversed, original.Status)

		reversal, err := e.store.GetTransactionByReference(ctx, ledger.ReversalReferencePrefix+"TRF-CB-REV")
		require.NoError(t, err)
		assert.Equal(t, models.ReversalTransaction, reversal.Type)
		assert.Equal(t, int64(4_025), reversal.Amount)
		assert.Equal(t, reversedByProvider, reversal.Metadata["reason"])
	})

	t.Run("Reversal before completion fails the transfer", func(t *testing.T) {
		e := newEnv(t)
		w, _ := processingTransfer(t, e, "TRF-CB-EARLY", 4_000)
		hooks := e.webhooks(noDedupe{})

		require.NoError(t, hooks.HandleCallback(ctx, models.Callback{Reference: "TRF-CB-EARLY", Status: models.CallbackReversed, Reason: "returned"}))

		tx, err := e.store.GetTransactionByReference(ctx, "TRF-CB-EARLY")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, tx.Status)
		assert.Equal(t, "returned", tx.FailureReason)

		bal := e.balance(t, w.ID)
		assert.Equal(t, int64(10_000), bal.Balance)
		assert.Zero(t, bal.Held)
	})

	t.Run("Deposit reversal cannot take funds held for a transfer", func(t *testing.T) {
		e := newEnv(t)
		e.provider.InitiateTransferFunc = func(ctx context.Context, req provider.TransferRequest) (*provider.TransferResponse, error) {
			return nil, custom_err.ErrProviderUnavailable
		}
		w := e.wallet(t, 0)
		hooks := e.webhooks(noDedupe{})

		require.NoError(t, hooks.HandleDeposit(ctx, models.DepositNotification{
			ProviderReference: "PRV-IN-HOLD", VirtualAccountNumber: w.VirtualAccountNumber, Amount: "1500.50",
		}))
		res, err := e.transfers().InitiateTransfer(ctx, transferRequest(w.ID, "TRF-CB-HOLD", 100_000))
		require.NoError(t, err)
		require.Equal(t, models.StatusProcessing, res.Status)

		reversed := models.Callback{ProviderReference: "PRV-IN-HOLD", Status: models.CallbackReversed}
		require.NoError(t, hooks.HandleCallback(ctx, reversed), "parked reversal is acknowledged")
		require.NoError(t, hooks.HandleCallback(ctx, reversed), "redelivery is acknowledged too")

		bal := e.balance(t, w.ID)
		assert.Equal(t, int64(150_050), bal.Balance)
		assert.Equal(t, int64(100_025), bal.Held)
		assert.GreaterOrEqual(t, bal.Available, int64(0))

		parked, err := e.store.GetTransactionByReference(ctx, ledger.ReversalReferencePrefix+"DEP-PRV-IN-HOLD")
		require.NoError(t, err)
		assert.True(t, parked.IsParkedReversal())
		deposit, err := e.store.GetTransactionByReference(ctx, "DEP-PRV-IN-HOLD")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, deposit.Status)

		require.NoError(t, hooks.HandleCallback(ctx, models.Callback{Reference: "TRF-CB-HOLD", ProviderReference: "PRV-OUT-HOLD", Status: models.CallbackSuccess}))
		tx, err := e.store.GetTransactionByReference(ctx, "TRF-CB-HOLD")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, tx.Status)

		bal = e.balance(t, w.ID)
		assert.Equal(t, int64(50_025), bal.Balance)
		assert.Zero(t, bal.Held)

		report, err := e.reconciliation().Reconcile(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReconciliationAttention, report.Status)
		assert.Equal(t, models.ClassificationUnrecovered, report.Classification)
		assert.Zero(t, report.Discrepancy)
		require.Len(t, report.OpenFindings(), 1)
		assert.Equal(t, models.FindingParkedReversal, report.OpenFindings()[0].Kind)
	})

	t.Run("Unknown transfer is acknowledged", func(t *testing.T) {
		e := newEnv(t)
		err := e.webhooks(noDedupe{}).HandleCallback(ctx, models.Callback{ProviderReference: "PRV-GHOST", Reference: "TRF-GHOST", Status: models.CallbackSuccess})
		assert.NoError(t, err)
	})

	t.Run("Invalid payload", func(t *testing.T) {
		e := newEnv(t)
		hooks := e.webhooks(noDedupe{})

		err := hooks.HandleCallback(ctx, models.Callback{ProviderReference: "PRV-1", Status: "DONE"})
		assert.ErrorIs(t, err, custom_err.ErrValidation)

		err = hooks.HandleCallback(ctx, models.Callback{Status: models.CallbackSuccess})
		assert.ErrorIs(t, err, custom_err.ErrValidation)
	})
}

func TestWebhookService_HandleDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("Credits virtual account once", func(t *testing.T) {
		e := newEnv(t)
		w := e.wallet(t, 0)
		hooks := e.webhooks(noDedupe{})

		n := models.DepositNotification{
			ProviderReference:    "PRV-IN-1",
			VirtualAccountNumber: w.VirtualAccountNumber,
			Amount:               "1500.50",
			SenderName:           "EMEKA",
			SenderAccount:        "0011223344",
		}
		require.NoError(t, hooks.HandleDeposit(ctx, n))
		require.NoError(t, hooks.HandleDeposit(ctx, n))

		assert.Equal(t, int64(150_050), e.balance(t, w.ID).Balance)

		tx, err := e.store.GetTransactionByReference(ctx, "DEP-PRV-IN-1")
		require.NoError(t, err)
		assert.Equal(t, models.DepositTransaction, tx.Type)
		assert.Equal(t, models.StatusCompleted, tx.Status)
		assert.Equal(t, "EMEKA", tx.Metadata["sender_name"])
		assert.Equal(t, "0011223344", tx.Details.SourceAccount)
	})

	t.Run("Cache short-circuits repeats", func(t *testing.T) {
		e := newEnv(t)
		w := e.wallet(t, 0)
		hooks := e.webhooks(cache.NewMemoryDedupe(time.Hour))

		n := models.DepositNotification{ProviderReference: "PRV-IN-2", VirtualAccountNumber: w.VirtualAccountNumber, Amount: "10"}
		require.NoError(t, hooks.HandleDeposit(ctx, n))
		require.NoError(t, hooks.HandleDeposit(ctx, n))
		assert.Equal(t, int64(1_000), e.balance(t, w.ID).Balance)
	})

	t.Run("Unknown account is acknowledged", func(t *testing.T) {
		e := newEnv(t)
		err := e.webhooks(noDedupe{}).HandleDeposit(ctx, models.DepositNotification{
			ProviderReference: "PRV-IN-3", VirtualAccountNumber: "0000000000", Amount: "10",
		})
		assert.NoError(t, err)
	})

	tests := []struct {
		name string
		n    models.DepositNotification
	}{
		{"Missing provider reference", models.DepositNotification{VirtualAccountNumber: "8000000001", Amount: "10"}},
		{"Missing account", models.DepositNotification{ProviderReference: "PRV-X", Amount: "10"}},
		{"Negative amount", models.DepositNotification{ProviderReference: "PRV-X", VirtualAccountNumber: "8000000001", Amount: "-5"}},
		{"Too many decimals", models.DepositNotification{ProviderReference: "PRV-X", VirtualAccountNumber: "8000000001", Amount: "1.005"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			err := e.webhooks(noDedupe{}).HandleDeposit(ctx, tt.n)
			assert.ErrorIs(t, err, custom_err.ErrValidation)
		})
	}
}
