package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *env) sweep() *Sweep {
	return NewSweep(e.store, e.webhooks(noDedupe{}), e.reconciliation(), e.provider, SweepConfig{
		Schedule:    "@every 1m",
		StaleAfter:  10 * time.Minute,
		Concurrency: 4,
		BatchSize:   100,
	}, e.log)
}

func TestSweep_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("Stale reservation is cancelled", func(t *testing.T) {
		e := newEnv(t)
		w := e.wallet(t, 10_000)
		_, err := e.store.Reserve(ctx, models.ReserveParams{
			Reference: "TRF-SWEEP-PENDING",
			WalletID:  w.ID,
			Amount:    3_000,
			Fee:       25,
			Details: models.TransferDetails{
				Version:             models.TransferDetailsVersion,
				DestinationAccount:  "0123456789",
				DestinationBankCode: "058",
			},
		})
		require.NoError(t, err)
		e.clock.Advance(time.Hour)

		res, err := e.sweep().RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Cancelled)

		tx, err := e.store.GetTransactionByReference(ctx, "TRF-SWEEP-PENDING")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, tx.Status)
		assert.Equal(t, staleNeverDispatched, tx.FailureReason)
		assert.Zero(t, e.balance(t, w.ID).Held)
	})

	t.Run("Fresh reservation is left alone", func(t *testing.T) {
		e := newEnv(t)
		w := e.wallet(t, 10_000)
		_, err := e.store.Reserve(ctx, models.ReserveParams{
			Reference: "TRF-SWEEP-FRESH",
			WalletID:  w.ID,
			Amount:    3_000,
			Details: models.TransferDetails{
				Version:             models.TransferDetailsVersion,
				DestinationAccount:  "0123456789",
				DestinationBankCode: "058",
			},
		})
		require.NoError(t, err)

		res, err := e.sweep().RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Cancelled)
		assert.Equal(t, int64(3_000), e.balance(t, w.ID).Held)
	})

	tests := []struct {
		name         string
		query        func(ctx context.Context, reference string) (*provider.TransferResponse, error)
		wantStatus   models.TransactionStatus
		wantResolved int64
		wantBalance  int64
	}{
		{
			name: "Provider confirms success",
			query: func(ctx context.Context, reference string) (*provider.TransferResponse, error) {
				return &provider.TransferResponse{Status: provider.StatusSuccess, ProviderReference: "PRV-" + reference}, nil
			},
			wantStatus:   models.StatusCompleted,
			wantResolved: 1,
			wantBalance:  5_975,
		},
		{
			name: "Provider reports failure",
			query: func(ctx context.Context, reference string) (*provider.TransferResponse, error) {
				return &provider.TransferResponse{Status: provider.StatusFailed, Reason: "insufficient float"}, nil
			},
			wantStatus:   models.StatusFailed,
			wantResolved: 1,
			wantBalance:  10_000,
		},
		{
			name: "Provider has no record",
			query: func(ctx context.Context, reference string) (*provider.TransferResponse, error) {
				return nil, custom_err.ErrNotFound
			},
			wantStatus:   models.StatusFailed,
			wantResolved: 1,
			wantBalance:  10_000,
		},
		{
			name: "Provider still processing",
			query: func(ctx context.Context, reference string) (*provider.TransferResponse, error) {
				return &provider.TransferResponse{Status: provider.StatusPending}, nil
			},
			wantStatus:  models.StatusProcessing,
			wantBalance: 10_000,
		},
		{
			name: "Provider unreachable",
			query: func(ctx context.Context, reference string) (*provider.TransferResponse, error) {
				return nil, fmt.Errorf("query: %w", custom_err.ErrProviderUnavailable)
			},
			wantStatus:  models.StatusProcessing,
			wantBalance: 10_000,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			reference := fmt.Sprintf("TRF-SWEEP-%d", i)
			w, _ := processingTransfer(t, e, reference, 4_000)
			e.provider.QueryTransferFunc = tt.query
			e.clock.Advance(time.Hour)

			res, err := e.sweep().RunOnce(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantResolved, res.Resolved)

			tx, err := e.store.GetTransactionByReference(ctx, reference)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, tx.Status)
			assert.Equal(t, tt.wantBalance, e.balance(t, w.ID).Balance)
		})
	}

	t.Run("Touched wallets are reconciled and drift reported", func(t *testing.T) {
		e := newEnv(t)
		clean := e.wallet(t, 10_000)
		drifted := e.wallet(t, 10_000)
		patchBalance(t, e, drifted.ID, 250)

		res, err := e.sweep().RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Reconciled)
		assert.Equal(t, int64(1), res.Drifted)

		// Сверка только сообщает о дрейфе.
		assert.Equal(t, int64(10_000), e.balance(t, clean.ID).Balance)
		assert.Equal(t, int64(10_250), e.balance(t, drifted.ID).Balance)
	})
}

func TestSweep_StartStop(t *testing.T) {
	e := newEnv(t)

	bad := NewSweep(e.store, e.webhooks(noDedupe{}), e.reconciliation(), e.provider, SweepConfig{Schedule: "every now and then"}, e.log)
	assert.Error(t, bad.Start())

	s := e.sweep()
	require.NoError(t, s.Start())
	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("планировщик не остановился")
	}
}
