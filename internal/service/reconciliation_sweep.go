package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/metrics"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/provider"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	staleNeverDispatched = "stale reservation: never dispatched"
	providerHasNoRecord  = "provider has no record of the transfer"
)

type SweepConfig struct {
	Schedule    string
	StaleAfter  time.Duration
	Concurrency int
	BatchSize   int
}

type SweepResult struct {
	Cancelled  int64
	Resolved   int64
	Reconciled int64
	Drifted    int64
}

// Sweep периодически доводит зависшие записи до конечного статуса и сверяет
// кошельки, менявшиеся с прошлого прогона. Дрейф только фиксируется.
type Sweep struct {
	ledger   Ledger
	webhooks *WebhookService
	recon    *ReconciliationService
	provider provider.Client
	cfg      SweepConfig
	cron     *cron.Cron
	log      *slog.Logger

	mu      sync.Mutex
	lastRun time.Time
}

func NewSweep(
	ledger Ledger,
	webhooks *WebhookService,
	recon *ReconciliationService,
	providerClient provider.Client,
	cfg SweepConfig,
	log *slog.Logger,
) *Sweep {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelInfo))
	return &Sweep{
		ledger:   ledger,
		webhooks: webhooks,
		recon:    recon,
		provider: providerClient,
		cfg:      cfg,
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		log:      log,
	}
}

func (s *Sweep) Start() error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.log.Error("прогон сверки завершился ошибкой", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("некорректное расписание сверки %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.log.Info("фоновая сверка запланирована", slog.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop возвращает контекст, который закрывается после завершения текущего прогона.
func (s *Sweep) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweep) RunOnce(ctx context.Context) (SweepResult, error) {
	const op = "service.Sweep.RunOnce"

	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.ledger.Now()
	staleBefore := started.Add(-s.cfg.StaleAfter)
	var res SweepResult

	if err := s.cancelStalePending(ctx, staleBefore, &res); err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.resolveStaleProcessing(ctx, staleBefore, &res); err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.reconcileTouched(ctx, &res); err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}

	s.lastRun = started
	s.log.Info("прогон сверки завершен",
		slog.String("op", op),
		slog.Int64("cancelled", res.Cancelled),
		slog.Int64("resolved", res.Resolved),
		slog.Int64("reconciled", res.Reconciled),
		slog.Int64("drifted", res.Drifted),
	)
	return res, nil
}

func (s *Sweep) forEach(ctx context.Context, txns []*models.Transaction, fn func(ctx context.Context, t *models.Transaction)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, t := range txns {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(gctx, t)
			return nil
		})
	}
	return g.Wait()
}

// cancelStalePending: PENDING дольше порога значит, что отправка провайдеру не
// состоялась (процесс упал между резервом и вызовом).
func (s *Sweep) cancelStalePending(ctx context.Context, staleBefore time.Time, res *SweepResult) error {
	stale, err := s.ledger.ListStaleTransactions(ctx, []models.TransactionStatus{models.StatusPending}, staleBefore, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var cancelled atomic.Int64
	err = s.forEach(ctx, stale, func(ctx context.Context, t *models.Transaction) {
		_, err := s.ledger.Cancel(ctx, t.ID, staleNeverDispatched)
		switch {
		case err == nil:
			cancelled.Add(1)
			metrics.SweepResolvedTotal.WithLabelValues(string(models.StatusCancelled)).Inc()
		case errors.Is(err, custom_err.ErrNotCancellable):
		default:
			s.log.Error("не удалось отменить зависший резерв", slog.String("reference", t.Reference), slog.String("error", err.Error()))
		}
	})
	res.Cancelled = cancelled.Load()
	return err
}

// resolveStaleProcessing опрашивает провайдера и применяет окончательный ответ
// через те же правила, что и вебхук.
func (s *Sweep) resolveStaleProcessing(ctx context.Context, staleBefore time.Time, res *SweepResult) error {
	stale, err := s.ledger.ListStaleTransactions(ctx, []models.TransactionStatus{models.StatusProcessing}, staleBefore, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var resolved atomic.Int64
	err = s.forEach(ctx, stale, func(ctx context.Context, t *models.Transaction) {
		log := s.log.With(slog.String("reference", t.Reference))

		resp, err := s.provider.QueryTransfer(ctx, t.Reference)
		var cb models.Callback
		switch {
		case errors.Is(err, custom_err.ErrNotFound):
			cb = models.Callback{Reference: t.Reference, Status: models.CallbackFailed, Reason: providerHasNoRecord}
		case err != nil:
			log.Warn("провайдер не ответил на запрос статуса", slog.String("error", err.Error()))
			return
		case resp.Status == provider.StatusSuccess:
			cb = models.Callback{ProviderReference: resp.ProviderReference, Reference: t.Reference, Status: models.CallbackSuccess}
		case resp.Status == provider.StatusFailed:
			cb = models.Callback{ProviderReference: resp.ProviderReference, Reference: t.Reference, Status: models.CallbackFailed, Reason: resp.Reason}
		default:
			log.Debug("перевод у провайдера еще в обработке")
			return
		}
		cb.Timestamp = s.ledger.Now()

		if err := s.webhooks.HandleCallback(ctx, cb); err != nil {
			log.Error("не удалось применить статус провайдера", slog.String("error", err.Error()))
			return
		}
		resolved.Add(1)
		metrics.SweepResolvedTotal.WithLabelValues(string(cb.Status)).Inc()
	})
	res.Resolved = resolved.Load()
	return err
}

func (s *Sweep) reconcileTouched(ctx context.Context, res *SweepResult) error {
	ids, err := s.ledger.ListActiveWalletIDs(ctx, s.lastRun, 0)
	if err != nil {
		return err
	}

	var reconciled, drifted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			report, err := s.recon.Reconcile(gctx, id)
			if err != nil {
				s.log.Error("сверка кошелька не выполнена", slog.String("wallet_id", id.String()), slog.String("error", err.Error()))
				return nil
			}
			reconciled.Add(1)
			if report.Status == models.ReconciliationDrift {
				drifted.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	res.Reconciled = reconciled.Load()
	res.Drifted = drifted.Load()
	return err
}
