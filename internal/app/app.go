package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet_ledger/internal/api/handlers"
	"wallet_ledger/internal/api/middlew"
	"wallet_ledger/internal/cache"
	"wallet_ledger/internal/config"
	"wallet_ledger/internal/db"
	"wallet_ledger/internal/events"
	"wallet_ledger/internal/fee"
	"wallet_ledger/internal/kyc"
	"wallet_ledger/internal/ledger"
	"wallet_ledger/internal/metrics"
	"wallet_ledger/internal/provider"
	"wallet_ledger/internal/repository"
	"wallet_ledger/internal/repository/memory"
	"wallet_ledger/internal/repository/postgres"
	"wallet_ledger/internal/server"
	"wallet_ledger/internal/service"
	"wallet_ledger/pkg/logger"
	"wallet_ledger/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout  = 30 * time.Second
	dedupeKeyPrefix  = "wallet_ledger:webhook"
	serverWriteSlack = 15 * time.Second
)

type App struct {
	cfg       *config.Config
	log       *slog.Logger
	logFile   io.Closer
	server    *server.Server
	pool      *pgxpool.Pool
	redis     *redis.Client
	repo      repository.Ledger
	publisher events.Publisher
	dedupe    cache.Dedupe
	store     *ledger.Store
	sweep     *service.Sweep
	consumer  *events.CallbackConsumer
	stop      context.CancelFunc
}

func NewApp() (*App, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации конфига: %w", err)
	}

	log, logFile := logger.NewLogger(cfg.LogFile, cfg.AppEnv)
	log.Info("конфигурация загружена",
		slog.String("port", cfg.HTTPPort),
		slog.String("env", cfg.AppEnv),
		slog.String("storage", cfg.Storage),
		slog.String("broker", cfg.Events.Broker),
	)

	metrics.Init()

	a := &App{cfg: cfg, log: log, logFile: logFile}
	if err := a.initStorage(); err != nil {
		a.closeResources()
		return nil, err
	}
	if err := a.initEvents(); err != nil {
		a.closeResources()
		return nil, err
	}
	if err := a.initDedupe(); err != nil {
		a.closeResources()
		return nil, err
	}

	a.store = ledger.NewStore(a.repo, a.publisher, log)

	a.server = server.NewServer(server.Options{
		Port:         cfg.HTTPPort,
		WriteTimeout: transferWriteTimeout(cfg),
	})
	log.Info("сервер инициализирован", slog.String("port", cfg.HTTPPort))

	a.useMiddlewares()

	return a, nil
}

// transferWriteTimeout покрывает самый длинный синхронный путь POST /transfers:
// разрешение счета, проверка KYC и отправка перевода идут последовательно.
func transferWriteTimeout(cfg *config.Config) time.Duration {
	return 2*cfg.Provider.Timeout + cfg.KYC.Timeout + serverWriteSlack
}

func (a *App) useMiddlewares() {
	r := a.server.Router
	r.Use(middleware.RequestID)
	r.Use(middlew.WithLogger(a.log))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middlew.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id", handlers.SignatureHeader},
		MaxAge:         300,
	}))
}

func (a *App) initStorage() error {
	if a.cfg.Storage == config.StorageMemory {
		a.log.Warn("используется хранилище в памяти, данные не переживут перезапуск")
		a.repo = memory.NewLedgerRepository()
		return nil
	}

	a.log.Info("выполнение миграций базы данных")
	if err := db.RunMigrations(a.cfg.DB.MigrationURL(), "migrations"); err != nil {
		return fmt.Errorf("ошибка выполнения миграций: %w", err)
	}
	a.log.Info("миграции успешно применены")

	pool, err := db.NewPool(context.Background(), a.cfg.DB.DSN(), db.PoolOptions{
		MaxConns: a.cfg.DB.MaxConns,
		MinConns: a.cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}
	a.log.Info("подключение к базе данных установлено")

	a.pool = pool
	a.repo = postgres.NewLedgerRepository(pool, a.log)
	return nil
}

func (a *App) initEvents() error {
	var broker events.Publisher
	switch a.cfg.Events.Broker {
	case config.BrokerRabbitMQ:
		p, err := events.NewRabbitMQPublisher(a.cfg.Events.AMQPURL, a.cfg.Events.Exchange, a.log)
		if err != nil {
			return fmt.Errorf("ошибка подключения к RabbitMQ: %w", err)
		}
		broker = p
	case config.BrokerKafka:
		broker = events.NewKafkaPublisher(a.cfg.Events.KafkaBrokers, a.cfg.Events.Topic)
	default:
		a.publisher = events.NewNoopPublisher(a.log)
		return nil
	}

	opts := events.DefaultAsyncOptions()
	opts.QueueSize = a.cfg.Events.QueueSize
	opts.Workers = a.cfg.Events.Workers
	a.publisher = events.NewAsyncPublisher(broker, a.log, opts)
	a.log.Info("публикация событий включена", slog.String("broker", a.cfg.Events.Broker))
	return nil
}

func (a *App) initDedupe() error {
	if a.cfg.Redis.Addr == "" {
		a.dedupe = cache.NewMemoryDedupe(a.cfg.Redis.DedupeTTL)
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("ошибка подключения к Redis: %w", err)
	}

	a.redis = client
	a.dedupe = cache.NewRedisDedupe(client, dedupeKeyPrefix, a.cfg.Redis.DedupeTTL)
	a.log.Info("дедупликация вебхуков через Redis", slog.String("addr", a.cfg.Redis.Addr))
	return nil
}

// BuildLedgerLayer собирает сервисы поверх хранилища и регистрирует маршруты.
func (a *App) BuildLedgerLayer() error {
	fees, err := fee.NewResolverFromFile(a.cfg.FeeTiersPath)
	if err != nil {
		return fmt.Errorf("ошибка загрузки тарифов: %w", err)
	}

	providerClient := provider.NewHTTPClient(a.cfg.Provider.BaseURL, a.cfg.Provider.APIKey, a.cfg.Provider.Timeout, a.log)

	var kycChecker kyc.Checker = kyc.AllowAll{}
	if a.cfg.KYC.BaseURL != "" {
		kycChecker = kyc.NewHTTPChecker(a.cfg.KYC.BaseURL, a.cfg.KYC.APIKey, a.cfg.KYC.Timeout, a.log)
	} else {
		a.log.Warn("KYC_BASE_URL не задан, проверка KYC отключена")
	}

	walletService := service.NewWalletService(a.store)
	transferService := service.NewTransferService(a.store, fees, providerClient, kycChecker, a.cfg.Provider.Timeout, a.log)
	webhookService := service.NewWebhookService(a.store, a.dedupe, a.log)
	reconService := service.NewReconciliationService(a.store, a.cfg.Reconcile.StaleAfter, a.log)

	if a.cfg.Provider.WebhookSecret == "" {
		a.log.Warn("PROVIDER_WEBHOOK_SECRET не задан, подпись вебхуков не проверяется")
	}

	mountRoutes(a.server.Router, routeHandlers{
		wallets:        handlers.NewWalletHandler(walletService),
		transfers:      handlers.NewTransferHandler(transferService),
		reconciliation: handlers.NewReconciliationHandler(reconService),
		webhooks:       handlers.NewWebhookHandler(webhookService, a.cfg.Provider.WebhookSecret),
		health:         a.health,
	})

	a.sweep = service.NewSweep(a.store, webhookService, reconService, providerClient, service.SweepConfig{
		Schedule:    a.cfg.Reconcile.Schedule,
		StaleAfter:  a.cfg.Reconcile.StaleAfter,
		Concurrency: a.cfg.Reconcile.Concurrency,
		BatchSize:   a.cfg.Reconcile.BatchSize,
	}, a.log)

	ctx, stop := context.WithCancel(context.Background())
	a.stop = stop
	if a.cfg.Events.Broker == config.BrokerRabbitMQ && a.cfg.Events.CallbackQueue != "" {
		consumer, err := events.NewCallbackConsumer(a.cfg.Events.AMQPURL, a.cfg.Events.Exchange, a.cfg.Events.CallbackQueue, a.log)
		if err != nil {
			return fmt.Errorf("ошибка подключения потребителя уведомлений: %w", err)
		}
		if err := consumer.Start(ctx, webhookService); err != nil {
			consumer.Close()
			return fmt.Errorf("ошибка запуска потребителя уведомлений: %w", err)
		}
		a.consumer = consumer
		a.log.Info("уведомления провайдера читаются из очереди", slog.String("queue", a.cfg.Events.CallbackQueue))
	}

	a.log.Info("слой 'ledger' собран и маршруты зарегистрированы")
	return nil
}

type routeHandlers struct {
	wallets        *handlers.WalletHandler
	transfers      *handlers.TransferHandler
	reconciliation *handlers.ReconciliationHandler
	webhooks       *handlers.WebhookHandler
	health         http.HandlerFunc
}

func mountRoutes(r chi.Router, h routeHandlers) {
	r.Get("/health", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/wallets", func(r chi.Router) {
			r.Post("/", h.wallets.ProvisionWallets)
			r.Route("/{walletID}", func(r chi.Router) {
				r.Get("/", h.wallets.GetWalletByID)
				r.Get("/balance", h.wallets.GetBalance)
				r.Get("/transactions", h.wallets.ListTransactions)
				r.Post("/reconcile", h.reconciliation.Reconcile)
				r.Post("/corrections", h.reconciliation.ApplyCorrection)
			})
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", h.transfers.InitiateTransfer)
			r.Get("/{reference}", h.transfers.GetTransfer)
			r.Post("/{reference}/cancel", h.transfers.CancelTransfer)
			r.Post("/{reference}/retry", h.transfers.RetryTransfer)
		})

		r.Post("/webhooks/provider", h.webhooks.HandleProviderWebhook)
	})
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	log := middlew.GetLogger(r.Context())
	if a.pool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.pool.Ping(ctx); err != nil {
			log.Error("база данных недоступна", slog.String("error", err.Error()))
			response.WriteJSONError(w, log, http.StatusServiceUnavailable, "unhealthy", "Database is unavailable")
			return
		}
	}
	response.WriteJSONSuccess(w, log, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) Run() error {
	if err := a.sweep.Start(); err != nil {
		return err
	}

	a.log.Info("сервер запускается", slog.String("addr", a.server.Addr()))

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("ошибка запуска сервера: %w", err)
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-serverErr:
	case sig := <-shutdownChan:
		a.log.Info("получен сигнал завершения", slog.String("signal", sig.String()))
	}

	a.log.Info("приложение останавливается")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Error("ошибка при остановке http сервера", slog.String("error", err.Error()))
	}

	a.log.Info("ожидание завершения фоновой сверки")
	select {
	case <-a.sweep.Stop().Done():
	case <-ctx.Done():
		a.log.Warn("фоновая сверка не завершилась за отведенное время")
	}

	a.closeResources()
	return runErr
}

// closeResources освобождает подключения в обратном порядке создания.
// Публикатор закрывается до пула: в очереди могут остаться события проводок.
func (a *App) closeResources() {
	if a.stop != nil {
		a.stop()
	}
	if a.consumer != nil {
		a.consumer.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Error("ошибка при закрытии публикатора событий", slog.String("error", err.Error()))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("ошибка при закрытии соединения с Redis", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.log.Info("закрытие соединения с базой данных")
		a.pool.Close()
	}
	a.log.Info("приложение остановлено")
	if a.logFile != nil {
		a.logFile.Close()
	}
}
