package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/cors"

	"github.com/academyhub/backend/internal/approval"
	"github.com/academyhub/backend/internal/auth"
	"github.com/academyhub/backend/internal/catalog"
	"github.com/academyhub/backend/internal/config"
	"github.com/academyhub/backend/internal/dashboard"
	"github.com/academyhub/backend/internal/execution"
	"github.com/academyhub/backend/internal/gateway"
	"github.com/academyhub/backend/internal/handlers"
	"github.com/academyhub/backend/internal/metrics"
	"github.com/academyhub/backend/internal/middleware"
	"github.com/academyhub/backend/internal/notification"
	"github.com/academyhub/backend/internal/reports"
	"github.com/academyhub/backend/internal/repository"
	"github.com/academyhub/backend/internal/router"
	"github.com/academyhub/backend/internal/services"
	"github.com/academyhub/backend/internal/tasks"
)

const shutdownTimeout = 15 * time.Second

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting", "config", cfg.String())

	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("Connected to PostgreSQL database successfully!")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("academyhub", reg)

	// Persistence
	records := repository.NewRecordStore(pool)
	taskRepo := repository.NewTaskRepo(pool)
	keyRepo := repository.NewAgentKeyRepo(pool)

	// Core
	queries := catalog.New(records, logger, m)
	mutations := gateway.New(records, logger,
		gateway.WithTimeout(cfg.QueryTimeout),
		gateway.WithRawStore(records),
		gateway.WithMetrics(m),
	)
	proposals := tasks.NewService(taskRepo, logger, m)
	notifier := notification.NewGateway(proposals, taskRepo, newProvider(cfg, logger), logger, m)

	compilerOpts := []reports.Option{reports.WithMetrics(m)}
	if cfg.MinIO.Enabled() {
		archive, err := newArchive(ctx, cfg.MinIO)
		if err != nil {
			logger.Warn("report archive disabled", "endpoint", cfg.MinIO.Endpoint, "error", err)
		} else {
			compilerOpts = append(compilerOpts, reports.WithArchive(archive))
		}
	}
	compiler := reports.NewCompiler(queries, logger, compilerOpts...)

	// Execution: the enqueue func is set after the River client exists.
	var insertMu sync.Mutex
	var insertFn approval.EnqueueFunc
	enqueue := func(ctx context.Context, tx pgx.Tx, args execution.ExecuteTaskArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	executor := execution.NewExecutor(taskRepo, mutations, notifier, logger, m)
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewExecuteTaskWorker(executor))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: logger,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args execution.ExecuteTaskArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	approvals := approval.NewService(pool, taskRepo, enqueue, logger, m)

	// HTTP
	validator, err := services.NewValidator()
	if err != nil {
		return fmt.Errorf("compile request schemas: %w", err)
	}
	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	staffAuth := middleware.StaffAuth(authSvc)

	mux := http.NewServeMux()
	mux.Handle("/api/", router.New(auth.NewHandler(authSvc, logger), dashboard.NewHandler(keyRepo, logger), staffAuth))

	agent := &handlers.AgentHandler{
		Catalog:   queries,
		Tasks:     proposals,
		Notifier:  notifier,
		Reports:   compiler,
		Validator: validator,
		Logger:    logger,
	}
	review := &handlers.ReviewHandler{Approvals: approvals, Validator: validator, Logger: logger}
	RegisterV1Routes(mux, agent, review, keyRepo, staffAuth, newLimiter(ctx, cfg, logger), m, logger)

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /healthz", healthz(pool))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	if err := riverClient.Start(riverCtx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		logger.Error("river stop", "error", err)
	}
	return nil
}

// RegisterV1Routes adds the agent and reviewer endpoints to mux.
// Agent chain: APIKeyAuth -> RateLimit -> handler. Reviewer chain: StaffAuth -> handler.
func RegisterV1Routes(
	mux *http.ServeMux,
	agent *handlers.AgentHandler,
	review *handlers.ReviewHandler,
	keys middleware.AgentKeyLookup,
	staffAuth func(http.Handler) http.Handler,
	limiter middleware.Limiter,
	m *metrics.Metrics,
	logger *slog.Logger,
) {
	apiKey := middleware.APIKeyAuth(keys, logger)
	limit := middleware.RateLimit(limiter, m, logger)
	agentRoute := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, m.Middleware(pattern, apiKey(limit(h))))
	}
	staffRoute := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, m.Middleware(pattern, staffAuth(h)))
	}

	agentRoute("GET /v1/queries", agent.ListQueries)
	agentRoute("POST /v1/queries/{name}", agent.ExecuteQuery)
	agentRoute("POST /v1/tasks", agent.CreateTask)
	agentRoute("POST /v1/tasks/whatsapp", agent.CreateWhatsAppTask)
	agentRoute("POST /v1/tasks/database-update", agent.CreateDatabaseUpdateTask)
	agentRoute("POST /v1/notifications/{channel}", agent.SendNotification)
	agentRoute("GET /v1/reports", agent.ListReportTypes)
	agentRoute("POST /v1/reports", agent.GenerateReport)

	staffRoute("GET /v1/review/tasks", review.ListTasks)
	staffRoute("GET /v1/review/tasks/{id}", review.GetTask)
	staffRoute("POST /v1/review/tasks/{id}/approve", review.Approve)
	staffRoute("POST /v1/review/tasks/{id}/reject", review.Reject)
}

func newProvider(cfg *config.Config, logger *slog.Logger) notification.Provider {
	if cfg.NotifyWebhookURL == "" {
		logger.Warn("NOTIFY_WEBHOOK_URL not set; approved notifications are logged, not delivered")
		return notification.NewLogProvider(logger)
	}
	return notification.NewWebhookProvider(cfg.NotifyWebhookURL, &http.Client{Timeout: 10 * time.Second})
}

func newLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) middleware.Limiter {
	if cfg.RedisURL == "" {
		return middleware.NewLocalLimiter(cfg.RateLimitPerMinute)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL; using in-process rate limiter", "error", err)
		return middleware.NewLocalLimiter(cfg.RateLimitPerMinute)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable; using in-process rate limiter", "error", err)
		_ = rdb.Close()
		return middleware.NewLocalLimiter(cfg.RateLimitPerMinute)
	}
	return middleware.NewRedisLimiter(rdb, cfg.RateLimitPerMinute)
}

func newArchive(ctx context.Context, c config.MinIOConfig) (*reports.ObjectArchive, error) {
	a, err := reports.NewObjectArchive(reports.MinIOConfig{
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Bucket:    c.Bucket,
		UseSSL:    c.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := a.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func healthz(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}
}
