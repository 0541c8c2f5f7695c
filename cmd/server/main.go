package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"social-connect/internal/config"
	"social-connect/internal/connect"
	"social-connect/internal/graph"
	httpserver "social-connect/internal/http"
	"social-connect/internal/queue"
	"social-connect/internal/queue/worker"
	"social-connect/internal/repo"
	"social-connect/internal/service"
	"social-connect/internal/store"
)

func mustPGPool(dsn string) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("pgx connect: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("pgx ping: %v", err)
	}
	return pool
}

func mustLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsProd() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	return logger
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := mustLogger(cfg)
	defer logger.Sync()

	// Redis (token cache)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	kv := store.NewRedisStore(rdb)

	// PG
	pg := mustPGPool(cfg.DatabaseURL)
	defer pg.Close()

	accounts := repo.NewAccountRepo(pg)
	lookup := repo.NewTokenLookup(kv, accounts)

	// Graph API
	graphClient := graph.NewClient(cfg.MetaAppID, cfg.MetaAppSecret, cfg.MetaRedirectURI, cfg.GraphAPIVersion)

	connectSvc := connect.NewService(graphClient, accounts, logger, !cfg.IsProd())
	refreshSvc := service.NewRefreshService(graphClient, accounts, lookup, logger)

	// Asynq
	asynqOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPassword,
		DB:       cfg.AsynqRedisDB,
	}
	asynqClient := asynq.NewClient(asynqOpt)
	defer asynqClient.Close()

	scheduler := service.NewScheduler(accounts, queue.NewRefreshEnqueuer(asynqClient), cfg.RefreshThresholdDays, logger)

	// Worker (consumer)
	srv := asynq.NewServer(asynqOpt, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			queue.QueueDefault: 5,
		},
	})
	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, worker.NewRefreshWorker(refreshSvc, logger))

	go func() {
		if err := srv.Run(mux); err != nil {
			logger.Fatal("asynq server error", zap.Error(err))
		}
	}()

	// Refresh cron
	cr := cron.New()
	if _, err := cr.AddFunc(cfg.RefreshCronSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := scheduler.RunPass(ctx); err != nil {
			logger.Error("scheduled refresh pass", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("register refresh cron", zap.String("spec", cfg.RefreshCronSpec), zap.Error(err))
	}
	cr.Start()

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	handler := httpserver.NewAccountHandler(connectSvc, accounts, lookup, scheduler, logger)
	handler.Register(e)

	s := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.AppEnv))
		if err := e.StartServer(s); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	// Shutdown on signal: stop cron, drain worker, close HTTP.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	cronCtx := cr.Stop()
	<-cronCtx.Done()
	srv.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}
