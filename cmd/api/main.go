package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/kenichiro-kimura/thoughtlog/internal/cache"
	"github.com/kenichiro-kimura/thoughtlog/internal/config"
	"github.com/kenichiro-kimura/thoughtlog/internal/database"
	"github.com/kenichiro-kimura/thoughtlog/internal/github"
	"github.com/kenichiro-kimura/thoughtlog/internal/handler"
	"github.com/kenichiro-kimura/thoughtlog/internal/ledger"
	"github.com/kenichiro-kimura/thoughtlog/internal/logger"
	"github.com/kenichiro-kimura/thoughtlog/internal/queue"
	"github.com/kenichiro-kimura/thoughtlog/internal/refiner"
	"github.com/kenichiro-kimura/thoughtlog/internal/thoughts"
	"github.com/kenichiro-kimura/thoughtlog/internal/worker"
)

type application struct {
	DB      *pgxpool.Pool
	Logger  *zap.Logger
	Config  *config.Config
	Handler *handler.Handler
}

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, _ := logger.NewLogger(cfg.Env)
	defer log.Sync()
	sugar := log.Sugar()
	sugar.Infof("config loaded: %s", cfg)

	var pool *pgxpool.Pool
	var led ledger.Ledger = ledger.Disabled{}
	if cfg.LedgerEnabled() {
		pool, err = database.Connect(ctx, cfg.Ledger.DSN)
		if err != nil {
			sugar.Fatal(err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			sugar.Fatal(err)
		}
		store := ledger.NewStore(pool, cfg.Ledger.Retention)
		led = store
		go purgeLoop(ctx, store, cfg.Ledger.PurgeInterval, sugar)
	} else {
		sugar.Warn("no DATABASE_URL configured, idempotency ledger disabled")
	}

	tokens, err := github.NewAppTokenSource(
		cfg.GitHub.AppID, cfg.GitHub.InstallationID,
		cfg.GitHub.PrivateKey, cfg.GitHub.BaseURL, cfg.GitHub.TokenMargin,
	)
	if err != nil {
		sugar.Fatal(err)
	}
	tracker := github.NewClient(cfg.GitHub.Owner, cfg.GitHub.Repo, cfg.GitHub.BaseURL)

	var refineClient *refiner.Client
	if cfg.RefinerEnabled() {
		refineClient = refiner.NewClient(cfg.Refiner.APIKey, cfg.Refiner.Model, cfg.Refiner.Timeout)
	}

	var taskQueue *queue.Queue
	if cfg.QueueEnabled() {
		redisClient := cache.NewRedisClient(cfg.Queue)
		if err := cache.Ping(ctx, redisClient); err != nil {
			sugar.Fatal(err)
		}
		taskQueue = queue.New(redisClient, cfg.Queue.Key)
	} else {
		sugar.Warn("no REDIS_ADDR configured, voice refinement queue disabled")
	}

	opts := thoughts.Options{
		Owner:         cfg.GitHub.Owner,
		Repo:          cfg.GitHub.Repo,
		DefaultLabels: cfg.GitHub.Labels,
		Tokens:        tokens,
		Tracker:       tracker,
		Ledger:        led,
		Refiner:       refineClient,
		Logger:        sugar,
	}
	if taskQueue != nil {
		opts.Queue = taskQueue
	}
	service := thoughts.NewService(opts)

	if taskQueue != nil && refineClient != nil {
		go worker.New(taskQueue, service, sugar).Run(ctx)
	}

	app := &application{
		DB:     pool,
		Logger: log,
		Config: cfg,
		Handler: &handler.Handler{
			Logger:  log,
			Service: service,
		},
	}

	if err := app.serve(); err != nil {
		sugar.Fatal(err)
	}
}

func purgeLoop(ctx context.Context, store *ledger.Store, interval time.Duration, sugar *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				sugar.Errorw("ledger purge failed", "err", err)
			} else if n > 0 {
				sugar.Infow("purged expired ledger records", "count", n)
			}
		}
	}
}
