package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"task-manager/internal/cache"
	"task-manager/internal/config"
	"task-manager/internal/controller"
	"task-manager/internal/database"
	"task-manager/internal/queue"
	"task-manager/internal/repository"
	"task-manager/internal/routes"
	"task-manager/internal/service"
	"task-manager/internal/worker"
	"task-manager/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

// app holds the long-lived resources main owns.
type app struct {
	cfg       *config.Config
	store     repository.TaskStore
	redis     *redis.Client
	gateway   *cache.Gateway
	scheduler queue.Scheduler
	consumer  queue.Consumer
	closers   []func() error
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	ctx := context.Background()
	cfg, err := config.Get()
	if err != nil {
		logger.Error(ctx, "Configuration invalid", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	a, err := build(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "Startup failed", "error", err)
		os.Exit(1)
	}

	query := service.NewQueryService(a.store, a.gateway, time.Now)
	mutation := service.NewMutationService(a.store, a.gateway, a.scheduler,
		service.WithPurgeDelay(cfg.PurgeDelay),
		service.WithLocation(cfg.Location()))

	readiness := map[string]controller.Pinger{"database": a.store, "cache": a.gateway}
	if a.redis != nil {
		readiness["redis"] = redisPinger{a.redis}
	}
	server := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: routes.Router(routes.Deps{
			Tasks:     controller.NewTaskController(query, mutation, time.Now),
			Cache:     a.gateway,
			Readiness: readiness,
			JWTSecret: cfg.JWTSecret,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	runCtx, stop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logger.Info(ctx, "HTTP server listening", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.consumer.Run(gctx, worker.NewPurger(a.store, a.gateway))
	})
	go func() {
		if err := g.Wait(); err != nil {
			logger.Error(ctx, "Component stopped", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, shutdownTimeout, map[string]gfshutdown.Operation{
		"http-server": func(ctx context.Context) error {
			logger.Info(ctx, "Shutting down server")
			return server.Shutdown(ctx)
		},
		"purge-consumer": func(ctx context.Context) error {
			stop()
			return nil
		},
	})
	exitCode := <-wait
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Error(ctx, "Close failed", "error", err)
		}
	}
	logger.Info(ctx, "Server stopped", "exit_code", exitCode)
	os.Exit(exitCode)
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	switch cfg.DBDriver {
	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath, time.Now)
		if err != nil {
			return nil, err
		}
		store, err := repository.NewGormStore(db)
		if err != nil {
			return nil, err
		}
		a.store = store
	default:
		db, err := database.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db); err != nil {
			return nil, err
		}
		a.store = repository.NewPostgresStore(db, time.Now)
		a.closers = append(a.closers, db.Close)
	}

	if cfg.CacheDriver == config.DriverRedis || cfg.QueueDriver == config.DriverRedis {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPoolSize)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
	}

	var backend cache.Backend
	switch cfg.CacheDriver {
	case config.DriverKV:
		kv, err := cache.NewKVStore(cfg.RedisURL, cfg.RedisPoolSize)
		if err != nil {
			return nil, err
		}
		backend = cache.NewFlushBackend(kv, cfg.CachePrefix)
		a.closers = append(a.closers, backend.Close)
	default:
		backend = cache.NewTaggedBackend(a.redis, cfg.CachePrefix, cfg.CacheTTLDuration())
	}
	a.gateway = cache.New(backend, cache.WithTTL(cfg.CacheTTLDuration()))
	logger.Info(ctx, "Cache ready", "driver", cfg.CacheDriver, "tags", backend.SupportsTags())

	retry := queue.RetryPolicy{MaxAttempts: cfg.PurgeMaxAttempts, Backoff: cfg.PurgeRetryBackoff}
	switch cfg.QueueDriver {
	case config.DriverKafka:
		queue.EnsureTopic(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaPartitions)
		q := queue.NewKafkaDelayQueue(cfg.KafkaBrokers, cfg.KafkaTopic, retry)
		a.scheduler, a.consumer = q, q
		a.closers = append(a.closers, q.Close)
	default:
		q := queue.NewRedisDelayQueue(a.redis, retry,
			queue.WithRedisKey(cfg.PurgeQueueKey),
			queue.WithPollInterval(cfg.PurgePollInterval))
		a.scheduler, a.consumer = q, q
	}
	return a, nil
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }
