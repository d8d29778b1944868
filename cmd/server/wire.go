package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/yokitheyo/diagramq/internal/api"
	"github.com/yokitheyo/diagramq/internal/config"
	"github.com/yokitheyo/diagramq/internal/engine"
	"github.com/yokitheyo/diagramq/internal/logging"
	"github.com/yokitheyo/diagramq/internal/queue"
	"github.com/yokitheyo/diagramq/internal/relay"
	"github.com/yokitheyo/diagramq/internal/retention"
	"github.com/yokitheyo/diagramq/internal/store"
	"github.com/yokitheyo/diagramq/internal/taskmgr"
	"github.com/yokitheyo/diagramq/internal/worker"
)

type backends struct {
	store  store.Store
	queue  queue.Queue
	redis  *redis.Client
	memory *store.MemoryStore
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	if cfg.Broker.Backend == config.BackendMemory {
		logger.Warn("using in-memory backend, tasks are lost on restart")
		ms := store.NewMemoryStore()
		return &backends{
			store:  ms,
			queue:  queue.NewMemoryQueue(cfg.Broker.QueueSize),
			memory: ms,
		}, nil
	}

	opts, err := redis.ParseURL(cfg.Broker.URL)
	if err != nil {
		return nil, fmt.Errorf("broker.url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis at %s: %w", store.ErrUnavailable, opts.Addr, err)
	}
	logger.Info("connected to redis", "addr", opts.Addr, "db", opts.DB)

	consumer := cfg.Worker.Consumer
	if consumer == "" {
		consumer, _ = os.Hostname()
	}
	return &backends{
		store: store.NewRedisStore(client, store.RedisOptions{
			KeyPrefix: cfg.Broker.KeyPrefix,
			TTL:       cfg.Broker.ResultTTL,
		}),
		queue: queue.NewRedisQueue(client, queue.RedisOptions{
			Key:       cfg.Broker.QueueKey,
			Consumer:  consumer,
			MaxLength: int64(cfg.Broker.QueueSize),
		}),
		redis: client,
	}, nil
}

func (b *backends) Close() {
	_ = b.queue.Close()
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	backends *backends
}

// run starts the parts of the service selected by r and blocks until ctx is
// done or the HTTP server fails, then shuts everything down within
// server.shutdown_timeout.
func (a *app) run(ctx context.Context, r role) error {
	var dispatcher *worker.Dispatcher
	if r.workers {
		d, err := a.startWorkers(ctx)
		if err != nil {
			return err
		}
		dispatcher = d
	}

	if a.backends.memory != nil {
		go retention.Run(ctx, a.backends.memory, a.cfg.Retention.Interval, a.cfg.Retention.MaxAge,
			a.logger.With("component", "retention"))
	}

	var srv *http.Server
	errCh := make(chan error, 1)
	if r.http {
		srv = a.newHTTPServer()
		go func() {
			a.logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("http server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown", "error", err)
		}
	}
	if dispatcher != nil {
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("in-flight jobs were cancelled", "error", err)
		}
	}
	a.logger.Info("stopped")
	return runErr
}

func (a *app) startWorkers(ctx context.Context) (*worker.Dispatcher, error) {
	cfg := a.cfg
	adapter, err := engine.AdapterFor(cfg.Engine.Family)
	if err != nil {
		return nil, err
	}
	eng := engine.NewOllamaEngine(engine.OllamaConfig{
		BaseURL: cfg.Engine.URL,
		Model:   cfg.Engine.Model,
		Token:   cfg.Engine.Token,
	})
	if !eng.Ready(ctx) {
		a.logger.Warn("engine not ready yet, jobs will fail until it is", "url", cfg.Engine.URL, "model", cfg.Engine.Model)
	}

	policy := worker.DefaultPolicy(adapter.Family())
	if cfg.Worker.ProgressEvery > 0 {
		policy.Every = cfg.Worker.ProgressEvery
	}
	w, err := worker.New(a.backends.store, eng, adapter, worker.Config{
		Policy:      policy,
		Language:    cfg.Extract.Language,
		MaxTokens:   cfg.Engine.MaxTokens,
		Temperature: cfg.Engine.Temperature,
	}, a.logger.With("component", "worker"))
	if err != nil {
		return nil, err
	}

	if rq, ok := a.backends.queue.(*queue.RedisQueue); ok {
		n, err := rq.Recover(ctx)
		if err != nil {
			return nil, fmt.Errorf("recover unacknowledged jobs: %w", err)
		}
		if n > 0 {
			a.logger.Warn("requeued jobs left by a previous run", "count", n)
		}
	}

	d, err := worker.NewDispatcher(a.backends.queue, w, cfg.Worker.Concurrency, a.logger.With("component", "dispatcher"))
	if err != nil {
		return nil, err
	}
	d.Start(ctx)
	a.logger.Info("workers started", "engine", adapter.Family(), "model", cfg.Engine.Model, "concurrency", cfg.Worker.Concurrency)
	return d, nil
}

func (a *app) newHTTPServer() *http.Server {
	cfg := a.cfg
	st, q := a.backends.store, a.backends.queue

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(a.logger.With("component", "http")))

	tm := taskmgr.NewTaskManager(st, q, a.logger.With("component", "gateway"))
	rl := relay.New(st, relay.Config{
		Interval:      cfg.Relay.Interval,
		MaxFailures:   cfg.Relay.MaxFailures,
		NotFoundLimit: cfg.Relay.NotFoundLimit,
	}, a.logger.With("component", "relay"))
	api.RegisterHandlers(r, tm, rl, a.logger.With("component", "api"))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
