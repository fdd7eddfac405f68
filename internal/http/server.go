package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ignatij/flowplan/internal/config"
	"github.com/ignatij/flowplan/internal/log"
	"github.com/ignatij/flowplan/pkg/compiler"
	"github.com/ignatij/flowplan/pkg/service"
	"github.com/ignatij/flowplan/pkg/storage"
	"github.com/ignatij/flowplan/pkg/tokens"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

// NewTokenCache builds the configured webhook test token backend. The returned
// stop function releases it.
func NewTokenCache(ctx context.Context, cfg config.Config) (service.TokenCache, func(), error) {
	if cfg.Tokens.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return tokens.NewRedisCache(client), func() { client.Close() }, nil
	}
	cache := tokens.NewCache()
	cache.Start(ctx)
	return cache, cache.Stop, nil
}

// NewDispatcher builds the dispatcher with the HTTP render client from cfg.
func NewDispatcher(cfg config.Config, store storage.Store) *service.Dispatcher {
	backend := service.NewRenderClient(service.RenderClientConfig{
		BaseURL:   cfg.Render.BaseURL,
		APIKey:    cfg.Render.APIKey,
		Timeout:   cfg.Render.Timeout,
		RateLimit: cfg.Render.RateLimit,
		Burst:     cfg.Render.Burst,
	})
	return service.NewDispatcher(store, backend, log.GetLogger(), service.DispatcherConfig{
		Workers:    cfg.Dispatch.Workers,
		StaleAfter: cfg.Dispatch.StaleAfter,
	})
}

// StartServer serves the API until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, cfg config.Config, store storage.Store) error {
	logger := log.GetLogger()

	cache, stopCache, err := NewTokenCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopCache()

	dispatcher := NewDispatcher(cfg, store)
	mux := NewMux(Services{
		Workflows:    service.NewWorkflowService(store, compiler.New(), logger),
		Plans:        service.NewPlanService(store, logger),
		Webhooks:     service.NewWebhookTestService(store, cache, cfg.Server.BaseURL, logger),
		Dispatcher:   dispatcher,
		DispatchSize: cfg.Dispatch.Limit,
	})

	if cfg.Dispatch.Interval > 0 {
		go RunDispatchLoop(ctx, dispatcher, cfg.Dispatch.Interval, cfg.Dispatch.Limit)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting flowplan server on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Infof("Shutting down flowplan server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// RunDispatchLoop runs a dispatch batch every interval until ctx is done.
// A failed batch is logged and the loop keeps going.
func RunDispatchLoop(ctx context.Context, d *service.Dispatcher, interval time.Duration, limit int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DispatchBatch(ctx, limit); err != nil {
				log.GetLogger().Errorf("Scheduled dispatch failed: %v", err)
			}
		}
	}
}
