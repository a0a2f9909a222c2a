package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"musicy-stream/internal/platform/config"
	"musicy-stream/internal/platform/logger"
	"musicy-stream/internal/platform/metrics"
	"musicy-stream/internal/provider"
	"musicy-stream/internal/streaming"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the preload workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	eps, err := loadEndpoints(cfg, log)
	if err != nil {
		return err
	}

	upstream, err := streaming.NewUpstream(upstreamOptions(cfg))
	if err != nil {
		return err
	}
	adapters, err := provider.NewSet(eps, upstream.Client())
	if err != nil {
		return err
	}
	strategy, err := streaming.NewStrategy(streaming.Mode(cfg.Strategy))
	if err != nil {
		return err
	}
	store, err := streaming.NewLRUStore(cfg.CacheSize)
	if err != nil {
		return fmt.Errorf("create cache store: %w", err)
	}

	met := metrics.New()
	cache := streaming.NewURLCacheWithStore(store, cfg.CacheTTL, cfg.ExpiryMargin)
	resolver := streaming.NewResolver(adapters, strategy, cache, streaming.ResolverOptions{
		Deadline: cfg.ResolveDeadline,
		Validator: streaming.Validator{
			AllowPrivate: cfg.AllowPrivate,
			MediaHosts:   cfg.MediaHosts,
		},
	}, log, met)
	preloader := streaming.NewPreloader(resolver, cfg.PreloadWorkers, cfg.PreloadQueueSize, log, met)
	h := streaming.NewHandler(streaming.NewService(resolver, upstream, log), preloader, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetCacheEntries(resolver.CacheLen())
			met.SetPreloadQueueDepth(preloader.QueueDepth())
		}).ServeHTTP(w, r)
	})
	h.Register(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return preloader.Run(gCtx)
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownAfter)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("server starting",
		slog.String("port", cfg.Port),
		slog.String("strategy", cfg.Strategy),
		slog.Int("providers", len(adapters)),
		slog.Duration("cache_ttl", cfg.CacheTTL),
		slog.String("log_level", cfg.LogLevel),
	)

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", slog.String("error", err.Error()))
		return err
	}
	log.Info("server stopped")
	return nil
}

func upstreamOptions(cfg config.Config) streaming.UpstreamOptions {
	return streaming.UpstreamOptions{
		HeaderTimeout: cfg.UpstreamHeaderTimeout,
		IdleTimeout:   cfg.UpstreamIdleTimeout,
		ProxyURL:      cfg.UpstreamProxy,
		UserAgent:     cfg.UserAgent,
		Referer:       cfg.Referer,
	}
}
