// Command querycache runs the dashboard data layer as a process: it keeps the
// notification feed polled and fresh, evicts cached responses when the
// backend announces changes, and exposes health and cache admin endpoints.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-querycache/pkg/api"
	"github.com/illmade-knight/go-querycache/pkg/config"
	"github.com/illmade-knight/go-querycache/pkg/fingerprint"
	"github.com/illmade-knight/go-querycache/pkg/invalidation"
	"github.com/illmade-knight/go-querycache/pkg/microservice"
	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "querycache").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration.")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info.")
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("querycache exited with error.")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	client, err := query.NewClient(cfg.ClientConfig(), store, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close cache store.")
		}
	}()

	backend, err := api.NewClient(cfg.APIConfig(), nil, logger)
	if err != nil {
		return err
	}

	if cfg.InvalidationSubscription != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return err
		}
		defer psClient.Close()

		listenerCfg := invalidation.NewListenerDefaults(cfg.InvalidationSubscription)
		listenerCfg.Pattern = api.InvalidationPattern
		listener, err := invalidation.NewListener(listenerCfg, psClient, client, logger)
		if err != nil {
			return err
		}
		if err := listener.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = listener.Stop(stopCtx)
		}()
	}

	server, err := microservice.NewCacheServer(client, cfg.HTTPPort, logger)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	closeFeed, err := watchNotifications(ctx, client, backend, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFeed()

	logger.Info().Str("store", cfg.Store).Str("http_port", server.Port()).Msg("querycache running.")
	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")
	return nil
}

// watchNotifications keeps the first page of unread notifications polled.
func watchNotifications(ctx context.Context, client *query.Client, backend *api.Client, cfg *config.Config, logger zerolog.Logger) (func(), error) {
	pageSize := cfg.PageSizeClamped()
	firstPage := func(ctx context.Context, params fingerprint.Params) ([]api.Notification, error) {
		return backend.Notifications(ctx, params, 1, pageSize)
	}

	feed, err := query.NewQuery(ctx, client, api.OpListNotifications, firstPage,
		fingerprint.Params{"read": false, "page": 1, "pageSize": pageSize}, query.QueryOptions{})
	if err != nil {
		return nil, err
	}
	feed.Subscribe(func(s query.FetchState[[]api.Notification]) {
		switch {
		case s.Loading:
		case s.Err != nil:
			logger.Warn().Err(s.Err).Msg("Notification feed refresh failed.")
		case s.HasData:
			logger.Info().Int("unread", len(s.Data)).Time("fetched_at", s.LastFetchedAt).Msg("Notification feed refreshed.")
		}
	})

	poller, err := query.NewPoller(feed, cfg.PollInterval, true)
	if err != nil {
		feed.Close()
		return nil, err
	}
	feed.Refetch(false)

	return func() {
		poller.Close()
		feed.Close()
	}, nil
}
