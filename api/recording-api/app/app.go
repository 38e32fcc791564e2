// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package recording_app wires the recording engine into a running service.
package recording_app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	recording_api "github.com/rapidaai/recorder/api/recording-api/api"
	"github.com/rapidaai/recorder/api/recording-api/config"
	internal_autojoin "github.com/rapidaai/recorder/api/recording-api/internal/autojoin"
	internal_manager "github.com/rapidaai/recorder/api/recording-api/internal/manager"
	internal_redis "github.com/rapidaai/recorder/api/recording-api/internal/redis"
	internal_session "github.com/rapidaai/recorder/api/recording-api/internal/session"
	internal_store "github.com/rapidaai/recorder/api/recording-api/internal/store"
	internal_transcoder "github.com/rapidaai/recorder/api/recording-api/internal/transcoder"
	transport_discord "github.com/rapidaai/recorder/api/recording-api/internal/transport/discord"
	transport_memory "github.com/rapidaai/recorder/api/recording-api/internal/transport/memory"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	internal_webhook "github.com/rapidaai/recorder/api/recording-api/internal/webhook"
	recording_routers "github.com/rapidaai/recorder/api/recording-api/router"
	"github.com/rapidaai/recorder/pkg/commons"
)

const shutdownTimeout = 30 * time.Second

// voiceSource is a transport that also reports voice membership.
type voiceSource interface {
	internal_type.VoiceTransport
	internal_type.ChannelView
	Changes() <-chan internal_type.MembershipChange
}

type App struct {
	cfg    *config.AppConfig
	logger commons.Logger

	store       *internal_store.Store
	source      voiceSource
	manager     *internal_manager.Manager
	coordinator *internal_autojoin.Coordinator
	server      *http.Server

	closers []func() error
}

// New opens every dependency and builds the service. Close releases what
// New opened when Run is never called.
func New(ctx context.Context, cfg *config.AppConfig, logger commons.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	db, err := internal_store.Open(cfg.DatabaseConfig.Driver, cfg.DatabaseConfig.DSN,
		cfg.DatabaseConfig.MaxOpenConnection, cfg.DatabaseConfig.MaxIdealConnection)
	if err != nil {
		return nil, err
	}
	a.store = internal_store.New(logger, db)
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if err := a.store.Migrate(ctx); err != nil {
		return nil, err
	}

	converter, err := internal_transcoder.New(logger, cfg.TranscoderConfig.Mode, cfg.TranscoderConfig.Path)
	if err != nil {
		return nil, err
	}

	opts := []internal_manager.Option{
		internal_manager.WithSettings(a.store),
		internal_manager.WithArchive(a.store),
	}

	if cfg.DiscordConfig.Token != "" {
		discord, err := transport_discord.New(logger, cfg.DiscordConfig.Token)
		if err != nil {
			return nil, err
		}
		if err := discord.Open(); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, discord.Close)
		a.source = discord

		templates, err := transport_discord.ParseTemplates(cfg.DiscordConfig.StartTemplate,
			cfg.DiscordConfig.StopTemplate, cfg.DiscordConfig.FailedTemplate)
		if err != nil {
			return nil, err
		}
		opts = append(opts, internal_manager.WithEventSink(discord.Notifier(a.store, templates)))
	} else {
		logger.Warnw("no discord token configured, using the in-memory voice transport")
		a.source = transport_memory.New()
	}

	if cfg.RedisConfig.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		opts = append(opts,
			internal_manager.WithEventSink(internal_redis.NewEventPublisher(client, logger, cfg.RedisConfig.Channel)),
			internal_manager.WithGroupLock(internal_redis.NewGroupLease(client, logger, internal_redis.DefaultLeaseTTL)),
		)
	}

	if cfg.WebhookConfig.URL != "" {
		opts = append(opts, internal_manager.WithEventSink(internal_webhook.New(logger,
			cfg.WebhookConfig.URL, cfg.WebhookConfig.Timeout, cfg.WebhookConfig.RetryCount)))
	}

	defaults := cfg.RecordingConfig.Options()
	if err := defaults.Validate(a.source.Capabilities()); err != nil {
		return nil, fmt.Errorf("invalid recording defaults: %w", err)
	}

	a.manager = internal_manager.New(logger, a.source, converter, internal_manager.Config{
		Defaults: defaults,
		Session: internal_session.Config{
			ConnectTimeout:    cfg.TimeoutConfig.Connect,
			ReconnectWindow:   cfg.TimeoutConfig.Reconnect,
			ConversionTimeout: cfg.TimeoutConfig.Conversion,
		},
	}, opts...)
	a.coordinator = internal_autojoin.NewCoordinator(logger, a.manager, a.store, a.source)

	engine := recording_routers.NewEngine(cfg, logger)
	recording_routers.HealthCheckRoutes(cfg, engine, logger, a.store)
	recording_routers.RecordingApiRoute(cfg, engine, logger,
		recording_api.NewRecordingApi(cfg, logger, a.manager, a.store, a.coordinator))

	a.server = &http.Server{
		Addr:              cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// Run serves http and auto-join until ctx is done, then stops every session
// so recordings are finalized before the process exits.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Infow("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.coordinator.Run(gctx, a.source.Changes())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Infow("shutting down", "active", len(a.manager.ListActive()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := a.manager.StopAll(shutdownCtx)
		return multierr.Append(err, a.server.Shutdown(shutdownCtx))
	})

	err := g.Wait()
	return multierr.Append(err, a.Close())
}

// Close releases the transport, redis and database in reverse order.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
