package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/db"
	"github.com/chatrelay/chatrelay/internal/handlers"
	"github.com/chatrelay/chatrelay/internal/lock"
	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/chatrelay/chatrelay/internal/message"
	"github.com/chatrelay/chatrelay/internal/pipeline"
	"github.com/chatrelay/chatrelay/internal/platform/wechat"
	"github.com/chatrelay/chatrelay/internal/prune"
	"github.com/chatrelay/chatrelay/internal/server"
	"github.com/chatrelay/chatrelay/internal/telemetry"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideRegistry,
			provideLocks,
			provideTelemetry,
			provideCodec,
			provideEnlightener,
			provideResponder,
			provideDispatcher,
			provideWebhookHandler,
			handlers.NewPingHandler,
			provideSweeper,
			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	return loadConfig()
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

// provideDBConn returns nil when Postgres is disabled; the registry and
// lock providers fall back to their in-process implementations.
func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if !cfg.Postgres.Enabled {
		return nil, nil
	}
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideRegistry(log *slog.Logger, cfg config.Config, conn *pgxpool.Pool) conversation.Registry {
	if conn != nil {
		return conversation.NewDBRegistry(log, conn, cfg.Pipeline.MaxRecordCount)
	}
	return conversation.NewMemoryRegistry(cfg.Pipeline.MaxRecordCount)
}

func provideLocks(log *slog.Logger, conn *pgxpool.Pool) lock.Gateway {
	if conn != nil {
		return lock.NewPGGateway(log, conn)
	}
	return lock.NewLocalGateway()
}

func provideTelemetry(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) telemetry.Sink {
	hub := telemetry.NewHub(log, cfg.Pipeline.TelemetryQueue)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { hub.Close(); return nil }})
	return hub
}

func provideCodec(cfg config.Config) (*wechat.Codec, error) {
	return wechat.NewCodec(cfg.WeChat.AppID, cfg.WeChat.Token, cfg.WeChat.EncodingAESKey)
}

func provideEnlightener() message.Enlightener {
	return wechat.Enlightener{}
}

func provideResponder(cfg config.Config) pipeline.ResponseBuilder {
	return wechat.EchoResponder{Welcome: cfg.WeChat.Welcome}
}

func provideDispatcher(
	log *slog.Logger,
	cfg config.Config,
	registry conversation.Registry,
	locks lock.Gateway,
	enlightener message.Enlightener,
	builder pipeline.ResponseBuilder,
	codec *wechat.Codec,
	sink telemetry.Sink,
) *pipeline.Dispatcher {
	opts := pipeline.Options{}
	opts.Dedup.OmitRepeatedMessage = cfg.Pipeline.OmitRepeated()
	return pipeline.NewDispatcher(log, registry, locks, enlightener, builder, codec, sink, opts)
}

func provideWebhookHandler(log *slog.Logger, codec *wechat.Codec, dispatcher *pipeline.Dispatcher) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, codec, dispatcher)
}

func provideSweeper(log *slog.Logger, cfg config.Config, registry conversation.Registry) (*prune.Sweeper, error) {
	ttl, err := cfg.Pipeline.TTL()
	if err != nil {
		return nil, err
	}
	return prune.NewSweeper(log, registry, ttl, cfg.Pipeline.SweepSchedule), nil
}

func provideServer(cfg config.Config, pingHandler *handlers.PingHandler, webhookHandler *handlers.WebhookHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, pingHandler, webhookHandler)
}

func startSweeper(lc fx.Lifecycle, sweeper *prune.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return sweeper.Start() },
		OnStop:  func(ctx context.Context) error { return sweeper.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
