// Package app assembles the funnelbot runtime: storage, settings, the
// postback receiver and the Telegram bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/funnelbot/core/bootstrap"
	corecmd "github.com/m3rciful/funnelbot/core/cmd"
	"github.com/m3rciful/funnelbot/core/logger"
	tg "github.com/m3rciful/funnelbot/core/telegram"
	"github.com/m3rciful/funnelbot/core/telegram/middleware"
	"github.com/m3rciful/funnelbot/core/telegram/router"
	tgsender "github.com/m3rciful/funnelbot/core/telegram/sender"
	"github.com/m3rciful/funnelbot/funnel/bot"
	"github.com/m3rciful/funnelbot/funnel/config"
	"github.com/m3rciful/funnelbot/funnel/metrics"
	"github.com/m3rciful/funnelbot/funnel/postback"
	"github.com/m3rciful/funnelbot/funnel/repository"
	"github.com/m3rciful/funnelbot/funnel/screens"
	"github.com/m3rciful/funnelbot/funnel/settings"
	"github.com/m3rciful/funnelbot/funnel/web"
)

const dbWaitTimeout = 30 * time.Second

// App holds the wired services.
type App struct {
	cfg *config.Config
	db  *sqlx.DB

	store      repository.Store
	settings   *settings.Provider
	metrics    *metrics.Metrics
	bot        *tele.Bot
	dispatcher *tgsender.Dispatcher
	limiter    *middleware.RedisLimiter
	registry   *tg.Registry
	http       *web.Handler
}

// Bootstrap connects storage, loads settings and builds the bot.
func Bootstrap(ctx context.Context, carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*config.Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:      &cfg.Config,
		Database:    cfg.Database,
		WaitTimeout: dbWaitTimeout,
	})
	if err != nil {
		return nil, err
	}
	a, err := build(ctx, cfg, res.DB)
	if err != nil {
		_ = res.DB.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, db *sqlx.DB) (*App, error) {
	a := &App{cfg: cfg, db: db, metrics: metrics.New()}
	a.store = repository.NewPostgres(db)

	a.settings = settings.NewProvider(a.store, cfg.Funnel)
	if _, err := a.settings.Load(ctx); err != nil {
		return nil, err
	}

	if cfg.Redis.URL != "" {
		lim, err := middleware.NewRedisLimiter(cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			return nil, fmt.Errorf("app: redis limiter: %w", err)
		}
		if err := lim.Ping(ctx); err != nil {
			_ = lim.Close()
			return nil, fmt.Errorf("app: redis ping: %w", err)
		}
		a.limiter = lim
	}

	b, err := tg.NewBot(&cfg.Config)
	if err != nil {
		a.closeLimiter()
		return nil, err
	}
	a.bot = b
	a.dispatcher = tgsender.NewDispatcher(tgsender.Options{
		MaxRetries: 2,
		OnResult:   a.metrics.ObserveJob,
	})

	pusher := screens.NewPusher(a.store, a.settings, b, a.metrics)
	a.registry = tg.NewRegistry()
	handlers := bot.New(bot.Deps{
		Store:           a.store,
		Settings:        a.settings,
		Pusher:          pusher,
		Subscription:    screens.NewSubscriptionChecker(a.store, a.settings, b),
		IsAdmin:         cfg.Telegram.IsAdmin,
		DefaultLang:     cfg.Funnel.DefaultLang,
		PostbackBaseURL: cfg.HTTP.PostbackBaseURL(),
		PostbackSecret:  cfg.HTTP.Secret,
	})
	if err := handlers.Register(a.registry); err != nil {
		a.dispatcher.Close()
		a.closeLimiter()
		return nil, err
	}

	a.http = web.NewHandler(web.Options{
		Secret:   cfg.HTTP.Secret,
		Pipeline: postback.NewPipeline(a.store),
		Config:   a.settings,
		Notifier: NewNotifier(a.dispatcher, pusher, b, cfg.Funnel.PostbackChannelID),
		Metrics:  a.metrics,
		Ready:    a.ready,
	})

	logger.LogEvent(ctx, logger.TWire, slog.LevelInfo, "app.built",
		slog.Int64("settings_version", a.settings.Current().Version),
		slog.Bool("redis_limiter", a.limiter != nil),
		slog.Int("callbacks", len(a.registry.ListCallbacks())),
	)
	return a, nil
}

// TelegramRunOptions implements corecmd.TelegramApp.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	mwOpts := tg.MiddlewareOptions{
		OnLimited: func(tele.Context) error {
			a.metrics.RateLimited.Inc()
			return nil
		},
		OnUpdate: func(kind string) { a.metrics.Updates.WithLabelValues(kind).Inc() },
	}
	if a.limiter != nil {
		mwOpts.Limiter = a.limiter
	}

	routes := router.CommandRoutes(a.registry, router.CommandRouteOptions{IsAdmin: a.cfg.Telegram.IsAdmin})
	routes = append(routes, router.CallbackRoute(a.registry, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(a.registry, router.TextOptions{})...)

	return tg.RunOptions{
		Config:      &a.cfg.Config,
		Bot:         a.bot,
		Registry:    a.registry,
		Dispatcher:  a.dispatcher,
		Middlewares: tg.DefaultMiddlewares(&a.cfg.Config, mwOpts),
		Routes:      routes,
	}, nil
}

// Services implements corecmd.ServiceApp.
func (a *App) Services() []corecmd.Service {
	shutdown := time.Duration(a.cfg.HTTP.ShutdownTimeoutSeconds) * time.Second
	reload := time.Duration(a.cfg.Funnel.ReloadSeconds) * time.Second
	return []corecmd.Service{
		{Name: "http", Run: func(ctx context.Context) error {
			return web.Serve(ctx, a.cfg.HTTP.Listen, a.http, shutdown)
		}},
		{Name: "settings", Run: func(ctx context.Context) error {
			return a.settings.Watch(ctx, reload)
		}},
	}
}

func (a *App) ready(ctx context.Context) error {
	var errs []error
	if err := a.db.PingContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("db: %w", err))
	}
	if a.limiter != nil {
		if err := a.limiter.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases storage after the bot and every service stopped.
func (a *App) Close() error {
	a.closeLimiter()
	if err := a.db.Close(); err != nil {
		logger.LogEvent(context.Background(), logger.DB, slog.LevelWarn, "db.close", slog.String("err", err.Error()))
		return err
	}
	return nil
}

func (a *App) closeLimiter() {
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
}
