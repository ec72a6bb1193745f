// Package cmd wires configuration loading, bootstrap and the long-running
// services of a bot binary.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	coreconfig "github.com/m3rciful/funnelbot/core/config"
	"github.com/m3rciful/funnelbot/core/logger"
	coretelegram "github.com/m3rciful/funnelbot/core/telegram"
)

// ConfigCarrier exposes access to the embedded core configuration.
type ConfigCarrier interface {
	CoreConfig() *coreconfig.Config
}

// TelegramApp is the minimal interface required to run a Telegram bot.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
}

// Service is a long-running task that stops when ctx is done.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

// ServiceApp is implemented by apps that run more than the bot.
type ServiceApp interface {
	Services() []Service
}

// Options describe how to load configuration, bootstrap the app, and run the bot.
type Options struct {
	// ConfigPath wins over ConfigEnvVar and DefaultConfigPath.
	ConfigPath        string
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (ConfigCarrier, error)
	Bootstrap  func(ctx context.Context, cfg ConfigCarrier) (TelegramApp, error)

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
}

// ResolveConfigPath picks the explicit path, then the env var, then the default.
func ResolveConfigPath(explicit, envVar, def string) (string, error) {
	if envVar == "" {
		envVar = "CONFIG_PATH"
	}
	for _, p := range []string{explicit, os.Getenv(envVar), def} {
		if p != "" {
			return p, nil
		}
	}
	return "", fmt.Errorf("cmd: config path not provided via flag, %s or default", envVar)
}

// Run loads configuration, bootstraps the app and runs the bot together
// with the app services until a signal arrives or one of them fails.
func Run(opts Options) error {
	if opts.LoadConfig == nil {
		return fmt.Errorf("cmd: LoadConfig is required")
	}
	if opts.Bootstrap == nil {
		return fmt.Errorf("cmd: Bootstrap is required")
	}

	cfgPath, err := ResolveConfigPath(opts.ConfigPath, opts.ConfigEnvVar, opts.DefaultConfigPath)
	if err != nil {
		return err
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := opts.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}
	if cfg.CoreConfig() == nil {
		return fmt.Errorf("cmd: loaded config is missing core configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startedAt := time.Now()
	application, err := opts.Bootstrap(ctx, cfg)

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	runOpts, err := application.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options build failed: %w", err)
	}

	runOpts = withLifecycleLogs(runOpts, startedAt)

	run := opts.RunTelegram
	if run == nil {
		run = coretelegram.RunTelegram
	}

	if c, ok := application.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				log.Printf("app close error: %v", err)
			}
		}()
	}

	var services []Service
	if sa, ok := application.(ServiceApp); ok {
		services = sa.Services()
	}
	return runAll(ctx, func(ctx context.Context) error { return run(ctx, runOpts) }, services)
}

// withLifecycleLogs chains the ready and shutdown lines onto the app hooks.
func withLifecycleLogs(ro coretelegram.RunOptions, startedAt time.Time) coretelegram.RunOptions {
	onStart, onStop := ro.OnStart, ro.OnStop
	ro.OnStart = func(ctx context.Context, rt coretelegram.Runtime) error {
		if onStart != nil {
			if err := onStart(ctx, rt); err != nil {
				return err
			}
		}
		logger.Info(ctx, "app", "ready", slog.Duration("startup_duration", logger.Took(startedAt)))
		return nil
	}
	ro.OnStop = func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.Info(ctx, "app", "shutdown")
		if onStop == nil {
			return nil
		}
		return onStop(ctx, rt)
	}
	return ro
}

// runAll runs the bot and the services in one errgroup. The first failure
// cancels the rest.
func runAll(ctx context.Context, bot func(context.Context) error, services []Service) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := bot(gctx)
		if err == nil && ctx.Err() == nil {
			err = errors.New("telegram runtime stopped")
		}
		return err
	})
	for _, svc := range services {
		if svc.Run == nil {
			continue
		}
		svc := svc
		g.Go(func() error {
			if err := svc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(gctx, "app", "service.fail",
					slog.String("service", svc.Name),
					slog.String("err", err.Error()),
				)
				return fmt.Errorf("%s: %w", svc.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
