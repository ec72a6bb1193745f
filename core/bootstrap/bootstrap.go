// Package bootstrap runs the shared startup pipeline: logger, database
// readiness, connection and migrations.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/funnelbot/core/config"
	coredatabase "github.com/m3rciful/funnelbot/core/database"
	"github.com/m3rciful/funnelbot/core/logger"
)

// Options control the bootstrap pipeline. Nil steps use the core defaults.
type Options struct {
	Config   *coreconfig.Config
	Database coredatabase.Config
	// WaitTimeout bounds how long to wait for the database; 0 skips waiting.
	WaitTimeout time.Duration

	LoggerInit func(*coreconfig.Config) error
	Wait       func(ctx context.Context, dsn string, timeout time.Duration) error
	Connect    func(coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(coredatabase.Config) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	DB *sqlx.DB
}

// Run initializes the logger, waits for the database, connects and applies
// migrations.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	if opts.WaitTimeout > 0 {
		wait := opts.Wait
		if wait == nil {
			wait = coredatabase.WaitForPostgres
		}
		if err := wait(ctx, opts.Database.DSN(), opts.WaitTimeout); err != nil {
			return nil, fmt.Errorf("bootstrap: database not ready: %w", err)
		}
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(opts.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(opts.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	return &Result{DB: db}, nil
}
