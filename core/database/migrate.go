package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/m3rciful/funnelbot/core/logger"
)

const migrateWaitTimeout = 30 * time.Second

// RunMigrations applies every pending *.up.sql file from cfg.MigrationsDir.
// A dirty schema version is reported and never forced.
func RunMigrations(cfg Config) error {
	ctx := context.Background()
	fail := func(stage string, err error) error {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate",
			slog.String("outcome", "fail"),
			slog.String("cause", stage),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("migrations %s: %w", stage, err)
	}

	if err := WaitForPostgres(ctx, cfg.DSN(), migrateWaitTimeout); err != nil {
		return fail("wait", err)
	}
	dir, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		return fail("resolve", err)
	}
	files := upFiles(dir)

	m, err := migrate.New("file://"+dir, cfg.URL())
	if err != nil {
		return fail("init", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.LogEvent(ctx, logger.MIG, slog.LevelWarn, "db.migrate.close",
				slog.String("err", errors.Join(srcErr, dbErr).Error()),
			)
		}
	}()

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fail("version", err)
	}
	if dirty {
		return fail("version", fmt.Errorf("schema version %d is dirty", from))
	}

	start := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fail("apply", err)
	}
	to, _, _ := m.Version()

	applied := pending(files, uint64(from), uint64(to))
	preview, truncated := logger.SummarizeStrings(applied, 6)
	logger.LogEvent(ctx, logger.MIG, slog.LevelInfo, "db.migrate",
		slog.String("outcome", "ok"),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("count", len(applied)),
		slog.String("files", preview),
		slog.Bool("files_truncated", truncated),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// upFiles lists the *.up.sql names in dir, sorted.
func upFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// pending returns the files with a version in (from, to].
func pending(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		prefix, _, _ := strings.Cut(f, "_")
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err == nil && v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
