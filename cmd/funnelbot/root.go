package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3rciful/funnelbot/core/buildinfo"
	corecmd "github.com/m3rciful/funnelbot/core/cmd"
	"github.com/m3rciful/funnelbot/core/database"
	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/funnel/app"
	"github.com/m3rciful/funnelbot/funnel/config"
)

const (
	configEnvVar      = "CONFIG_PATH"
	defaultConfigPath = "config.yaml"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "funnelbot",
		Short:         "Telegram access funnel with partner postback ingestion",
		Version:       fmt.Sprintf("%s (%s, %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (falls back to $"+configEnvVar+")")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the postback receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			return corecmd.Run(corecmd.Options{
				ConfigPath:        configPath,
				ConfigEnvVar:      configEnvVar,
				DefaultConfigPath: defaultConfigPath,
				LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
					return config.Load(path)
				},
				Bootstrap: app.Bootstrap,
			})
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := corecmd.ResolveConfigPath(configPath, configEnvVar, defaultConfigPath)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := logger.InitLogger(&cfg.Config); err != nil {
				return err
			}
			defer func() { _ = logger.Shutdown() }()
			return database.RunMigrations(cfg.Database)
		},
	}

	root.AddCommand(serve, migrate)
	return root
}
