package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/HMasataka/wsrelay/internal/app"
	"github.com/HMasataka/wsrelay/internal/config"
	"github.com/HMasataka/wsrelay/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	RunE:  runServe,
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", 0, "override server.port")
	cmd.Flags().Bool("strict", false, "panic on registry integration faults")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(config.LoadOptions{Path: path, EnvFile: envFile})
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("strict") {
		cfg.Relay.Strict, _ = cmd.Flags().GetBool("strict")
	}

	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging)
	logger.Info("starting relay",
		"addr", cfg.Server.Address(),
		"path", cfg.Server.Path,
		"metrics", cfg.Metrics.Enabled,
		"strict", cfg.Relay.Strict,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, logger).Run(ctx); err != nil {
		logger.Error("relay stopped with error", "error", err)
		return err
	}

	logger.Info("relay stopped")
	return nil
}
