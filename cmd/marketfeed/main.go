package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"marketfeed/internal/app"
	"marketfeed/internal/config"
	"marketfeed/internal/logging"
)

const shutdownTimeout = 30 * time.Second

type options struct {
	configPath string
	envFile    string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "marketfeed",
		Short: "Real-time market data distribution over WebSocket",
		Long: `marketfeed accepts WebSocket clients, authenticates them against a single
credential pair, and pushes top-of-book quotes for every symbol a client
subscribes to.

Configuration comes from defaults, MARKETFEED_* environment variables and an
optional YAML file, in increasing order of precedence. CLIENT_ID and
CLIENT_SECRET are read from the environment or the --env-file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("MARKETFEED_CONFIG_FILE"), "YAML config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with CLIENT_ID and CLIENT_SECRET")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	creds, err := config.LoadCredentials(opts.envFile)
	if err != nil {
		logger.Error("failed to load credentials", zap.String("env_file", opts.envFile), zap.Error(err))
		return err
	}

	application, err := app.NewApplication(cfg, creds, logger)
	if err != nil {
		logger.Error("failed to create application", zap.Error(err))
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx, shutdownTimeout); err != nil {
		logger.Error("application error", zap.Error(err))
		return err
	}
	return nil
}
