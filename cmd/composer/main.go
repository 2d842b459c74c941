package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aixgo-dev/composer"
	"github.com/aixgo-dev/composer/internal/observability"
	"github.com/aixgo-dev/composer/pkg/config"
	"github.com/aixgo-dev/composer/pkg/logging"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by the subcommands
type app struct {
	configPath string
	logLevel   string

	// opts are passed to composer.New; tests use them to inject providers
	opts []composer.Option

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(opts ...composer.Option) *cobra.Command {
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:          "composer",
		Short:        "Run and inspect composed LLM agents",
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", getEnv("CONFIG_FILE", "config/composer.yaml"), "configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newInvokeCmd(a),
		newExtractCmd(),
		newServeCmd(a),
		newConfigCmd(a),
	)
	return root
}

// loadConfig reads the config file and installs the configured logger
func (a *app) loadConfig() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = logging.Level(a.logLevel)
		if err := cfg.Logging.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Logging)
	slog.SetDefault(a.logger)
	return nil
}

// start loads config, initializes tracing and builds the composer. The
// returned func releases everything.
func (a *app) start(ctx context.Context) (*composer.Composer, func(), error) {
	if err := a.loadConfig(); err != nil {
		return nil, nil, err
	}
	if err := observability.Init(a.cfg.Observability.Tracing); err != nil {
		return nil, nil, fmt.Errorf("init tracing: %w", err)
	}

	opts := append([]composer.Option{composer.WithLogger(a.logger)}, a.opts...)
	c, err := composer.New(ctx, a.cfg, opts...)
	if err != nil {
		_ = observability.Shutdown(context.Background())
		return nil, nil, err
	}

	stop := func() {
		if err := c.Close(); err != nil {
			a.logger.Warn("close composer", "error", err)
		}
		if err := observability.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown tracing", "error", err)
		}
	}
	return c, stop, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
