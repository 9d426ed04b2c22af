// Package main is the entry point for tokengate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/tokengate/internal/config"
	"github.com/vyrodovalexey/tokengate/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// defaultShutdownTimeout bounds the whole shutdown sequence.
const defaultShutdownTimeout = 30 * time.Second

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags(os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, found, err := config.LoadOrDefault(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg, flags)

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting tokengate",
		observability.String("version", version),
		observability.String("config", flags.configPath),
		observability.Bool("config_found", found),
	)

	ctx := context.Background()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", observability.Error(err))
	}

	if err := app.start(ctx); err != nil {
		logger.Fatal("failed to start", observability.Error(err))
	}

	var watcher *config.Watcher
	if found {
		watcher = startConfigWatcher(ctx, app, flags, logger)
	}

	waitForShutdown(app, watcher, logger)
}

// parseFlags parses command line flags. Environment variables provide the defaults.
func parseFlags(args []string) cliFlags {
	fs := flag.NewFlagSet("tokengate", flag.ExitOnError)
	configPath := fs.String("config", getEnvOrDefault("TOKENGATE_CONFIG_PATH", "configs/tokengate.yaml"),
		"Path to configuration file")
	logLevel := fs.String("log-level", getEnvOrDefault("TOKENGATE_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the configuration file")
	logFormat := fs.String("log-format", getEnvOrDefault("TOKENGATE_LOG_FORMAT", ""),
		"Log format (json, console); overrides the configuration file")
	showVersion := fs.Bool("version", false, "Show version information")
	_ = fs.Parse(args)

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// applyFlagOverrides lets command line logging flags win over the file.
func applyFlagOverrides(cfg *config.Config, flags cliFlags) {
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("tokengate version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// startConfigWatcher watches the configuration file and applies the settings
// that can change at runtime.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	flags cliFlags,
	logger observability.Logger,
) *config.Watcher {
	watcher, err := config.NewWatcher(flags.configPath, func(newCfg *config.Config) {
		applyFlagOverrides(newCfg, flags)
		app.reload(newCfg)
	}, config.WithLogger(logger))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		return nil
	}

	return watcher
}

// waitForShutdown waits for a shutdown signal and stops every component.
func waitForShutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	app.stop(shutdownCtx)

	logger.Info("tokengate stopped")
}
