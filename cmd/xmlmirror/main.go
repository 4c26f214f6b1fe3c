// Command xmlmirror fetches the XML feeds named in an INI file and mirrors
// each feed's rows into its own database table.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JonMunkholm/xmlmirror/internal/config"
	"github.com/JonMunkholm/xmlmirror/internal/core"
	"github.com/JonMunkholm/xmlmirror/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	_ = godotenv.Overload()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one mirror pass and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	start := time.Now()

	flags := pflag.NewFlagSet("xmlmirror", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.StringP("config", "c", "config.ini", "path to the INI config file")
	verbose := flags.IntP("verbose", "v", 0, "verbosity level; 1 or more enables debug logging")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", flags.Args())
		return 2
	}

	// Load and validate configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigMissing) {
			fmt.Fprintf(stderr, "Config `%s` not found or inaccessible\n", *configPath)
		} else {
			fmt.Fprintf(stderr, "%v\n", err)
		}
		return 1
	}

	// Setup structured logging based on config
	logging.SetupWriter(stderr, logging.LevelForVerbosity(cfg.Logging.Level, *verbose), cfg.Logging.Format)

	sources := cfg.EnabledSources()
	slog.Info("configuration loaded",
		"config", *configPath,
		"backend", cfg.Database.Backend(),
		"sources", len(sources),
		"max_concurrent", cfg.Run.MaxConcurrent,
		"fetch_timeout", cfg.Fetch.Timeout,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	// Connect to database
	store, err := core.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "backend", cfg.Database.Backend(), "error", err)
		return 1
	}
	defer store.Close()

	service, err := core.NewService(ctx, store, cfg)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		return 1
	}

	summary := service.Run(ctx, sources)

	for _, r := range summary.Results {
		log := slog.With("source", r.Source, "status", r.Status, "duration", r.Duration)
		switch r.Status {
		case core.StatusLoaded:
			log.Info("source mirrored", "rows", r.Rows, "skipped", r.Skipped)
		default:
			log.Warn("source not mirrored", "code", r.Code(), "error", r.Err)
		}
	}
	slog.Info("run complete",
		"loaded", summary.Count(core.StatusLoaded),
		"empty", summary.Count(core.StatusEmpty),
		"failed", summary.Count(core.StatusFailed),
	)

	fmt.Fprintf(stdout, "--- %f seconds ---\n", time.Since(start).Seconds())
	return 0
}
