package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"meetcost/internal/annotate"
	"meetcost/internal/config"
	"meetcost/internal/cost"
	"meetcost/internal/cursor"
	"meetcost/internal/google"
	"meetcost/internal/server"
	"meetcost/internal/syncer"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "meetcost",
		Usage: "Annotate every meeting in the organization with its estimated cost.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to an optional YAML config file."},
		},
		Commands: []*cli.Command{
			runCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute a single annotation run and print its report.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be annotated without making changes."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			s, _, closeFn, err := buildSyncer(c, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := s.Run(c.Context)
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the /cron trigger endpoint, optionally with a cron schedule.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be annotated without making changes."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			s, cfg, closeFn, err := buildSyncer(c, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			return server.New(logger, s, cfg.ListenAddr, cfg.APIKey, cfg.Schedule).Start(c.Context)
		},
	}
}

// buildSyncer wires the engine from configuration. The returned func
// releases the cursor store.
func buildSyncer(c *cli.Context, logger *slog.Logger) (*syncer.Syncer, *config.Config, func() error, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := cursor.Open(cfg.CursorDBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open cursor store: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Concurrency)
	cal := google.NewCalendarService(logger, cfg.CredentialsJSON, limiter, cfg.WindowDays)

	dir, err := google.NewDirectoryClient(c.Context, logger, cfg.CredentialsJSON, cfg.AdminSubject)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("failed to create directory client: %w", err)
	}

	dryRun := c.Bool("dry-run")
	if dryRun {
		logger.Info("Performing a dry run. No changes will be made.")
	}

	writer := annotate.NewWriter(logger, cal, cfg.CostTag, cfg.LowThreshold, cfg.HighThreshold, dryRun)

	s := syncer.New(syncer.Options{
		Logger:    logger,
		Directory: dir,
		Calendar:  cal,
		Cursors:   store,
		Writer:    writer,
		Rules: cost.Rules{
			Domain:          cfg.Domain,
			InternalOnly:    cfg.InternalOnly,
			ExcludeDeclined: cfg.ExcludeDeclined,
		},
		HourlyRate:  cfg.DefaultRate,
		MaxMembers:  cfg.MaxMembers,
		Concurrency: int64(cfg.Concurrency),
		DryRun:      dryRun,
	})
	return s, cfg, store.Close, nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
