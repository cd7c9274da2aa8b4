// Command kansa runs the transaction review service. The serve command
// starts the HTTP and MCP server, seed loads synthetic demo data, and audit
// prints the full audit trail of a run.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/kansa/internal/config"
	"github.com/ashita-ai/kansa/internal/storage"
	"github.com/ashita-ai/kansa/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "kansa",
		Short:         "Deterministic transaction review pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("lite", "", "run on embedded SQLite at this path instead of Postgres (\":memory:\" allowed)")

	root.AddCommand(newServeCmd(), newSeedCmd(), newAuditCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kansa:", err)
		os.Exit(1)
	}
}

// loadConfig reads .env (if present), the environment, and the --lite flag.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if lite, _ := cmd.Flags().GetString("lite"); lite != "" {
		cfg.LitePath = lite
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// openStoreCtx connects to the configured backend. Lite mode creates its
// schema on open; Postgres applies the embedded migrations.
func openStoreCtx(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.LitePath != "" {
		logger.Info("storage: sqlite", "path", cfg.LitePath)
		lite, err := storage.NewLite(cfg.LitePath)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return lite, nil
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return db, nil
}
