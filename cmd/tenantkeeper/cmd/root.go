package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/solatis/tenantkeeper/internal/core/db"
	"github.com/spf13/cobra"
)

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "tenantkeeper",
	Short: "TenantKeeper tenant-scoped SQL rewriting engine",
	Long:  `TenantKeeper rewrites untrusted SQL so every query is scoped to exactly one tenant, failing closed on anything it cannot prove safe.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "",
		fmt.Sprintf("database connection URL for schema snapshots (%s://path or %s://...)", db.SchemeSQLite, db.SchemePostgres))
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the slog logger selected by the root flags.
func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(logFormat) == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
