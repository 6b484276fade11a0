// Package cmd implements the parley command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - conversational LLM session server",
	Long: `Parley runs streaming chat sessions over HTTP: raw text streaming,
framed event streaming, and document-grounded turns backed by a
pgvector knowledge store.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	slog.SetDefault(initLogger())
	return rootCmd.Execute()
}

// initLogger builds the process-wide logger. PARLEY_LOG_LEVEL selects the
// level (debug, info, warn, error); PARLEY_LOG_JSON switches to JSON output.
func initLogger() log.Logger {
	level := slog.LevelInfo
	switch os.Getenv("PARLEY_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return log.New(log.Config{
		Level: level,
		JSON:  os.Getenv("PARLEY_LOG_JSON") == "true",
	})
}
