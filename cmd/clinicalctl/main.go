// Package main provides the CLI entry point for clinicalctl, the
// clinical decision support orchestrator's operator tool.
//
// # Basic Usage
//
// Run the tool-use workflow against a scenario:
//
//	clinicalctl analyze --config config.yaml --country GB "3-year-old with stridor"
//
// List the servers a region resolves to without running the LLM loop:
//
//	clinicalctl servers --config config.yaml --country IN
//
// # Environment Variables
//
//   - CDS_LLM_API_KEY: LLM provider API key
//   - CDS_LLM_MODEL: model name override
//   - CDS_SERVERS_DIR: knowledge-server manifest directory override
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/clinical-cds/orchestrator/internal/observability"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// A separate redacting logger guards the CLI boundary: command errors
	// often embed the config or flag values that produced them (an API key
	// rejected by the provider, a malformed server manifest path), and those
	// are exactly the strings operators paste into bug reports.
	cliLogger := observability.NewLogger(observability.LogConfig{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	})

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		cliLogger.Error(context.Background(), "command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clinicalctl",
		Short: "Region-aware clinical decision support orchestrator",
		Long: `clinicalctl drives the clinical decision support workflow: it selects a
region's knowledge servers, brings their sessions up, runs the LLM
tool-use loop against their combined tool set, and enriches the
resulting diagnosis tree with BNF drug data.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildAnalyzeCmd(),
		buildServersCmd(),
	)

	return rootCmd
}
