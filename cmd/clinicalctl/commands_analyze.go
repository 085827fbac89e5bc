package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinical-cds/orchestrator/internal/config"
	"github.com/clinical-cds/orchestrator/internal/observability"
	"github.com/clinical-cds/orchestrator/internal/workflow"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

// =============================================================================
// Analyze Command
// =============================================================================

// buildAnalyzeCmd creates the "analyze" command, running the full
// tool-use workflow against a scenario and printing the resulting
// ClinicalReport as JSON.
func buildAnalyzeCmd() *cobra.Command {
	var (
		configPath string
		country    string
		patientID  string
		provider   string
		legacy     bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [scenario]",
		Short: "Run the clinical decision support workflow against a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], configPath, country, patientID, provider, legacy)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&country, "country", "", "ISO-3166 alpha-2 country code")
	cmd.Flags().StringVar(&patientID, "patient-id", "", "Opaque patient identifier, carried through to logs only")
	cmd.Flags().StringVar(&provider, "provider", "anthropic", "LLM provider: anthropic or openai")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "Run the legacy search-then-extract pipeline instead of the tool-use loop")

	return cmd
}

func runAnalyze(cmd *cobra.Command, scenario, configPath, country, patientID, provider string, legacy bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := buildLLMClient(cfg, provider)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "clinical-cds-orchestrator",
		Endpoint:    cfg.TraceEndpoint,
	})
	defer shutdownTracer(context.Background())

	orchestrator := workflow.New(cfg, client)
	orchestrator.SetMetrics(metrics)
	orchestrator.SetTracer(tracer)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.WorkflowTimeoutMS)*time.Millisecond)
	defer cancel()

	var report clinical.ClinicalReport
	if legacy {
		report, err = orchestrator.AnalyzeLegacy(ctx, scenario, country, patientID)
	} else {
		report, err = orchestrator.Analyze(ctx, scenario, country, patientID)
	}
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
