package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/clinical-cds/orchestrator/internal/config"
	"github.com/clinical-cds/orchestrator/internal/errs"
	"github.com/clinical-cds/orchestrator/internal/llm"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

// scriptedClient answers every Send call with the same response,
// regardless of the message history or tool set offered — enough to
// exercise the orchestrator's wiring without a real model.
type scriptedClient struct {
	resp  llm.Response
	calls int
}

func (c *scriptedClient) Send(ctx context.Context, messages []llm.Message, tools []clinical.ToolDescriptor) (llm.Response, error) {
	c.calls++
	return c.resp, nil
}

const finalJSON = `{"diagnoses":[{"name":"Croup","confidence":"high","treatments":[{"label":"Steroid","drug_names":["Dexamethasone"],"notes":"single dose"}]}],"summary":"Likely croup."}`

func testConfig() *config.Config {
	return &config.Config{
		LLMAPIKey:         "test-key",
		RPCTimeoutMS:      1000,
		WorkflowTimeoutMS: 5000,
		MaxToolIterations: 4,
		TopKGuidelines:    5,
		TopKCKS:           3,
		TopKBNF:           3,
		Servers: map[string]config.ServerSpec{
			"nice": {Command: "cat"},
		},
		Regions: map[string]clinical.RegionConfig{
			"UK": {
				Region:              "UK",
				Servers:             []string{"nice"},
				MinResultsThreshold: 2,
				PubMedFallback:      true,
				SearchConfigs: map[string]clinical.SearchConfig{
					"guidelines": {
						ToolName:     "search_nice_guidelines",
						ResultKey:    "guidelines",
						ArgsTemplate: map[string]string{"query": "{clinical_scenario}"},
						Deduplicate:  true,
					},
				},
			},
			"INTERNATIONAL": {Region: "INTERNATIONAL"},
		},
	}
}

func TestAnalyzeEndToEndProducesReport(t *testing.T) {
	client := &scriptedClient{resp: llm.Response{StopReason: llm.StopEndTurn, Content: []llm.Block{llm.TextBlock(finalJSON)}}}
	o := New(testConfig(), client)

	report, err := o.Analyze(context.Background(), "3-year-old with croup and stridor", "GB", "patient-1")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Diagnoses) != 1 || report.Diagnoses[0].Name != "Croup" {
		t.Fatalf("unexpected diagnoses: %+v", report.Diagnoses)
	}
	if report.Summary != "Likely croup." {
		t.Errorf("unexpected summary: %q", report.Summary)
	}
	if client.calls == 0 {
		t.Error("expected the LLM client to be invoked")
	}
}

func TestAnalyzeUnsupportedCountryFallsBackToInternational(t *testing.T) {
	client := &scriptedClient{resp: llm.Response{StopReason: llm.StopEndTurn, Content: []llm.Block{llm.TextBlock(finalJSON)}}}
	o := New(testConfig(), client)

	report, err := o.Analyze(context.Background(), "chest pain", "FR", "")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Diagnoses) != 1 {
		t.Fatalf("expected a report even with no configured servers for INTERNATIONAL, got %+v", report)
	}
}

func TestAnalyzeCancelledContextSurfacesWarning(t *testing.T) {
	client := &scriptedClient{resp: llm.Response{StopReason: llm.StopEndTurn, Content: []llm.Block{llm.TextBlock(finalJSON)}}}
	o := New(testConfig(), client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := o.Analyze(ctx, "scenario", "GB", "")
	if len(report.Warnings) == 0 {
		t.Fatal("expected a cancellation warning")
	}
	if !errors.Is(err, errs.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestAnalyzeLegacyEndToEndProducesReport(t *testing.T) {
	client := &scriptedClient{resp: llm.Response{StopReason: llm.StopEndTurn, Content: []llm.Block{llm.TextBlock(finalJSON)}}}
	o := New(testConfig(), client)

	report, err := o.AnalyzeLegacy(context.Background(), "3-year-old with croup and stridor", "GB", "patient-1")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Diagnoses) != 1 || report.Diagnoses[0].Name != "Croup" {
		t.Fatalf("unexpected diagnoses: %+v", report.Diagnoses)
	}
	if client.calls != 1 {
		t.Errorf("expected exactly one non-tool-use LLM call, got %d", client.calls)
	}
}

func TestAnalyzeUnknownServerNameIsWarningNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Regions["UK"] = clinical.RegionConfig{Region: "UK", Servers: []string{"nice", "ghost"}}
	client := &scriptedClient{resp: llm.Response{StopReason: llm.StopEndTurn, Content: []llm.Block{llm.TextBlock(finalJSON)}}}
	o := New(cfg, client)

	report, err := o.Analyze(context.Background(), "scenario", "GB", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, w := range report.Warnings {
		if w != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a warning about the unknown server name")
	}
	if len(report.Diagnoses) != 1 {
		t.Fatalf("expected the workflow to still complete, got %+v", report.Diagnoses)
	}
}
