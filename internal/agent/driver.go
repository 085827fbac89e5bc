// Package agent implements the iterative LLM tool-use loop that drives a
// clinical scenario through an LLMClient and a tool router until the
// model settles on a terminal JSON diagnosis tree.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/clinical-cds/orchestrator/internal/llm"
	"github.com/clinical-cds/orchestrator/internal/observability"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

const defaultMaxIterations = 8

const systemPromptTemplate = `You are a clinical decision support assistant. Given a clinical scenario, use the available tools to search regional guidelines and reference material, then respond with your final answer as a single JSON object of this exact shape:

{
  "diagnoses": [
    {
      "name": "string",
      "confidence": "high" | "medium" | "low",
      "treatments": [
        {"label": "string", "drug_names": ["string"], "notes": "string"}
      ]
    }
  ],
  "summary": "string"
}

Use tools as needed before answering. Respond with only the JSON object once you have enough information.`

// payload is the terminal JSON shape the driver parses out of the
// assistant's final text.
type payload struct {
	Diagnoses []diagnosisPayload `json:"diagnoses"`
	Summary   string             `json:"summary"`
}

type diagnosisPayload struct {
	Name       string             `json:"name"`
	Confidence string             `json:"confidence"`
	Treatments []treatmentPayload `json:"treatments"`
}

type treatmentPayload struct {
	Label     string   `json:"label"`
	DrugNames []string `json:"drug_names"`
	Notes     string   `json:"notes"`
}

func (p payload) toDiagnosisTree() clinical.DiagnosisTree {
	tree := make(clinical.DiagnosisTree, 0, len(p.Diagnoses))
	for _, d := range p.Diagnoses {
		treatments := make([]clinical.Treatment, 0, len(d.Treatments))
		for _, t := range d.Treatments {
			treatments = append(treatments, clinical.Treatment{
				Label:     t.Label,
				DrugNames: t.DrugNames,
				Notes:     t.Notes,
			})
		}
		tree = append(tree, clinical.Diagnosis{
			Name:       d.Name,
			Confidence: clinical.Confidence(d.Confidence),
			Treatments: treatments,
		})
	}
	return tree
}

// Config bounds the driver's iteration count. SystemPrompt carries the
// canonical system prompt text; the driver itself never injects it into
// the message history (the LLM clients carry it natively in their own
// system field), but callers constructing a Client use
// DefaultConfig().SystemPrompt as the single source of truth for it.
type Config struct {
	MaxIterations int
	SystemPrompt  string
}

// DefaultConfig returns the driver's default bounds.
func DefaultConfig() Config {
	return Config{MaxIterations: defaultMaxIterations, SystemPrompt: systemPromptTemplate}
}

func (c Config) sanitize() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = systemPromptTemplate
	}
	return c
}

// ToolRouter offers the full tool set and dispatches calls against it.
type ToolRouter interface {
	ToolCaller
	Tools() []clinical.ToolDescriptor
}

// Driver runs the tool-use loop.
type Driver struct {
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics
	events  *observability.EventRecorder
	tracer  *observability.Tracer
}

// NewDriver builds a Driver with the given config.
func NewDriver(config Config) *Driver {
	return &Driver{config: config.sanitize(), logger: slog.Default().With("component", "agent")}
}

// SetMetrics attaches metrics this driver's runs report tool-loop iteration
// counts against.
func (d *Driver) SetMetrics(metrics *observability.Metrics) {
	d.metrics = metrics
}

// SetEvents attaches an event recorder this driver's runs log each tool
// call's start and end against, keyed to the run ID carried on ctx.
func (d *Driver) SetEvents(events *observability.EventRecorder) {
	d.events = events
}

// SetTracer attaches a tracer each tool call this driver dispatches opens
// a tool.<name> internal span under.
func (d *Driver) SetTracer(tracer *observability.Tracer) {
	d.tracer = tracer
}

// Result is the outcome of one Run.
type Result struct {
	Diagnoses clinical.DiagnosisTree
	Summary   string
	Warnings  []string
}

// Run seeds the conversation with scenario, offers router's tools, and
// loops assistant -> tool_use -> tool_result until the model stops
// requesting tools or the iteration bound is hit. Cancelling ctx aborts
// promptly: no further LLM or tool calls are issued once it's done. If
// client reports it was built without a credential, Run short-circuits
// to an empty Result with a warning instead of issuing a call doomed to
// fail upstream.
func (d *Driver) Run(ctx context.Context, scenario string, client llm.Client, router ToolRouter) Result {
	if cred, ok := client.(interface{ HasCredentials() bool }); ok && !cred.HasCredentials() {
		d.logger.Warn("llm credentials absent, skipping tool-use loop")
		return Result{Warnings: []string{"llm credentials absent: skipping tool-use loop"}}
	}

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: []llm.Block{llm.TextBlock(userPrompt(scenario))}},
	}
	tools := router.Tools()

	var lastText string
	iteration := 0
	for ; iteration < d.config.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return Result{Warnings: []string{fmt.Sprintf("cancelled: %v", err)}}
		}

		resp, err := client.Send(ctx, messages, tools)
		if err != nil {
			d.logger.Warn("llm send failed", "error", err)
			return Result{Warnings: []string{fmt.Sprintf("llm call failed: %v", err)}}
		}

		if resp.StopReason != llm.StopToolUse {
			lastText = resp.Text()
			d.recordIterations(iteration + 1)
			return finalize(lastText, nil)
		}

		toolUses := resp.ToolUseBlocks()
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		if ctx.Err() != nil {
			return Result{Warnings: []string{fmt.Sprintf("cancelled: %v", ctx.Err())}}
		}
		toolResults := executeToolUseBlocks(ctx, router, toolUses, d.events, d.tracer)
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: toolResults})

		lastText = resp.Text()
	}

	d.recordIterations(iteration)
	return finalize(lastText, []string{ErrToolLoopExhausted.Error()})
}

func (d *Driver) recordIterations(n int) {
	if d.metrics == nil {
		return
	}
	d.metrics.ToolLoopIterations.Observe(float64(n))
}

func finalize(text string, extraWarnings []string) Result {
	tree, summary, ok := ParseDiagnosisPayload(text)
	if !ok {
		warnings := append([]string{"could not extract JSON from assistant response"}, extraWarnings...)
		return Result{Warnings: warnings}
	}
	return Result{Diagnoses: tree, Summary: summary, Warnings: extraWarnings}
}

// ParseDiagnosisPayload extracts and decodes the fixed diagnosis-tree JSON
// shape (see systemPromptTemplate) out of a block of assistant text. The
// legacy search-then-extract path shares this with the tool-use driver:
// both terminate in one LLM turn whose text must be parsed the same way.
func ParseDiagnosisPayload(text string) (clinical.DiagnosisTree, string, bool) {
	raw, ok := extractJSON(text)
	if !ok {
		return nil, "", false
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, "", false
	}
	return p.toDiagnosisTree(), p.Summary, true
}

func userPrompt(scenario string) string {
	return fmt.Sprintf("Clinical scenario: %s", scenario)
}
