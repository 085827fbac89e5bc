// Package workflow implements the top-level clinical_decision_support
// workflow: region selection, session/tool bring-up, the LLM tool-use
// loop, and drug enrichment, composed behind one `Analyze` call. It also
// implements the legacy search-then-extract-then-enrich path, exposed as
// `AnalyzeLegacy`, that satisfies the same external contract without a
// tool-use loop.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinical-cds/orchestrator/internal/agent"
	"github.com/clinical-cds/orchestrator/internal/config"
	"github.com/clinical-cds/orchestrator/internal/detail"
	"github.com/clinical-cds/orchestrator/internal/enrichment"
	"github.com/clinical-cds/orchestrator/internal/errs"
	"github.com/clinical-cds/orchestrator/internal/llm"
	"github.com/clinical-cds/orchestrator/internal/observability"
	"github.com/clinical-cds/orchestrator/internal/region"
	"github.com/clinical-cds/orchestrator/internal/registry"
	"github.com/clinical-cds/orchestrator/internal/router"
	"github.com/clinical-cds/orchestrator/internal/rpc"
	"github.com/clinical-cds/orchestrator/internal/search"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

// Orchestrator composes region selection, knowledge-server session
// bring-up, search, enrichment, and the LLM layer behind the single
// Analyze and AnalyzeLegacy entry points. It is built once per process
// and reused across requests: region selection, session bring-up, and
// teardown happen per call, so concurrent Analyze calls don't share
// subprocess state.
type Orchestrator struct {
	cfg      *config.Config
	client   llm.Client
	selector *region.Selector
	logger   *slog.Logger
	metrics  *observability.Metrics
	events   *observability.EventRecorder
	tracer   *observability.Tracer
}

// New builds an Orchestrator from cfg's region catalog and server
// manifest, issuing tool calls against client. Each run's events land in
// an in-memory store scoped to this Orchestrator; it is sized for the
// lifetime of one process, not for durable audit history.
func New(cfg *config.Config, client llm.Client) *Orchestrator {
	logger := slog.Default().With("component", "workflow")
	return &Orchestrator{
		cfg:      cfg,
		client:   client,
		selector: region.NewSelector(cfg.Regions),
		logger:   logger,
		events:   observability.NewEventRecorder(observability.NewMemoryEventStore(0), nil),
	}
}

// Events returns the recorder's backing store, letting a caller pull the
// timeline for a specific run (e.g. to render it in an operator tool).
func (o *Orchestrator) Events() observability.EventStore {
	return o.events.Store()
}

// SetMetrics attaches metrics every session, search, and enrichment
// opened by this orchestrator from this point on reports against, plus
// this orchestrator's own end-to-end workflow duration and outcome.
func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	o.metrics = metrics
	if m, ok := o.client.(interface {
		SetMetrics(*observability.Metrics)
	}); ok {
		m.SetMetrics(metrics)
	}
}

// SetTracer attaches a tracer this orchestrator's runs, tool calls, and
// LLM requests all open spans under, nesting beneath one top-level
// workflow.analyze span per Analyze/AnalyzeLegacy call.
func (o *Orchestrator) SetTracer(tracer *observability.Tracer) {
	o.tracer = tracer
	if t, ok := o.client.(interface {
		SetTracer(*observability.Tracer)
	}); ok {
		t.SetTracer(tracer)
	}
}

// session bundles everything a request needs torn down when it's done:
// the registry owning the open subprocess sessions and the router built
// over them.
type session struct {
	regionKey string
	regionCfg clinical.RegionConfig
	registry  *registry.Registry
	router    *router.Router
	warnings  []string
}

// openSession selects countryCode's region, opens its servers, and builds
// the merged tool router. The caller must call CloseAll on the returned
// registry when done, even on error paths — any session that did come up
// is still a live subprocess.
func (o *Orchestrator) openSession(ctx context.Context, countryCode string) (*session, error) {
	regionKey, regionCfg := o.selector.Select(countryCode)

	specs := make([]rpc.ServerSpec, 0, len(regionCfg.Servers))
	var warnings []string
	for _, name := range regionCfg.Servers {
		spec, ok := o.cfg.Servers[name]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("server %s: not present in server manifest", name))
			continue
		}
		specs = append(specs, rpc.ServerSpec{
			ID:      name,
			Command: spec.Command,
			Args:    spec.Args,
			Env:     spec.Env,
			WorkDir: spec.WorkDir,
			Timeout: o.cfg.RPCTimeoutMS,
		})
	}

	reg := registry.New()
	reg.SetMetrics(o.metrics)
	reg.SetTracer(o.tracer)
	reg.SetEvents(o.events)
	openWarnings, err := reg.Open(ctx, specs)
	warnings = append(warnings, openWarnings...)
	if err != nil {
		return &session{regionKey: regionKey, regionCfg: regionCfg, registry: reg, warnings: warnings}, err
	}

	r := router.Build(reg.Sessions())
	return &session{regionKey: regionKey, regionCfg: regionCfg, registry: reg, router: r, warnings: warnings}, nil
}

// contextErr classifies ctx's terminal state into the sentinel the HTTP
// adapter maps to a status code: a workflow that missed its configured
// deadline returns ErrDeadlineExceeded (504), one abandoned because its
// caller cancelled returns ErrCancelled (499). A ctx that is not done
// yields nil, leaving the caller free to report a partial result without
// an error.
func contextErr(ctx context.Context) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errs.ErrDeadlineExceeded
	case errors.Is(ctx.Err(), context.Canceled):
		return errs.ErrCancelled
	default:
		return nil
	}
}

// Analyze runs the tool-use workflow: select region, bring its knowledge
// servers up, run the LLM tool-use loop over their combined tool set,
// enrich the resulting diagnosis tree's drug names, and return a
// ClinicalReport. A clinical-content shortfall or a partially failed
// fan-out is surfaced in the report's Warnings rather than as an error;
// the only errors Analyze returns are ErrDeadlineExceeded (the workflow
// timeout elapsed) and ErrCancelled (the caller's context was cancelled);
// httpapi maps both to their HTTP status codes via errs.StatusCode.
func (o *Orchestrator) Analyze(ctx context.Context, scenario, countryCode, patientID string) (clinical.ClinicalReport, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.WorkflowTimeoutMS)*time.Millisecond)
	defer cancel()

	regionKeyHint, _ := o.selector.Select(countryCode)
	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.TraceWorkflow(ctx, regionKeyHint, "tool_use")
		defer span.End()
	}

	runID := uuid.NewString()
	ctx = observability.AddRunID(ctx, runID)
	o.events.RecordRunStart(ctx, runID, map[string]interface{}{"path": "tool_use", "country_code": countryCode})

	o.logger.Info("analyze started", "run_id", runID, "country_code", countryCode, "patient_id", patientID, "path", "tool_use")

	sess, openErr := o.openSession(ctx, countryCode)
	defer closeSession(sess, o.logger)
	if openErr != nil {
		report := clinical.ClinicalReport{Warnings: append(sess.warnings, openErr.Error())}
		err := contextErr(ctx)
		o.recordWorkflow(start, sess.regionKey, "tool_use", report)
		o.events.RecordRunEnd(ctx, time.Since(start), err)
		if span != nil {
			o.tracer.RecordError(span, err)
		}
		return report, err
	}

	driver := agent.NewDriver(agent.Config{MaxIterations: o.cfg.MaxToolIterations})
	driver.SetMetrics(o.metrics)
	driver.SetEvents(o.events)
	driver.SetTracer(o.tracer)
	result := driver.Run(ctx, scenario, o.client, sess.router)

	enricher := enrichment.NewEnricher(sess.router)
	enricher.SetMetrics(o.metrics)
	enricher.EnrichTree(ctx, result.Diagnoses)

	warnings := append(append([]string{}, sess.warnings...), result.Warnings...)
	report := clinical.ClinicalReport{
		Diagnoses: result.Diagnoses,
		Summary:   result.Summary,
		Warnings:  warnings,
	}
	err := contextErr(ctx)
	o.recordWorkflow(start, sess.regionKey, "tool_use", report)
	o.events.RecordRunEnd(ctx, time.Since(start), err)
	if span != nil {
		o.tracer.RecordError(span, err)
	}
	return report, err
}

const legacyExtractionPrompt = `Clinical scenario: %s

Guideline excerpts:
%s

Based only on the material above, respond with a single JSON object of this exact shape:

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
}`

// AnalyzeLegacy runs the guideline analysis sub-pipeline: a regional
// search and detail fetch replace the LLM's own tool use, then a single
// non-tool-use LLM call extracts the diagnosis tree from the fetched
// content. It satisfies the same external contract as Analyze, including
// its error semantics: ErrDeadlineExceeded and ErrCancelled are the only
// errors ever returned, everything else is folded into Warnings.
func (o *Orchestrator) AnalyzeLegacy(ctx context.Context, scenario, countryCode, patientID string) (clinical.ClinicalReport, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.WorkflowTimeoutMS)*time.Millisecond)
	defer cancel()

	regionKeyHint, _ := o.selector.Select(countryCode)
	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.TraceWorkflow(ctx, regionKeyHint, "legacy")
		defer span.End()
	}

	runID := uuid.NewString()
	ctx = observability.AddRunID(ctx, runID)
	o.events.RecordRunStart(ctx, runID, map[string]interface{}{"path": "legacy", "country_code": countryCode})

	o.logger.Info("analyze started", "run_id", runID, "country_code", countryCode, "patient_id", patientID, "path", "legacy")

	sess, openErr := o.openSession(ctx, countryCode)
	defer closeSession(sess, o.logger)
	if openErr != nil {
		report := clinical.ClinicalReport{Warnings: append(sess.warnings, openErr.Error())}
		err := contextErr(ctx)
		o.recordWorkflow(start, sess.regionKey, "legacy", report)
		o.events.RecordRunEnd(ctx, time.Since(start), err)
		if span != nil {
			o.tracer.RecordError(span, err)
		}
		return report, err
	}

	topK := search.TopK{Guidelines: o.cfg.TopKGuidelines, CKS: o.cfg.TopKCKS, BNF: o.cfg.TopKBNF, PubMed: o.cfg.TopKGuidelines}
	searchSvc := search.NewService(sess.router, topK)
	searchSvc.SetMetrics(o.metrics)
	results := searchSvc.SearchByRegion(ctx, sess.regionKey, sess.regionCfg, scenario)

	fetcher := detail.NewFetcher(sess.router)
	details := fetcher.FetchAll(ctx, results)

	var resp llm.Response
	var sendErr error
	if cred, ok := o.client.(interface{ HasCredentials() bool }); ok && !cred.HasCredentials() {
		sendErr = errors.New("llm credentials absent")
	} else {
		resp, sendErr = o.client.Send(ctx, []llm.Message{
			{Role: llm.RoleUser, Content: []llm.Block{llm.TextBlock(fmt.Sprintf(legacyExtractionPrompt, scenario, renderExcerpts(details)))}},
		}, nil)
	}

	warnings := append(append([]string{}, sess.warnings...), results.Warnings...)
	if sendErr != nil {
		o.logger.Warn("legacy extraction call failed", "error", sendErr)
		warnings = append(warnings, fmt.Sprintf("structured extraction failed: %v", sendErr))
		report := clinical.ClinicalReport{Warnings: warnings}
		err := contextErr(ctx)
		o.recordWorkflow(start, sess.regionKey, "legacy", report)
		o.events.RecordRunEnd(ctx, time.Since(start), err)
		if span != nil {
			o.tracer.RecordError(span, err)
		}
		return report, err
	}

	tree, summary, ok := agent.ParseDiagnosisPayload(resp.Text())
	if !ok {
		warnings = append(warnings, "could not extract JSON from assistant response")
		report := clinical.ClinicalReport{Warnings: warnings}
		err := contextErr(ctx)
		o.recordWorkflow(start, sess.regionKey, "legacy", report)
		o.events.RecordRunEnd(ctx, time.Since(start), errs.ErrParse)
		if span != nil {
			o.tracer.RecordError(span, errs.ErrParse)
		}
		return report, err
	}

	enricher := enrichment.NewEnricher(sess.router)
	enricher.SetMetrics(o.metrics)
	enricher.EnrichTree(ctx, tree)

	report := clinical.ClinicalReport{Diagnoses: tree, Summary: summary, Warnings: warnings}
	err := contextErr(ctx)
	o.recordWorkflow(start, sess.regionKey, "legacy", report)
	o.events.RecordRunEnd(ctx, time.Since(start), err)
	if span != nil {
		o.tracer.RecordError(span, err)
	}
	return report, err
}

// recordWorkflow observes one Analyze/AnalyzeLegacy run's duration and
// outcome. Outcome is "error" when no diagnosis survived, "warning" when
// diagnoses came back alongside partial-failure warnings, else "ok".
func (o *Orchestrator) recordWorkflow(start time.Time, regionKey, path string, report clinical.ClinicalReport) {
	if o.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case len(report.Diagnoses) == 0:
		outcome = "error"
	case len(report.Warnings) > 0:
		outcome = "warning"
	}
	o.metrics.WorkflowDuration.WithLabelValues(regionKey, path, outcome).Observe(time.Since(start).Seconds())
	o.metrics.WorkflowCounter.WithLabelValues(regionKey, path, outcome).Inc()
}

// renderExcerpts flattens a DetailSet into the plain-text block the
// single-shot extraction prompt is built around.
func renderExcerpts(details clinical.DetailSet) string {
	out := ""
	for _, d := range details.Guidelines {
		out += fmt.Sprintf("- %s: %s\n", d.Hit.Title, truncateExcerpt(d.Content))
	}
	for _, d := range details.CKSTopics {
		out += fmt.Sprintf("- %s: %s\n", d.Hit.Title, truncateExcerpt(d.Content))
	}
	for _, d := range details.BNFSummaries {
		out += fmt.Sprintf("- %s: %s\n", d.Hit.Title, truncateExcerpt(d.Content))
	}
	return out
}

const maxExcerptRunes = 2000

func truncateExcerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= maxExcerptRunes {
		return content
	}
	return string(runes[:maxExcerptRunes]) + "..."
}

func closeSession(sess *session, logger *slog.Logger) {
	if sess == nil || sess.registry == nil {
		return
	}
	for _, err := range sess.registry.CloseAll() {
		logger.Warn("error closing knowledge server session", "error", err)
	}
}
