// Package observability provides the orchestrator's monitoring and
// debugging surface through metrics, structured logging, an in-memory run
// timeline, and distributed tracing.
//
// # Overview
//
// The package implements three pillars plus a fourth, domain-specific one:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//  4. Events - An in-memory timeline of a single workflow run, for the
//     clinicalctl inspect command and post-hoc debugging
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Knowledge-server RPC call volume and latency (server, tool, status)
//   - Session open attempts per knowledge server
//   - LLM request volume and latency per provider/model
//   - Tool-use loop iteration counts
//   - Regional search fan-out outcomes and result counts
//   - Drug enrichment lookup outcomes
//   - End-to-end workflow duration and outcome
//
// Metrics has no convenience wrapper methods; callers record directly
// against its exported Prometheus vectors:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	result, err := transport.CallTool(ctx, "search_guidelines", args)
//	status := "success"
//	if err != nil {
//	    status = "error"
//	}
//	metrics.RPCCallCounter.WithLabelValues(serverID, "search_guidelines", status).Inc()
//	metrics.RPCCallDuration.WithLabelValues(serverID, "search_guidelines").Observe(time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic run/tool-call ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx := observability.AddRunID(ctx, runID)
//
//	logger.Info(ctx, "analyze started",
//	    "country_code", countryCode,
//	    "scenario_length", len(scenario),
//	)
//
//	logger.Error(ctx, "llm request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to follow one Analyze/AnalyzeLegacy
// run across the LLM, the tool-use loop, and every knowledge-server RPC
// call it fans out to:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "clinical-cds-orchestrator",
//	    Endpoint:    cfg.TraceEndpoint, // empty disables tracing
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceWorkflow(ctx, regionKey, "tool_use")
//	defer span.End()
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", model)
//	defer llmSpan.End()
//	if err != nil {
//	    tracer.RecordError(llmSpan, err)
//	}
//
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "search_guidelines")
//	defer toolSpan.End()
//
//	ctx, rpcSpan := tracer.TraceRPCCall(ctx, serverID, "search_guidelines")
//	defer rpcSpan.End()
//
// Every tracer-consuming field in this codebase is optional: rpc.Transport,
// registry.Registry, agent.Driver, llm.AnthropicClient, llm.OpenAIClient,
// and workflow.Orchestrator all default their *Tracer field to nil and
// guard every call site with a nil check, so a caller that never sets one
// pays no tracing cost.
//
// # Events
//
// EventRecorder builds a timeline of one workflow run: run start/end, each
// tool call's start/end, and LLM/server events, all keyed by the run ID
// carried on ctx. workflow.Orchestrator owns one EventRecorder per process
// and exposes its backing EventStore through Orchestrator.Events() so a
// caller (clinicalctl's inspect command, a future HTTP adapter) can render
// the timeline for a completed run:
//
//	runID := uuid.NewString()
//	ctx = observability.AddRunID(ctx, runID)
//	events.RecordRunStart(ctx, runID, map[string]interface{}{"path": "tool_use"})
//	defer events.RecordRunEnd(ctx, time.Since(start), err)
//
//	runEvents, _ := store.GetByRunID(runID)
//	timeline := observability.BuildTimeline(runEvents)
//	fmt.Println(observability.FormatTimeline(timeline))
//
// # Context Propagation
//
// Logging, tracing, and events all key off IDs carried on context:
//
//	ctx = observability.AddRunID(ctx, runID)
//	ctx = observability.AddToolCallID(ctx, callID)
//
//	logger.Info(ctx, "tool dispatched") // includes run_id
//
//	ctx, span := tracer.Start(ctx, "operation")
//	// trace context propagates to child spans
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Best Practices
//
//  1. Always propagate context to enable correlation
//  2. Use defer for span.End() to ensure spans are closed
//  3. Record errors on both metrics and traces
//  4. Use structured logging with key-value pairs
//  5. Nil-check optional *Metrics/*EventRecorder/*Tracer fields before use
//  6. Call the tracer's shutdown function during graceful shutdown
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - OpenTelemetry specification: https://opentelemetry.io/docs/specs/otel/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
