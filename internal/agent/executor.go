package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/clinical-cds/orchestrator/internal/llm"
	"github.com/clinical-cds/orchestrator/internal/observability"
	"github.com/clinical-cds/orchestrator/internal/rpc"
)

// ToolCaller dispatches a single tool call by name.
type ToolCaller interface {
	Call(ctx context.Context, name string, arguments map[string]any) (rpc.CallResult, error)
}

// executeToolUseBlocks runs every tool_use block concurrently through
// caller and returns the matching tool_result blocks in the same order as
// calls, regardless of which call finishes first. This is the ordering
// invariant spec testable property #4 requires: tool_use ids [a, b, c]
// must come back as tool_result ids [a, b, c].
func executeToolUseBlocks(ctx context.Context, caller ToolCaller, calls []llm.Block, events *observability.EventRecorder, tracer *observability.Tracer) []llm.Block {
	results := make([]llm.Block, len(calls))
	done := make(chan int, len(calls))

	for i, call := range calls {
		go func(i int, call llm.Block) {
			results[i] = executeOne(ctx, caller, call, events, tracer)
			done <- i
		}(i, call)
	}
	for range calls {
		<-done
	}
	return results
}

func executeOne(ctx context.Context, caller ToolCaller, call llm.Block, events *observability.EventRecorder, tracer *observability.Tracer) llm.Block {
	var span trace.Span
	if tracer != nil {
		ctx, span = tracer.TraceToolExecution(ctx, call.Name)
		defer span.End()
	}

	var args map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			err = fmt.Errorf("invalid tool arguments: %w", err)
			if span != nil {
				tracer.RecordError(span, err)
			}
			return llm.ToolResultBlock(call.ID, errorPayload(err), true)
		}
	}

	start := time.Now()
	if events != nil {
		events.RecordToolStart(ctx, call.Name, args)
	}

	result, err := caller.Call(ctx, call.Name, args)
	if events != nil {
		events.RecordToolEnd(ctx, call.Name, time.Since(start), nil, err)
	}
	if span != nil {
		tracer.RecordError(span, err)
	}
	if err != nil {
		return llm.ToolResultBlock(call.ID, errorPayload(err), true)
	}
	return llm.ToolResultBlock(call.ID, result.Text(), false)
}

func errorPayload(err error) string {
	payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return `{"error":"tool execution failed"}`
	}
	return string(payload)
}
