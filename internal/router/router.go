// Package router implements the merged view of every tool advertised by
// every open session, with first-discovered-wins conflict resolution and
// JSON Schema argument validation before a call reaches a server.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/clinical-cds/orchestrator/internal/errs"
	"github.com/clinical-cds/orchestrator/internal/registry"
	"github.com/clinical-cds/orchestrator/internal/rpc"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

// entry pairs a tool's descriptor with the server it was discovered on and
// its compiled schema, used to validate tools/call arguments before
// dispatch.
type entry struct {
	descriptor clinical.ToolDescriptor
	session    *registry.Session
	schema     *jsonschema.Schema
}

// Router is the merged, conflict-resolved tool registry built from a
// Registry's open sessions. Tool name is the only thing a caller needs to
// know to invoke a tool; Router resolves it to the right server.
type Router struct {
	tools  map[string]*entry
	logger *slog.Logger
}

// Build scans every open session's advertised tools in session order and
// registers each tool name once. A later session offering a tool name
// already claimed by an earlier one loses the conflict and is logged at
// Warn, never silently overwritten — first-discovered-wins is the
// resolution policy.
func Build(sessions []*registry.Session) *Router {
	r := &Router{
		tools:  make(map[string]*entry),
		logger: slog.Default().With("component", "router"),
	}
	for _, session := range sessions {
		for _, td := range session.Tools {
			if existing, ok := r.tools[td.Name]; ok {
				r.logger.Warn("tool name conflict, keeping first registration",
					"tool", td.Name, "kept_server", existing.session.ServerID, "discarded_server", session.ServerID)
				continue
			}
			r.tools[td.Name] = &entry{
				descriptor: clinical.ToolDescriptor{
					ServerName:  session.ServerID,
					Name:        td.Name,
					Description: td.Description,
					InputSchema: td.InputSchema,
				},
				session: session,
				schema:  compileSchema(td.Name, td.InputSchema),
			}
		}
	}
	return r
}

func compileSchema(name string, raw json.RawMessage) *jsonschema.Schema {
	if len(raw) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	resourceName := "tool:" + name
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		slog.Default().Warn("could not register tool schema, skipping validation", "tool", name, "error", err)
		return nil
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		slog.Default().Warn("could not compile tool schema, skipping validation", "tool", name, "error", err)
		return nil
	}
	return schema
}

// Tools returns every registered tool descriptor, for forwarding to the
// LLM as its available tool set.
func (r *Router) Tools() []clinical.ToolDescriptor {
	out := make([]clinical.ToolDescriptor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.descriptor)
	}
	return out
}

// Lookup returns the descriptor for name without invoking it.
func (r *Router) Lookup(name string) (clinical.ToolDescriptor, bool) {
	e, ok := r.tools[name]
	if !ok {
		return clinical.ToolDescriptor{}, false
	}
	return e.descriptor, true
}

// Call validates arguments against the tool's schema (when one compiled
// successfully) and dispatches to the owning session.
func (r *Router) Call(ctx context.Context, name string, arguments map[string]any) (rpc.CallResult, error) {
	e, ok := r.tools[name]
	if !ok {
		return rpc.CallResult{}, fmt.Errorf("%w: %s", errs.ErrUnknownTool, name)
	}
	if e.schema != nil {
		if err := e.schema.Validate(toAny(arguments)); err != nil {
			return rpc.CallResult{}, fmt.Errorf("%w: arguments for %s: %v", errs.ErrParse, name, err)
		}
	}
	return e.session.CallTool(ctx, name, arguments)
}

func toAny(arguments map[string]any) any {
	data, err := json.Marshal(arguments)
	if err != nil {
		return arguments
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return arguments
	}
	return v
}
