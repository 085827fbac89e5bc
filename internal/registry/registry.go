// Package registry implements the session registry that opens every
// configured knowledge-server subprocess, keeps them connected for the
// duration of a workflow, and tears them all down together.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/clinical-cds/orchestrator/internal/errs"
	"github.com/clinical-cds/orchestrator/internal/observability"
	"github.com/clinical-cds/orchestrator/internal/rpc"
)

// Session is one connected knowledge server: its transport plus the tool
// set it advertised during Open.
type Session struct {
	ServerID string
	Name     string
	Tools    []rpc.ToolDescriptor

	transport *rpc.Transport
}

// CallTool invokes a tool on this session's server.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) (rpc.CallResult, error) {
	return s.transport.CallTool(ctx, name, arguments)
}

// Registry holds every session opened for one workflow run.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	events   *observability.EventRecorder
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   slog.Default().With("component", "registry"),
	}
}

// SetMetrics attaches metrics every session opened from this point on
// reports session-open outcomes and tool-call latency against.
func (r *Registry) SetMetrics(metrics *observability.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = metrics
}

// SetTracer attaches a tracer every session opened from this point on
// traces its tool calls under.
func (r *Registry) SetTracer(tracer *observability.Tracer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracer = tracer
}

// SetEvents attaches an event recorder: every session this registry opens
// or closes from this point on logs a server.connect/server.disconnect
// event against the run ID carried on the calling context.
func (r *Registry) SetEvents(events *observability.EventRecorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = events
}

// openResult carries one server's open outcome back from the fan-out in
// Open, so the barrier can both report partial failure and retain every
// session that did come up.
type openResult struct {
	serverID string
	session  *Session
	err      error
}

// Open connects to every server spec concurrently. A server that fails to
// connect or to list its tools is recorded as a warning and excluded from
// the registry; Open only returns an error if every server failed, since
// partial success should be collected rather than aborting the whole
// workflow over one bad server.
func (r *Registry) Open(ctx context.Context, specs []rpc.ServerSpec) (warnings []string, err error) {
	r.mu.RLock()
	metrics := r.metrics
	tracer := r.tracer
	events := r.events
	r.mu.RUnlock()

	results := make(chan openResult, len(specs))
	var wg sync.WaitGroup
	for _, spec := range specs {
		wg.Add(1)
		go func(spec rpc.ServerSpec) {
			defer wg.Done()
			session, openErr := openOne(ctx, spec, metrics, tracer)
			results <- openResult{serverID: spec.ID, session: session, err: openErr}
		}(spec)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	for res := range results {
		status := "success"
		if res.err != nil {
			status = "error"
			warnings = append(warnings, fmt.Sprintf("server %s: %v", res.serverID, res.err))
			r.logger.Warn("failed to open knowledge server session", "server", res.serverID, "error", res.err)
		} else {
			r.sessions[res.serverID] = res.session
			if events != nil {
				events.RecordServerEvent(ctx, observability.EventTypeServerConnect, res.serverID, nil)
			}
		}
		if metrics != nil {
			metrics.SessionOpenCounter.WithLabelValues(res.serverID, status).Inc()
		}
	}

	if len(r.sessions) == 0 && len(specs) > 0 {
		return warnings, fmt.Errorf("%w: no knowledge server could be reached", errs.ErrTransport)
	}
	return warnings, nil
}

func openOne(ctx context.Context, spec rpc.ServerSpec, metrics *observability.Metrics, tracer *observability.Tracer) (*Session, error) {
	transport := rpc.NewTransport(spec)
	transport.SetMetrics(metrics)
	transport.SetTracer(tracer)
	if err := transport.Connect(ctx); err != nil {
		return nil, err
	}

	name, err := transport.Initialize(ctx)
	if err != nil {
		transport.Close()
		return nil, err
	}

	tools, err := transport.ListTools(ctx)
	if err != nil {
		transport.Close()
		return nil, err
	}

	return &Session{ServerID: spec.ID, Name: name, Tools: tools, transport: transport}, nil
}

// Session returns the named server's open session.
func (r *Registry) Session(serverID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrUnknownServer, serverID)
	}
	return session, nil
}

// Sessions returns every currently open session.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll closes every open session, collecting but not stopping on
// individual close errors.
func (r *Registry) CloseAll() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var closeErrs []error
	for id, s := range r.sessions {
		if err := s.transport.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("close %s: %w", id, err))
		}
		if r.events != nil {
			r.events.RecordServerEvent(context.Background(), observability.EventTypeServerDisconnect, id, nil)
		}
	}
	r.sessions = make(map[string]*Session)
	return closeErrs
}
