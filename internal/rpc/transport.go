package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/clinical-cds/orchestrator/internal/errs"
	"github.com/clinical-cds/orchestrator/internal/observability"
)

const defaultCallTimeout = 30 * time.Second

// Transport owns one knowledge-server subprocess: it frames requests as
// newline-delimited JSON on stdin, correlates responses by request id off
// stdout, and forwards stderr to the logger for diagnostics.
type Transport struct {
	spec   ServerSpec
	logger *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	stderr  io.ReadCloser

	pending   map[int64]chan *response
	pendingMu sync.Mutex
	nextID    atomic.Int64

	connected           atomic.Bool
	consecutiveTimeouts atomic.Int32
	stopChan            chan struct{}
	wg                  sync.WaitGroup

	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewTransport builds a Transport for spec. Connect must be called before
// any Call.
func NewTransport(spec ServerSpec) *Transport {
	return &Transport{
		spec:     spec,
		logger:   slog.Default().With("server", spec.ID),
		pending:  make(map[int64]chan *response),
		stopChan: make(chan struct{}),
	}
}

// SetMetrics attaches metrics this transport's tool calls report against.
// Left nil, CallTool records nothing; cmd/clinicalctl wires a shared
// *observability.Metrics in once at startup.
func (t *Transport) SetMetrics(metrics *observability.Metrics) {
	t.metrics = metrics
}

// SetTracer attaches a tracer this transport's tool calls open a
// rpc.<tool> client span under. Left nil, CallTool traces nothing.
func (t *Transport) SetTracer(tracer *observability.Tracer) {
	t.tracer = tracer
}

// Connect spawns the subprocess and starts the reader and stderr-logging
// goroutines. The subprocess is tied to ctx: cancelling ctx kills it.
func (t *Transport) Connect(ctx context.Context) error {
	if t.spec.Command == "" {
		return fmt.Errorf("%w: server %s has no command", errs.ErrConfig, t.spec.ID)
	}

	t.process = exec.CommandContext(ctx, t.spec.Command, t.spec.Args...)
	t.process.Env = os.Environ()
	for k, v := range t.spec.Env {
		t.process.Env = append(t.process.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if t.spec.WorkDir != "" {
		t.process.Dir = t.spec.WorkDir
	}

	var err error
	t.stdin, err = t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe for %s: %v", errs.ErrTransport, t.spec.ID, err)
	}

	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe for %s: %v", errs.ErrTransport, t.spec.ID, err)
	}
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 1024*1024), 1024*1024)

	t.stderr, _ = t.process.StderrPipe()

	if err := t.process.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", errs.ErrTransport, t.spec.ID, err)
	}

	t.connected.Store(true)
	t.logger.Info("started knowledge server process", "command", t.spec.Command, "pid", t.process.Process.Pid)

	t.wg.Add(1)
	go t.readLoop()

	if t.stderr != nil {
		t.wg.Add(1)
		go t.logStderr()
	}

	return nil
}

// Close terminates the subprocess and waits for the reader goroutines to
// exit. Safe to call once a transport has failed to connect.
func (t *Transport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.stopChan)

	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		t.process.Process.Kill()
	}

	t.wg.Wait()
	return nil
}

// Connected reports whether the subprocess is currently believed alive.
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Initialize performs the initialize/initialized handshake and returns the
// remote server's advertised name.
func (t *Transport) Initialize(ctx context.Context) (string, error) {
	raw, err := t.call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]string{"name": "clinical-cds-orchestrator", "version": "1.0.0"},
	})
	if err != nil {
		return "", err
	}
	var result initializeResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return "", fmt.Errorf("%w: decode initialize result from %s: %v", errs.ErrParse, t.spec.ID, err)
		}
	}
	if err := t.notify(ctx, "notifications/initialized", nil); err != nil {
		return "", err
	}
	return result.ServerInfo.Name, nil
}

// ListTools calls tools/list and returns the advertised tool set.
func (t *Transport) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	raw, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("%w: decode tools/list from %s: %v", errs.ErrParse, t.spec.ID, err)
		}
	}
	return result.Tools, nil
}

// CallTool invokes tools/call for name with arguments and returns the
// decoded content blocks.
func (t *Transport) CallTool(ctx context.Context, name string, arguments map[string]any) (CallResult, error) {
	var span trace.Span
	if t.tracer != nil {
		ctx, span = t.tracer.TraceRPCCall(ctx, t.spec.ID, name)
		defer span.End()
	}

	start := time.Now()
	result, err := t.callTool(ctx, name, arguments)

	if span != nil {
		t.tracer.RecordError(span, err)
	}
	t.recordCallMetrics(name, start, err)
	return result, err
}

func (t *Transport) recordCallMetrics(name string, start time.Time, err error) {
	if t.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	t.metrics.RPCCallCounter.WithLabelValues(t.spec.ID, name, status).Inc()
	t.metrics.RPCCallDuration.WithLabelValues(t.spec.ID, name).Observe(time.Since(start).Seconds())
}

func (t *Transport) callTool(ctx context.Context, name string, arguments map[string]any) (CallResult, error) {
	params := map[string]any{"name": name, "arguments": arguments}
	raw, err := t.call(ctx, "tools/call", params)
	if err != nil {
		return CallResult{}, err
	}
	var result CallResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return CallResult{}, fmt.Errorf("%w: decode tools/call result from %s: %v", errs.ErrParse, t.spec.ID, err)
		}
	}
	return result, nil
}

// call sends a request and blocks for its matching response, honoring
// ctx cancellation and the transport's configured RPC timeout.
func (t *Transport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("%w: %s is not connected", errs.ErrTransport, t.spec.ID)
	}

	id := t.nextID.Add(1)
	req := request{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		req.Params = paramsJSON
	}

	respChan := make(chan *response, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request for %s: %w", method, err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("%w: write %s to %s: %v", errs.ErrTransport, method, t.spec.ID, err)
	}

	timeout := defaultCallTimeout
	if t.spec.Timeout > 0 {
		timeout = time.Duration(t.spec.Timeout) * time.Millisecond
	}

	select {
	case resp := <-respChan:
		t.consecutiveTimeouts.Store(0)
		if resp.Error != nil {
			return nil, &errs.UpstreamError{Server: t.spec.ID, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s %s: %v", errs.ErrCancelled, t.spec.ID, method, ctx.Err())
	case <-time.After(timeout):
		if t.consecutiveTimeouts.Add(1) >= 2 {
			t.logger.Warn("two consecutive call timeouts, force-closing transport", "server", t.spec.ID)
			t.Close()
		}
		return nil, fmt.Errorf("%w: %s %s after %v", errs.ErrTimeout, t.spec.ID, method, timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("%w: %s closed mid-call", errs.ErrTransport, t.spec.ID)
	}
}

func (t *Transport) notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("%w: %s is not connected", errs.ErrTransport, t.spec.ID)
	}
	notif := notification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params for %s: %w", method, err)
		}
		notif.Params = paramsJSON
	}
	data, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal notification %s: %w", method, err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write %s to %s: %v", errs.ErrTransport, method, t.spec.ID, err)
	}
	return nil
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	for t.stdout.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		line := t.stdout.Text()
		if line == "" {
			continue
		}
		t.processLine(line)
	}
	if err := t.stdout.Err(); err != nil {
		t.logger.Error("stdout scanner error", "error", err)
	}
}

func (t *Transport) processLine(line string) {
	var resp response
	if err := json.Unmarshal([]byte(line), &resp); err == nil && resp.ID != nil {
		var id int64
		switch v := resp.ID.(type) {
		case float64:
			id = int64(v)
		case int64:
			id = v
		case int:
			id = int64(v)
		default:
			t.logger.Warn("unexpected response id type", "id", resp.ID)
			return
		}
		t.pendingMu.Lock()
		if ch, ok := t.pending[id]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
	}
}

func (t *Transport) logStderr() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		if line := scanner.Text(); line != "" {
			t.logger.Debug("server stderr", "message", line)
		}
	}
}
