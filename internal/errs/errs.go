// Package errs defines the error taxonomy shared by every layer of the
// orchestrator: transport, routing, search, the LLM loop, and the HTTP
// adapter all classify failures against these sentinels via errors.Is, and
// the HTTP adapter maps them to status codes.
package errs

import (
	"errors"
	"strconv"
)

var (
	// ErrTransport marks a failure to communicate with a knowledge-server
	// subprocess: the process died, stdin/stdout broke, or the connection
	// was never established.
	ErrTransport = errors.New("transport error")

	// ErrTimeout marks a single RPC call or tool invocation that exceeded
	// its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrUnknownServer marks a reference to a server name absent from the
	// configured server set.
	ErrUnknownServer = errors.New("unknown server")

	// ErrUnknownTool marks a tool_use call naming a tool absent from the
	// merged tool registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrUpstream marks a call that reached a knowledge server and
	// received an application-level error back.
	ErrUpstream = errors.New("upstream error")

	// ErrParse marks malformed JSON from either a knowledge server or the
	// LLM's final answer.
	ErrParse = errors.New("parse error")

	// ErrCancelled marks a workflow or call abandoned because its caller
	// cancelled the context, not because anything failed.
	ErrCancelled = errors.New("cancelled")

	// ErrConfig marks a configuration problem detected at startup or load
	// time: an unreadable servers directory or an invalid region catalog.
	ErrConfig = errors.New("configuration error")

	// ErrDeadlineExceeded marks a workflow run that did not complete
	// before its configured workflow_timeout_ms deadline.
	ErrDeadlineExceeded = errors.New("workflow deadline exceeded")
)

// UpstreamError carries the code and message a knowledge server attached
// to a JSON-RPC error response, wrapped so callers can still match it with
// errors.Is(err, ErrUpstream).
type UpstreamError struct {
	Server  string
	Code    int
	Message string
}

func (e *UpstreamError) Error() string {
	return e.Server + ": upstream error " + strconv.Itoa(e.Code) + ": " + e.Message
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstream
}

// StatusCode maps an error into the HTTP status the inward adapter should
// return. Matching is by errors.Is against the sentinels above, most
// specific first; an error matching none of them maps to 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrConfig):
		return 503
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrDeadlineExceeded):
		return 504
	case errors.Is(err, ErrCancelled):
		return 499
	default:
		return 500
	}
}
