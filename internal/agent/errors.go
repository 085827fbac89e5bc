package agent

import "errors"

// ErrToolLoopExhausted marks a driver run that hit MaxIterations without
// the model reaching a non-tool_use stop reason. The caller still gets
// whatever the last assistant turn produced.
var ErrToolLoopExhausted = errors.New("tool_loop_exhausted")
