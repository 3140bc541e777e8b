package tools

import (
	"errors"
	"fmt"
)

// ErrToolUnavailable marks a request for a tool that is not in the
// caller's tool set.
var ErrToolUnavailable = errors.New("tool unavailable")

// ExternalCallError wraps a failure of an external system behind a
// tool (forge API, git, cluster). The orchestrator surfaces these as
// error observations rather than failing the turn.
type ExternalCallError struct {
	Tool string
	Err  error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("%s: external call failed: %v", e.Tool, e.Err)
}

func (e *ExternalCallError) Unwrap() error {
	return e.Err
}
