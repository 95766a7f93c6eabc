package agent

import (
	"errors"
	"fmt"
)

// ErrIterationBound signals the loop hit its tool round-trip limit without
// producing a final answer. A designed terminal state, not a hard failure.
var ErrIterationBound = errors.New("iteration bound reached")

// ErrNoCredentials signals that no API key could be resolved for the run.
var ErrNoCredentials = errors.New("no credentials available")

// LoopError wraps a failure inside the orchestration loop with the phase and
// iteration it occurred in, for structured logging.
type LoopError struct {
	Phase     Phase
	Iteration int
	Cause     error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agent loop %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}
