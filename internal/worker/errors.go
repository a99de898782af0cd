// File: internal/worker/errors.go
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/api/schemas"
)

// ErrSessionNotInitialized is returned by a Session when no page is available yet.
var ErrSessionNotInitialized = errors.New("browser session not initialized")

// SelectorNotFoundError reports a target that never attached to the DOM within
// the guard timeout. The underlying wait error is intentionally not kept.
type SelectorNotFoundError struct {
	Selector string
}

func (e *SelectorNotFoundError) Error() string {
	return fmt.Sprintf("Selector not found: %s", e.Selector)
}

// ActionTimeoutError reports a guarded page operation that did not complete in time.
type ActionTimeoutError struct {
	Action string
}

func (e *ActionTimeoutError) Error() string {
	return fmt.Sprintf("Action timed out: %s", e.Action)
}

// Unwrap lets callers match the timeout with errors.Is(err, context.DeadlineExceeded).
func (e *ActionTimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ExecutionError wraps any other failure escaping a page operation.
type ExecutionError struct {
	Op  Operation
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// UnsupportedActionError is returned for an action kind outside the fixed vocabulary.
type UnsupportedActionError struct {
	Kind schemas.ActionKind
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("unsupported action kind %q", string(e.Kind))
}

// -- Error Policy --

// Operation names a page interaction whose failure handling is decided by ErrorPolicies.
type Operation string

const (
	OpEnsureExists Operation = "ensure_exists"
	OpGuardedOp    Operation = "guarded_op"
	OpSettle       Operation = "settle"
	OpPause        Operation = "pause"
	OpKeypress     Operation = "keypress"
	OpTiming       Operation = "timing"
	OpDOM          Operation = "dom"
	OpScreenshot   Operation = "screenshot"
)

// Policy states what happens to an error raised by an Operation.
type Policy int

const (
	// Propagate returns the error to the caller, ending the cycle on the failure path.
	Propagate Policy = iota
	// Absorb logs the error and continues as if the operation succeeded.
	Absorb
)

func (p Policy) String() string {
	switch p {
	case Propagate:
		return "propagate"
	case Absorb:
		return "absorb"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ErrorPolicies is the single table deciding which page operation failures
// become visible to the engine. Operations missing from the table propagate.
var ErrorPolicies = map[Operation]Policy{
	OpEnsureExists: Propagate,
	OpGuardedOp:    Propagate,
	OpSettle:       Absorb,
	OpPause:        Propagate,
	OpKeypress:     Propagate,
	OpTiming:       Absorb,
	OpDOM:          Propagate,
	OpScreenshot:   Absorb,
}

// PolicyFor looks up the policy of op.
func PolicyFor(op Operation) Policy {
	if p, ok := ErrorPolicies[op]; ok {
		return p
	}
	return Propagate
}

// applyPolicy returns err or nil depending on the policy of op. Absorbed
// errors are logged at debug level.
func applyPolicy(logger *zap.Logger, op Operation, err error) error {
	if err == nil {
		return nil
	}
	if PolicyFor(op) == Absorb {
		logger.Debug("Absorbed page operation error.", zap.String("operation", string(op)), zap.Error(err))
		return nil
	}
	return err
}

// wrapExecution turns a raw page error into an ExecutionError unless it is
// already one of the classified kinds.
func wrapExecution(op Operation, err error) error {
	if err == nil {
		return nil
	}
	var snf *SelectorNotFoundError
	var ate *ActionTimeoutError
	var ee *ExecutionError
	if errors.As(err, &snf) || errors.As(err, &ate) || errors.As(err, &ee) {
		return err
	}
	return &ExecutionError{Op: op, Err: err}
}

// panicError converts a recovered panic value into an error.
func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
