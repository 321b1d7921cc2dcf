// Package sagaerr defines the saga error taxonomy shared by the tool loop
// and the stage orchestrator.
package sagaerr

import "errors"

// Sentinel reasons. A StageError always wraps exactly one of these.
var (
	ErrUnsafeStatement        = errors.New("unsafe statement")
	ErrSqlNotProduced         = errors.New("sql not produced")
	ErrExecutionFailed        = errors.New("execution failed")
	ErrIterationBudgetExceeded = errors.New("iteration budget exceeded")
	ErrLoopTimeout            = errors.New("loop timeout")
	ErrNoLiveTool             = errors.New("no live tool")
	ErrStateStoreUnavailable  = errors.New("state store unavailable")
	ErrBusUnavailable         = errors.New("bus unavailable")
	ErrSagaDeadline           = errors.New("saga deadline exceeded")
	ErrIrrelevant             = errors.New("question irrelevant")

	// ErrNoContextAvailable is C7's failure mode when a tenant's knowledge
	// base collection is empty at query time.
	ErrNoContextAvailable = errors.New("no context available")
)

// Retryable reports whether the bus message that triggered err should be
// redelivered (nacked without an ack) rather than terminally written.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNoLiveTool),
		errors.Is(err, ErrStateStoreUnavailable),
		errors.Is(err, ErrBusUnavailable):
		return true
	default:
		return false
	}
}

// StageError ties a sentinel reason to the saga it occurred in and an
// optional human message, mirroring the status/error_message pair
// persisted on the Saga Record.
type StageError struct {
	Stage   string
	Reason  error
	Message string
}

func (e *StageError) Error() string {
	if e.Message != "" {
		return e.Stage + ": " + e.Message
	}
	return e.Stage + ": " + e.Reason.Error()
}

func (e *StageError) Unwrap() error { return e.Reason }

// NewStageError builds a StageError, defaulting Message to reason.Error().
func NewStageError(stage string, reason error, message string) *StageError {
	if message == "" {
		message = reason.Error()
	}
	return &StageError{Stage: stage, Reason: reason, Message: message}
}
