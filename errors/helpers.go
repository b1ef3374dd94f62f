package errors

import (
	"context"
)

// WithRetry annotates an error with retry bookkeeping. Used by the scheduler
// when a step fails and a retry decision has been made.
func WithRetry(err error, attempt, maxAttempts int) *FlowError {
	if err == nil {
		return nil
	}

	if flowErr, ok := err.(*FlowError); ok {
		return flowErr.
			WithContext("retry_attempt", attempt).
			WithContext("max_attempts", maxAttempts)
	}

	return Wrap(err, CodeStepExecution, "step failed").
		WithContext("retry_attempt", attempt).
		WithContext("max_attempts", maxAttempts)
}

// FromContext converts a context error into the corresponding coded error.
// Returns nil when ctx.Err() is nil.
func FromContext(ctx context.Context) *FlowError {
	switch ctx.Err() {
	case context.Canceled:
		return New(CodeContextCanceled, "context canceled")
	case context.DeadlineExceeded:
		return New(CodeContextTimeout, "context deadline exceeded")
	default:
		return nil
	}
}

// IsRetryable reports whether the scheduler may re-enqueue a step that failed
// with this error. Cancellation and validation failures are terminal.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeStepTimeout, CodeToolExecution, CodeLLMRequest, CodeLLMTimeout,
		CodeStoreConnection, CodeContextTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the error represents an absorbing failure that
// must not be retried regardless of the step's retry budget.
func IsTerminal(err error) bool {
	switch GetCode(err) {
	case CodeExecutionCancelled, CodeContextCanceled, CodeInvalidPlan,
		CodeCyclicDependency, CodeInvalidInput:
		return true
	default:
		return false
	}
}
