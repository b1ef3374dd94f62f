package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(CodeInvalidPlan, "plan shape is invalid")

	assert.Equal(t, CodeInvalidPlan, err.Code)
	assert.Equal(t, "plan shape is invalid", err.Message)
	assert.NotNil(t, err.Context)
	assert.NotEmpty(t, err.Stack)
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, CodeStoreConnection, "failed to reach store")

	assert.Equal(t, CodeStoreConnection, err.Code)
	assert.Equal(t, cause, err.Cause)
	assert.ErrorIs(t, err, cause)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "ignored %d", 1))
}

func TestErrorFormat(t *testing.T) {
	err := New(CodeStepTimeout, "step exceeded deadline").
		WithComponent("scheduler").
		WithOperation("execute_step").
		WithContext("step_id", "s1")

	msg := err.Error()
	assert.Contains(t, msg, "[STEP_TIMEOUT]")
	assert.Contains(t, msg, "[scheduler]")
	assert.Contains(t, msg, "operation=execute_step")
	assert.Contains(t, msg, "step_id=s1")
}

func TestWithCorrelation(t *testing.T) {
	err := New(CodeStepExecution, "boom").WithCorrelation("corr-1", "exec-1")

	assert.Equal(t, "corr-1", err.Context["correlation_id"])
	assert.Equal(t, "exec-1", err.Context["execution_id"])

	// Empty IDs must not pollute the context.
	err = New(CodeStepExecution, "boom").WithCorrelation("", "")
	assert.NotContains(t, err.Context, "correlation_id")
	assert.NotContains(t, err.Context, "execution_id")
}

func TestIs(t *testing.T) {
	err := New(CodePlanNotFound, "no such plan")

	assert.True(t, errors.Is(err, New(CodePlanNotFound, "other message")))
	assert.False(t, errors.Is(err, New(CodeExecutionNotFound, "no such plan")))
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "flow error",
			err:  New(CodeBusOverflow, "buffer full"),
			want: CodeBusOverflow,
		},
		{
			name: "wrapped flow error",
			err:  fmt.Errorf("outer: %w", New(CodeStepTimeout, "late")),
			want: CodeStepTimeout,
		},
		{
			name: "plain error",
			err:  fmt.Errorf("plain"),
			want: CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetCode(tt.err))
		})
	}
}

func TestRootCause(t *testing.T) {
	root := fmt.Errorf("root")
	err := Wrap(Wrap(root, CodeToolExecution, "tool failed"), CodeStepExecution, "step failed")

	assert.Equal(t, root, RootCause(err))
	assert.Len(t, ErrorChain(err), 3)
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.Nil(t, FromContext(ctx))

	cancel()
	err := FromContext(ctx)
	require.NotNil(t, err)
	assert.Equal(t, CodeContextCanceled, err.Code)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeStepTimeout, "late")))
	assert.True(t, IsRetryable(New(CodeToolExecution, "flaky")))
	assert.False(t, IsRetryable(New(CodeExecutionCancelled, "cancelled")))
	assert.False(t, IsRetryable(New(CodeInvalidPlan, "bad")))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(New(CodeExecutionCancelled, "cancelled")))
	assert.True(t, IsTerminal(New(CodeCyclicDependency, "cycle")))
	assert.False(t, IsTerminal(New(CodeStepTimeout, "late")))
}

func TestWithRetry(t *testing.T) {
	err := WithRetry(New(CodeToolExecution, "flaky"), 2, 3)
	assert.Equal(t, 2, err.Context["retry_attempt"])
	assert.Equal(t, 3, err.Context["max_attempts"])

	plain := WithRetry(fmt.Errorf("plain"), 1, 3)
	assert.Equal(t, CodeStepExecution, plain.Code)
	assert.Nil(t, WithRetry(nil, 0, 0))
}
