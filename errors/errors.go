// Package errors provides the structured error type shared by all agentflow
// components.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode categorizes framework errors for callers and observability.
type ErrorCode string

const (
	// Input errors (surfaced synchronously, nothing is registered)
	CodeInvalidGoal       ErrorCode = "INVALID_GOAL"
	CodeInvalidPlan       ErrorCode = "INVALID_PLAN"
	CodeCyclicDependency  ErrorCode = "CYCLIC_DEPENDENCY"
	CodeStrategyNotFound  ErrorCode = "STRATEGY_NOT_FOUND"
	CodeInvalidConfig     ErrorCode = "INVALID_CONFIG"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"

	// Planning errors
	CodePlanningFailed ErrorCode = "PLANNING_FAILED"
	CodePlanValidation ErrorCode = "PLAN_VALIDATION"
	CodePlanNotFound   ErrorCode = "PLAN_NOT_FOUND"
	CodeReplanFailed   ErrorCode = "REPLAN_FAILED"

	// Execution errors
	CodeStepExecution      ErrorCode = "STEP_EXECUTION"
	CodeStepTimeout        ErrorCode = "STEP_TIMEOUT"
	CodeStepSkipped        ErrorCode = "STEP_SKIPPED"
	CodeExecutionNotFound  ErrorCode = "EXECUTION_NOT_FOUND"
	CodeExecutionCancelled ErrorCode = "EXECUTION_CANCELLED"
	CodeExecutionTimeout   ErrorCode = "EXECUTION_TIMEOUT"
	CodeRetryExhausted     ErrorCode = "RETRY_EXHAUSTED"

	// Tool errors
	CodeToolExecution ErrorCode = "TOOL_EXECUTION"
	CodeToolNotFound  ErrorCode = "TOOL_NOT_FOUND"

	// LLM errors
	CodeLLMRequest ErrorCode = "LLM_REQUEST"
	CodeLLMTimeout ErrorCode = "LLM_TIMEOUT"

	// Event bus errors
	CodeBusOverflow     ErrorCode = "BUS_OVERFLOW"
	CodeBusClosed       ErrorCode = "BUS_CLOSED"
	CodeSubscriberError ErrorCode = "SUBSCRIBER_ERROR"

	// Observability errors
	CodeTracerDisposed  ErrorCode = "TRACER_DISPOSED"
	CodeTimelineClosed  ErrorCode = "TIMELINE_CLOSED"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// Resource errors
	CodeResourceDisposed ErrorCode = "RESOURCE_DISPOSED"
	CodeResourceLeak     ErrorCode = "RESOURCE_LEAK"

	// Store errors
	CodeStoreConnection    ErrorCode = "STORE_CONNECTION"
	CodeStoreSerialization ErrorCode = "STORE_SERIALIZATION"
	CodeStoreNotFound      ErrorCode = "STORE_NOT_FOUND"

	// General errors
	CodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
	CodeContextTimeout  ErrorCode = "CONTEXT_TIMEOUT"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeAlreadyExists   ErrorCode = "ALREADY_EXISTS"
	CodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// FlowError is the structured error type for all agentflow operations.
//
// It provides:
// - Error codes for categorization
// - Context preservation through the error chain
// - Stack trace information for debugging
// - Structured metadata for logging and monitoring
// - Operation-specific context
type FlowError struct {
	// Code categorizes the error type
	Code ErrorCode

	// Message is the human-readable error message
	Message string

	// Operation identifies what was being attempted
	Operation string

	// Component identifies which component raised the error
	Component string

	// Context provides structured metadata about the error
	Context map[string]interface{}

	// Cause is the underlying error (for error chain)
	Cause error

	// Stack contains the stack trace where the error was created
	Stack []StackFrame
}

// StackFrame represents a single frame in a stack trace
type StackFrame struct {
	File     string
	Line     int
	Function string
}

// Error implements the error interface
func (e *FlowError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s]", e.Code))

	if e.Component != "" {
		sb.WriteString(fmt.Sprintf(" [%s]", e.Component))
	}

	if e.Operation != "" {
		sb.WriteString(fmt.Sprintf(" operation=%s", e.Operation))
	}

	sb.WriteString(": ")
	sb.WriteString(e.Message)

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	return sb.String()
}

// Unwrap returns the underlying cause for error chain support
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Is supports error comparison with errors.Is
func (e *FlowError) Is(target error) bool {
	t, ok := target.(*FlowError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new FlowError with the given code and message
func New(code ErrorCode, message string) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
		Stack:   captureStack(2),
	}
}

// Newf creates a new FlowError with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *FlowError {
	return &FlowError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Context: make(map[string]interface{}),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with context
func Wrap(err error, code ErrorCode, message string) *FlowError {
	if err == nil {
		return nil
	}

	return &FlowError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *FlowError {
	if err == nil {
		return nil
	}

	return &FlowError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Context: make(map[string]interface{}),
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// WithOperation sets the operation context
func (e *FlowError) WithOperation(operation string) *FlowError {
	e.Operation = operation
	return e
}

// WithComponent sets the component context
func (e *FlowError) WithComponent(component string) *FlowError {
	e.Component = component
	return e
}

// WithContext adds a single key-value pair to the context
func (e *FlowError) WithContext(key string, value interface{}) *FlowError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithContextMap adds multiple key-value pairs to the context
func (e *FlowError) WithContextMap(ctx map[string]interface{}) *FlowError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	for k, v := range ctx {
		e.Context[k] = v
	}
	return e
}

// WithCorrelation attaches the correlation identifiers carried by most
// framework errors so log pipelines can join them with events and spans.
func (e *FlowError) WithCorrelation(correlationID, executionID string) *FlowError {
	if correlationID != "" {
		e.WithContext("correlation_id", correlationID)
	}
	if executionID != "" {
		e.WithContext("execution_id", executionID)
	}
	return e
}

// GetCode extracts the error code from any error
func GetCode(err error) ErrorCode {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Code
	}
	return CodeInternal
}

// GetOperation extracts the operation from any error
func GetOperation(err error) string {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Operation
	}
	return ""
}

// GetComponent extracts the component from any error
func GetComponent(err error) string {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Component
	}
	return ""
}

// GetContext extracts the context from any error
func GetContext(err error) map[string]interface{} {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Context
	}
	return nil
}

// IsCode checks if an error has the specified code
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsFlowError checks if an error is a FlowError
func IsFlowError(err error) bool {
	var flowErr *FlowError
	return errors.As(err, &flowErr)
}

// captureStack captures the current stack trace
func captureStack(skip int) []StackFrame {
	const maxDepth = 32
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(skip+1, pcs)

	frames := make([]StackFrame, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()
		frames = append(frames, StackFrame{
			File:     frame.File,
			Line:     frame.Line,
			Function: frame.Function,
		})

		if !more {
			break
		}
	}

	return frames
}

// FormatStack formats the stack trace for logging
func (e *FlowError) FormatStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Stack trace:\n")
	for _, frame := range e.Stack {
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", frame.File, frame.Line, frame.Function))
	}
	return sb.String()
}

// ErrorChain returns all errors in the error chain
func ErrorChain(err error) []error {
	var chain []error
	for err != nil {
		chain = append(chain, err)
		err = errors.Unwrap(err)
	}
	return chain
}

// RootCause returns the root cause of the error chain
func RootCause(err error) error {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}
