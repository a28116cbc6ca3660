// Package errs defines the error kinds surfaced by the build orchestrator.
// Every kind carries a string code so callers (the CLI, notification sinks)
// can classify a failure without matching on message text.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies a class of failure.
type Code string

const (
	CodeConfiguration         Code = "CONFIGURATION_ERROR"
	CodeUnknownStep           Code = "UNKNOWN_STEP"
	CodeUnsatisfiedDependency Code = "UNSATISFIED_DEPENDENCY"
	CodeValidation            Code = "VALIDATION_FAILED"
	CodeStepExecution         Code = "STEP_EXECUTION_FAILED"
	CodeInterrupted           Code = "INTERRUPTED"
	CodeUnknown               Code = "UNKNOWN"
)

type coder interface {
	Code() Code
}

// CodeOf returns the code of the first classified error in err's chain, or
// CodeUnknown when none is found.
func CodeOf(err error) Code {
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeUnknown
}

// ConfigurationError reports a bad, missing or ambiguous configuration input.
// It is always raised before any step touches the filesystem.
type ConfigurationError struct {
	Reason string
	Err    error
}

// Configurationf builds a ConfigurationError from a format string.
func Configurationf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
func (e *ConfigurationError) Code() Code    { return CodeConfiguration }

// UnknownStepError reports a step name that is not in the registry.
// Available is sorted.
type UnknownStepError struct {
	Name      string
	Available []string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("unknown step %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *UnknownStepError) Code() Code { return CodeUnknownStep }

// UnsatisfiedDependencyError reports a plan in which a step requires an
// artifact that no earlier step provides.
type UnsatisfiedDependencyError struct {
	Step    string
	Index   int
	Missing []string
}

func (e *UnsatisfiedDependencyError) Error() string {
	return fmt.Sprintf("step %q (position %d) requires artifacts no earlier step provides: %s",
		e.Step, e.Index, strings.Join(e.Missing, ", "))
}

func (e *UnsatisfiedDependencyError) Code() Code { return CodeUnsatisfiedDependency }

// ValidationError reports unmet step preconditions at run time.
type ValidationError struct {
	Step   string
	Reason string
	Err    error
}

// Validationf builds a ValidationError without a step name; the runner
// attributes it to the step that returned it.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	if e.Step == "" {
		return "validation failed: " + msg
	}
	return fmt.Sprintf("step %q validation failed: %s", e.Step, msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }
func (e *ValidationError) Code() Code    { return CodeValidation }

// StepExecutionError reports a step whose execution raised or returned an
// unsuccessful result.
type StepExecutionError struct {
	Step    string
	Message string
	Err     error
}

func (e *StepExecutionError) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("step %q failed: %s: %v", e.Step, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
	default:
		return fmt.Sprintf("step %q failed: %s", e.Step, e.Message)
	}
}

func (e *StepExecutionError) Unwrap() error { return e.Err }
func (e *StepExecutionError) Code() Code    { return CodeStepExecution }

// InterruptError reports an operator cancellation. Step is the first step
// that did not run.
type InterruptError struct {
	Step string
	Err  error
}

func (e *InterruptError) Error() string {
	if e.Step == "" {
		return "pipeline interrupted"
	}
	return fmt.Sprintf("pipeline interrupted before step %q", e.Step)
}

func (e *InterruptError) Unwrap() error { return e.Err }
func (e *InterruptError) Code() Code    { return CodeInterrupted }
