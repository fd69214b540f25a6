package runner

import (
	"errors"
	"fmt"
)

// ErrExecutionLost is returned when the backend goroutine died without a result.
var ErrExecutionLost = errors.New("execution lost")

// ConfigurationError reports a request this runner cannot execute.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type CheckoutError struct {
	Repo string
	Dir  string
	Err  error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("failed to checkout %s into %s: %v", e.Repo, e.Dir, e.Err)
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

type ExecutionError struct {
	Command string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("failed to run %q: %v", e.Command, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
