// Package apperr holds the error taxonomy shared by the batch jobs and the
// serving process. Callers wrap one of the sentinels with fmt.Errorf("%w")
// and classify with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks missing or invalid settings and unusable
	// storage. Fatal for batch jobs.
	ErrConfiguration = errors.New("configuration error")

	// ErrPrecondition marks input that a single run cannot work with, such as
	// too few customers to cluster. The run aborts and the prior generation
	// stays active.
	ErrPrecondition = errors.New("precondition failed")

	// ErrDataIntegrity marks a malformed row. Rows carrying it are dropped
	// and counted, never fatal.
	ErrDataIntegrity = errors.New("data integrity")
)

// Exit codes returned by the batch binaries.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
	ExitPrecondition  = 3
)

// ExitCode maps err onto a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConfiguration):
		return ExitConfiguration
	case errors.Is(err, ErrPrecondition):
		return ExitPrecondition
	default:
		return ExitFailure
	}
}

// Configuration wraps a message as a configuration error.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Precondition wraps a message as a precondition error.
func Precondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// DataIntegrity wraps a message as a row-level data error.
func DataIntegrity(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataIntegrity, fmt.Sprintf(format, args...))
}
