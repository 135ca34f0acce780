package engine

import (
	"errors"
	"strings"
)

// Sentinels the transport layer maps onto status codes with errors.Is.
var (
	// ErrStageConflict marks an operation attempted at the wrong stage.
	ErrStageConflict = errors.New("stage conflict")
	// ErrInvalidInput marks a rejected intake or decision payload.
	ErrInvalidInput = errors.New("invalid input")
)

// StepError is a fatal pipeline step failure. Type is one of the run
// error type constants and matches the ErrorType recorded on the run.
type StepError struct {
	Type string
	Err  error
}

func (e *StepError) Error() string {
	return strings.ToLower(e.Type) + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }
