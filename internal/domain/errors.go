package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingImportFilter     = errors.New("either a case number or a step name is required")
	ErrConflictingImportFilter = errors.New("give either a case number or a step name, not both")
)

// ExtractionError is a model, transport or parse failure while extracting
// parameters. It never reaches the dispatcher; the extractor degrades to a
// zero-confidence result and logs it.
type ExtractionError struct {
	Method ExtractionMethod
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction %s: %v", e.Method, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return fmt.Sprintf("query execution failed: %v", e.Err) }

func (e *ExecutionError) Unwrap() error { return e.Err }

type ImportAuthError struct {
	Err error
}

func (e *ImportAuthError) Error() string { return fmt.Sprintf("case tracker authentication failed: %v", e.Err) }

func (e *ImportAuthError) Unwrap() error { return e.Err }

type ImportAttachmentError struct {
	AttachmentID string
	Err          error
}

func (e *ImportAttachmentError) Error() string {
	return fmt.Sprintf("attachment %s: %v", e.AttachmentID, e.Err)
}

func (e *ImportAttachmentError) Unwrap() error { return e.Err }

type IrrelevantQueryError struct {
	Reason string
}

func (e *IrrelevantQueryError) Error() string {
	if e.Reason == "" {
		return "question outside PMD/logs scope"
	}
	return e.Reason
}
