package models

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownField      = errors.New("field key is empty")
	ErrEmptyResponse     = errors.New("empty model response")
	ErrNoImages          = errors.New("no images supplied")
)

// SchemaParseError means an extraction response was not valid structured JSON
// matching the declared field schema.
type SchemaParseError struct {
	Pass int
	Err  error
}

func (e *SchemaParseError) Error() string {
	return fmt.Sprintf("pass %d: invalid extraction response: %v", e.Pass, e.Err)
}

func (e *SchemaParseError) Unwrap() error { return e.Err }

// TransportError is a network, timeout or non-2xx failure talking to an external service.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TransitionError carries the rejected move and matches ErrInvalidTransition.
type TransitionError struct {
	DocumentID int64
	From, To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("document %d: cannot move from %s to %s", e.DocumentID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
