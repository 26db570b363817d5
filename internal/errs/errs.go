// Package errs holds the domain sentinel errors shared by services and handlers.
package errs

import "errors"

var (
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrInteractionNotFound = errors.New("interaction not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNoChanges           = errors.New("no changes")
	ErrQueueFull           = errors.New("processing queue is full")
	ErrAIUnavailable       = errors.New("ai service unavailable")
)

// ValidationError carries a human readable reason while matching ErrInvalidInput.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError reports the rejected from/to pair while matching ErrInvalidTransition.
type TransitionError struct {
	From, To string
}

func (e *TransitionError) Error() string {
	return "cannot move ticket from " + e.From + " to " + e.To
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
