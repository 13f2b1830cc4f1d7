package models

import "fmt"

// TallyError is a validation or state error raised by the tally domain
type TallyError struct {
	Message string
	cause   error
}

func (e TallyError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Is matches on the message so wrapped copies still compare equal to the sentinel
func (e TallyError) Is(target error) bool {
	t, ok := target.(TallyError)
	return ok && t.Message == e.Message
}

func (e TallyError) Unwrap() error {
	return e.cause
}

// Wrap attaches an underlying cause to the sentinel
func (e TallyError) Wrap(err error) TallyError {
	return TallyError{Message: e.Message, cause: err}
}

var (
	ErrInvalidDay     = TallyError{Message: "day must be formatted as YYYY-MM-DD"}
	ErrNegativeWindow = TallyError{Message: "duplicate window must not be negative"}
	ErrNegativeCount  = TallyError{Message: "count must not be negative"}
	ErrCorruptRoot    = TallyError{Message: "stored tally document is not valid JSON"}
	ErrEmptyCode      = TallyError{Message: "code cannot be empty"}
)
