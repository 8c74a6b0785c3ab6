package recurrence

import (
	"errors"
	"fmt"
)

// ErrInvalidRule marks a malformed recurrence definition. It is only returned
// while building an Event, never during expansion.
var ErrInvalidRule = errors.New("invalid recurrence rule")

type RuleError struct {
	Field  string
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidRule, e.Field, e.Reason)
}

func (e *RuleError) Unwrap() error {
	return ErrInvalidRule
}

func invalid(field, format string, args ...any) error {
	return &RuleError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
