package export

import (
	"errors"
	"fmt"
)

// ErrUnserializableField marks text the calendar format cannot carry even
// after escaping, such as control characters or invalid UTF-8.
var ErrUnserializableField = errors.New("unserializable field")

type FieldError struct {
	SourceID string
	Field    string
	Reason   string
}

func (e *FieldError) Error() string {
	if e.SourceID == "" {
		return fmt.Sprintf("%s: %s: %s", ErrUnserializableField, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s of %s: %s", ErrUnserializableField, e.Field, e.SourceID, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrUnserializableField
}
