package schema

import (
	"errors"
	"fmt"
)

// ErrSchemaViolation marks a structurally invalid dataset. It is terminal for the submission.
var ErrSchemaViolation = errors.New("schema violation")

// ViolationError names the first offending record and field.
// Index is -1 when the payload is not an array of records.
type ViolationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ViolationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("schema violation: %s", e.Reason)
	}
	if e.Field == "" {
		return fmt.Sprintf("schema violation: record %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("schema violation: record %d: field %s: %s", e.Index, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrSchemaViolation.
func (e *ViolationError) Unwrap() error { return ErrSchemaViolation }
