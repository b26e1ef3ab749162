package event

import (
	"fmt"
	"strings"
)

// FieldIssue describes one problem found while validating a field set
// against a schema.
type FieldIssue struct {
	Field  string
	Reason string
}

func (i FieldIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Reason)
}

// ValidationError reports every offending field found while constructing
// or decoding a record. Validation is exhaustive: all issues are collected
// in one pass so callers get full diagnostics in a single round trip.
type ValidationError struct {
	EventType string
	Issues    []FieldIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("event %q failed validation", e.EventType)
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("event %q failed validation: %s", e.EventType, strings.Join(parts, "; "))
}

// DuplicateSchemaError is returned when a schema is registered under an
// event type that already has a schema with a different shape. This is a
// configuration error and is fatal at registration time.
type DuplicateSchemaError struct {
	EventType string
}

func (e *DuplicateSchemaError) Error() string {
	return fmt.Sprintf("schema %q already registered with a different shape", e.EventType)
}
