package domain

import "fmt"

// InvalidArgumentError marks malformed or out-of-policy input: empty ids,
// zero or skewed timestamps, cross-reference mismatches. Always
// caller-fixable, never retried.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError marks a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found"
}

// ConflictError marks an operation that would violate a state invariant:
// book unavailable, loan already returned, active loan blocking deletion,
// duplicate email. Retrying only makes sense after the conflicting
// condition changes.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// InvalidArgument builds an InvalidArgumentError for the named field.
func InvalidArgument(field, reason string) error {
	return &InvalidArgumentError{Field: field, Reason: reason}
}

// NotFound builds a NotFoundError for the named entity.
func NotFound(entity string) error {
	return &NotFoundError{Entity: entity}
}

// Conflict builds a ConflictError with the given reason.
func Conflict(reason string) error {
	return &ConflictError{Reason: reason}
}
