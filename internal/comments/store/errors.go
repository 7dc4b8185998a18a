package store

import "fmt"

// ValidationError reports malformed or policy-violating input. It is
// surfaced to the caller with field-level detail and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// PermissionError reports a mutation attempted by someone other than the
// author or a privileged actor.
type PermissionError struct {
	Op string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: not the author", e.Op)
}

// NotFoundError reports an unresolvable id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s does not exist", e.Kind, e.ID)
}

// IntegrityError reports data corruption, such as a parent walk exceeding
// its depth bound. It is logged and surfaced as a generic server failure,
// never silently corrected.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "integrity: " + e.Reason
}
