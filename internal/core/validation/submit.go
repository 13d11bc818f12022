// Package validation provides pure validation functions for API handlers.
//
// All functions are pure (no I/O, no side effects); handlers use them to
// reject malformed requests before they reach the state machine.
package validation

// ValidateSubmitFields validates required fields for a template submission.
// Returns the field name and error message if validation fails.
// Returns empty strings if all fields are valid.
func ValidateSubmitFields(name, contentRef, submittedBy string) (field, message string) {
	if name == "" {
		return "name", "name is required"
	}
	if contentRef == "" {
		return "content_ref", "content_ref is required"
	}
	if submittedBy == "" {
		return "submitted_by", "submitted_by is required"
	}
	return "", ""
}

// ValidateRejectFields validates required fields for an administrative
// rejection.
func ValidateRejectFields(reason string) (field, message string) {
	if reason == "" {
		return "reason", "reason is required"
	}
	return "", ""
}
