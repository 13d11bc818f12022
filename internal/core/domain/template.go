// Package domain contains the core domain types and lifecycle logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// Name validation errors
	ErrNameRequired     = errors.New("name is required")
	ErrNameTooShort     = errors.New("name must be at least 3 characters")
	ErrNameTooLong      = errors.New("name must be at most 100 characters")
	ErrNameInvalidChars = errors.New("name can only contain alphanumeric characters, spaces, and hyphens")

	// Content reference validation errors
	ErrContentRefRequired = errors.New("content reference is required")

	// Submitter validation errors
	ErrSubmitterRequired = errors.New("submitter identity is required")
)

// =============================================================================
// Template
// =============================================================================

// Template represents a dashboard template moving through the promotion
// workflow. The content itself lives in external storage; ContentRef is an
// opaque pointer to it.
type Template struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description string         `json:"description,omitempty"`
	ContentRef  string         `json:"content_ref"`
	State       LifecycleState `json:"state"`
	Category    Category       `json:"category,omitempty"`
	SubmittedBy string         `json:"submitted_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewTemplate creates a template in the submitted state.
// Returns an error if validation fails.
func NewTemplate(name, description, contentRef, submittedBy string) (*Template, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if strings.TrimSpace(contentRef) == "" {
		return nil, ErrContentRefRequired
	}
	if strings.TrimSpace(submittedBy) == "" {
		return nil, ErrSubmitterRequired
	}

	now := time.Now().UTC()
	return &Template{
		ID:          "tmpl_" + uuid.New().String()[:8],
		Name:        name,
		Slug:        GenerateSlug(name),
		Description: description,
		ContentRef:  contentRef,
		State:       StateSubmitted,
		Category:    CategoryForState(StateSubmitted),
		SubmittedBy: submittedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Transition attempts to move the template to a new lifecycle state.
// The category tag is re-derived from the new state; callers never set it.
func (t *Template) Transition(to LifecycleState) error {
	if t.State == StateProduction {
		return ErrImmutableState
	}
	if err := ValidateTransition(t.State, to); err != nil {
		return err
	}

	t.State = to
	t.Category = CategoryForState(to)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Reject moves the template to the rejected state regardless of the
// transition table. This is the administrative override path; it is
// allowed from every state except production, which is immutable.
// Re-rejecting is refused so the audit trail never holds a
// rejected-to-rejected record.
func (t *Template) Reject() error {
	if t.State == StateProduction {
		return ErrImmutableState
	}
	if t.State == StateRejected {
		return ErrInvalidTransition
	}
	t.State = StateRejected
	t.Category = CategoryForState(StateRejected)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// =============================================================================
// Validation Functions (Pure)
// =============================================================================

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9 \-]+$`)

// ValidateName validates a template name. Length limits count runes,
// not bytes.
func ValidateName(name string) error {
	if name == "" {
		return ErrNameRequired
	}
	length := utf8.RuneCountInString(name)
	if length < 3 {
		return ErrNameTooShort
	}
	if length > 100 {
		return ErrNameTooLong
	}
	if !nameRegex.MatchString(name) {
		return ErrNameInvalidChars
	}
	return nil
}

// GenerateSlug generates a URL-safe slug from a name.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	return slug
}
