package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSubmitFields(t *testing.T) {
	tests := []struct {
		name        string
		tmplName    string
		contentRef  string
		submittedBy string
		wantField   string
	}{
		{"all valid", "Engine Health", "s3://x.json", "dev@example.com", ""},
		{"missing name", "", "s3://x.json", "dev@example.com", "name"},
		{"missing content ref", "Engine Health", "", "dev@example.com", "content_ref"},
		{"missing submitter", "Engine Health", "s3://x.json", "", "submitted_by"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			field, msg := ValidateSubmitFields(tc.tmplName, tc.contentRef, tc.submittedBy)
			assert.Equal(t, tc.wantField, field)
			if tc.wantField != "" {
				assert.NotEmpty(t, msg)
			}
		})
	}
}

func TestValidateRejectFields(t *testing.T) {
	field, _ := ValidateRejectFields("")
	assert.Equal(t, "reason", field)

	field, msg := ValidateRejectFields("policy violation")
	assert.Empty(t, field)
	assert.Empty(t, msg)
}
