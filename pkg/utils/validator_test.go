package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email   string
		wantErr bool
	}{
		{"alice@example.gov", false},
		{"first.last+tag@sub.example.com", false},
		{"", true},
		{"alice", true},
		{"alice@localhost", true},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.gov", NormalizeEmail("  Alice@Example.GOV "))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "line one\nline two", SanitizeString("line one\x00\nline two\x07"))
}
