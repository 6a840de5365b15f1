package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"x@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
		{"two@at@signs", "***@***"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactEmail(tt.in), tt.in)
	}
}

func TestRedactPIIValue(t *testing.T) {
	assert.Equal(t, "jo***@example.com", redactPIIValue("recipient_email", "john@example.com"))
	assert.Equal(t, "jo***@example.com", redactPIIValue("to", "john@example.com"))
	assert.Equal(t, "sent to jo***@example.com ok", redactPIIValue("detail", "sent to john@example.com ok"))
	assert.Equal(t, "plain value", redactPIIValue("detail", "plain value"))
}
