package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"execution id", "op-7", nil},
		{"uuid", "0b4e7a0e-5d3c-4b3b-9d6a-0f6f2b1f9e11", nil},
		{"dotted target", "web.prod:8080", nil},
		{"empty", "", ErrInputEmpty},
		{"space", "agent 1", ErrInputInvalid},
		{"leading dash", "-rf", ErrInputInvalid},
		{"path", "../etc", ErrInputInvalid},
		{"too long", strings.Repeat("a", MaxNameLength+1), ErrInputTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, ValidateName(tt.input))
		})
	}
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, ValidateCommand("systemctl restart agent && echo ok"))
	assert.NoError(t, ValidateCommand(""))
	assert.Equal(t, ErrInputInvalid, ValidateCommand("rm\x00"))
	assert.Equal(t, ErrInputTooLong, ValidateCommand(strings.Repeat("x", MaxCommandLength+1)))
}

func TestSanitizeLogLine(t *testing.T) {
	assert.Equal(t, "step\t1 done", SanitizeLogLine("step\t1\x1b done\r\n"))

	long := strings.Repeat("é", MaxLogLineLength)
	got := SanitizeLogLine(long)
	assert.LessOrEqual(t, len(got), MaxLogLineLength)
	assert.True(t, strings.HasPrefix(long, got))
}
