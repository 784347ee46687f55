// Package validation checks the identifiers and free text accepted from
// callers and remote actors.
package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxNameLength    = 128
	MaxCommandLength = 4096
	MaxLogLineLength = 4096
)

var (
	// ErrInputEmpty indicates a required value is blank.
	ErrInputEmpty = errors.New("value is required")
	// ErrInputTooLong indicates input exceeds maximum length.
	ErrInputTooLong = errors.New("input exceeds maximum length")
	// ErrInputInvalid indicates input contains invalid characters.
	ErrInputInvalid = errors.New("input contains invalid characters")
)

// Execution ids, targets, kinds and queue actions share one alphabet.
var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:\-]*$`)

// ValidateName validates an identifier such as an execution id, target,
// operation kind or task action.
func ValidateName(name string) error {
	if name == "" {
		return ErrInputEmpty
	}
	if len(name) > MaxNameLength {
		return ErrInputTooLong
	}
	if !validName.MatchString(name) {
		return ErrInputInvalid
	}
	return nil
}

// ValidateCommand validates a shell command string.
// Note: This is basic validation - proper escaping should be handled at execution.
func ValidateCommand(command string) error {
	if len(command) > MaxCommandLength {
		return ErrInputTooLong
	}

	// Disallow null bytes
	if strings.Contains(command, "\x00") {
		return ErrInputInvalid
	}

	return nil
}

// SanitizeLogLine drops control characters other than tab and truncates the
// line to MaxLogLineLength bytes.
func SanitizeLogLine(line string) string {
	line = strings.TrimRight(line, "\r\n")
	clean := strings.Map(func(r rune) rune {
		if r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, line)
	if len(clean) > MaxLogLineLength {
		clean = clean[:MaxLogLineLength]
		// do not split a multi-byte rune
		for !utf8.ValidString(clean) {
			clean = clean[:len(clean)-1]
		}
	}
	return clean
}
