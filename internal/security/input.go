// Package security screens user-supplied free text before it is persisted.
package security

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrInputTooLarge       = errors.New("input exceeds maximum size")
	ErrNullByteDetected    = errors.New("null byte detected in input")
	ErrInvalidUTF8         = errors.New("input is not valid UTF-8")
	ErrHighWhitespaceRatio = errors.New("suspicious whitespace ratio")
	ErrRepetitiveContent   = errors.New("excessive repetition detected")
)

// Size limits for medication fields.
const (
	MaxNameSize = 200
	MaxNoteSize = 2000
)

type InputValidator struct {
	MaxSize            int
	MaxWhitespaceRatio float64
	MaxRepetition      int
}

func NewInputValidator() *InputValidator {
	return &InputValidator{
		MaxSize:            MaxNoteSize,
		MaxWhitespaceRatio: 0.8,
		MaxRepetition:      50,
	}
}

func (v *InputValidator) Validate(input string) error {
	if len(input) > v.MaxSize {
		return ErrInputTooLarge
	}
	if strings.IndexByte(input, 0) >= 0 {
		return ErrNullByteDetected
	}
	if !utf8.ValidString(input) {
		return ErrInvalidUTF8
	}

	if v.MaxWhitespaceRatio > 0 && len(input) > 0 {
		whitespace, total := 0, 0
		for _, r := range input {
			total++
			if unicode.IsSpace(r) {
				whitespace++
			}
		}
		if float64(whitespace)/float64(total) > v.MaxWhitespaceRatio {
			return ErrHighWhitespaceRatio
		}
	}

	if v.MaxRepetition > 0 && hasExcessiveRepetition(input, v.MaxRepetition) {
		return ErrRepetitiveContent
	}
	return nil
}

func hasExcessiveRepetition(input string, maxLen int) bool {
	if len(input) <= maxLen {
		return false
	}

	var prev rune
	run := 0
	for i, r := range input {
		if i > 0 && r == prev {
			run++
			if run > maxLen {
				return true
			}
		} else {
			run = 1
		}
		prev = r
	}
	return false
}

// Field is one named value to screen.
type Field struct {
	Name    string
	Value   string
	MaxSize int
}

// ValidateFields checks every field and reports the first offender by name.
func ValidateFields(fields ...Field) error {
	for _, f := range fields {
		v := NewInputValidator()
		if f.MaxSize > 0 {
			v.MaxSize = f.MaxSize
		}
		if err := v.Validate(f.Value); err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	return nil
}

// Sanitize trims surrounding space and drops control characters other than
// newline and tab.
func Sanitize(input string) string {
	input = strings.TrimSpace(input)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
}
