package execution

import (
	"errors"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned when output must be rendered as text but is not
// valid UTF-8.
var ErrInvalidUTF8 = errors.New("execution: output is not valid UTF-8")

// StdoutText returns Stdout as a string, or ErrInvalidUTF8.
func (r Result) StdoutText() (string, error) {
	return asText(r.Stdout)
}

// StderrText returns Stderr as a string, or ErrInvalidUTF8.
func (r Result) StderrText() (string, error) {
	return asText(r.Stderr)
}

func asText(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
