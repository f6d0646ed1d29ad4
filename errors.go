package authgate

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by stores when a referenced record does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports every problem found by a single validation pass,
// so callers can surface all of them at once instead of fixing one field at
// a time.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
