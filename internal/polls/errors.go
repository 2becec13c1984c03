package polls

import "github.com/pkg/errors"

var (
	ErrNotFound         = errors.New("poll not found")
	ErrAlreadyClosed    = errors.New("poll already closed")
	ErrUnauthorized     = errors.New("no curator rights for this group")
	ErrNotMember        = errors.New("member is not in the poll's group")
	ErrAlreadyResponded = errors.New("member has already responded")
)

// ValidationError is used to indicate bad user input for a specific field.
type ValidationError struct {
	Field string
	Err   error
}

func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Err: errors.New(msg)}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return e.Field + ": invalid"
	}
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
