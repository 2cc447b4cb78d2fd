package command

import "errors"

// CheckedError marks an expected business failure, such as a validation error.
// Rollback policies may choose to commit the unit of work when a handler returns one.
type CheckedError struct {
	Err error
}

func (e *CheckedError) Error() string {
	return e.Err.Error()
}

func (e *CheckedError) Unwrap() error {
	return e.Err
}

// Checked wraps err as a CheckedError. It returns nil for a nil err.
func Checked(err error) error {
	if err == nil {
		return nil
	}
	return &CheckedError{Err: err}
}

// IsChecked reports whether err or any error it wraps is a CheckedError.
func IsChecked(err error) bool {
	var ce *CheckedError
	return errors.As(err, &ce)
}
