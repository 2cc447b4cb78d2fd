package disruptor

import "github.com/getpup/pupcommand/es/command"

// RollbackPolicy decides whether an error from command handling discards the
// unit of work. When it returns false the produced events are stored and
// published, and the error is still reported to the caller.
type RollbackPolicy func(err error) bool

// RollbackOnAnyError rolls back on every error.
func RollbackOnAnyError(err error) bool {
	return err != nil
}

// RollbackOnUncheckedErrors rolls back unless the error is a command.CheckedError.
func RollbackOnUncheckedErrors(err error) bool {
	return err != nil && !command.IsChecked(err)
}

// NeverRollback commits the unit of work regardless of errors.
func NeverRollback(error) bool {
	return false
}
