package rsync

import "github.com/pkg/errors"

// ValidationError reports that a caller-supplied value (a signature, an
// instruction, a parameter) violates this package's invariants.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func newValidationError(msg string) error {
	return &ValidationError{msg: msg}
}

func wrapValidationError(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// ResourceLimitError reports that an operation would exceed a configured
// resource bound (buffer size, maximum block count, maximum data
// operation size).
type ResourceLimitError struct {
	msg string
}

func (e *ResourceLimitError) Error() string { return e.msg }

func newResourceLimitError(msg string) error {
	return &ResourceLimitError{msg: msg}
}

// DataIntegrityError reports that reconstructed data failed a whole-file
// digest check against the value the sender reported.
type DataIntegrityError struct {
	msg string
}

func (e *DataIntegrityError) Error() string { return e.msg }

func newDataIntegrityError(msg string) error {
	return &DataIntegrityError{msg: msg}
}

// FileIOError wraps an underlying I/O failure (reading the basis,
// writing the destination) with the operation that was in progress.
type FileIOError struct {
	msg string
	err error
}

func (e *FileIOError) Error() string { return e.msg + ": " + e.err.Error() }
func (e *FileIOError) Unwrap() error { return e.err }

func newFileIOError(msg string, err error) error {
	return &FileIOError{msg: msg, err: err}
}
