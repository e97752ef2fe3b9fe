package capture

import (
	"errors"
	"fmt"
)

// ErrCaptureFailed matches every error returned by Capture.
var ErrCaptureFailed = errors.New("capture failed")

// Error reports a texture readback that did not complete. It is not
// retried: the enclosing test should fail with it.
type Error struct {
	Op  string
	Err error
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture failed: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrCaptureFailed
}
