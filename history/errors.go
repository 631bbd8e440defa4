package history

import "errors"

var (
	ErrSnapshotNotFound    = errors.New("snapshot not found")
	ErrInvalidSnapshotName = errors.New("snapshot name must not be empty")
)

// EncodingError reports a snapshot codec failure. The timeline and the live
// document are left as they were before the failing call.
type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
