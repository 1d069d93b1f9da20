package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no schedule exists for the requested wallet or ID.
	ErrNotFound = errors.New("scheduled job not found")

	// ErrPermissionRevoked means the wallet no longer permits any app version.
	// Running again cannot succeed until the user re-grants.
	ErrPermissionRevoked = errors.New("wallet permission has been revoked")

	// ErrIncompatibleVersion means the wallet permits a version this service
	// has no executor for.
	ErrIncompatibleVersion = errors.New("permitted app version is incompatible")
)

// fatalError marks failures that retrying cannot fix. The scheduler disables
// the job instead of rescheduling when it sees one.
type fatalError struct {
	err error
}

func (f *fatalError) Error() string       { return f.err.Error() }
func (f *fatalError) Unwrap() error       { return f.err }
func (f *fatalError) FatalJobError() bool { return true }

// fatal wraps an error as non-retryable.
func fatal(err error) error {
	return &fatalError{err: err}
}

func fatalf(format string, args ...any) error {
	return fatal(fmt.Errorf(format, args...))
}
