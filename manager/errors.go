package manager

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the Manager matches one of these with
// errors.Is.
var (
	ErrResolution    = errors.New("link does not resolve to an archive key")
	ErrAlreadyPeered = errors.New("archive is already being peered")
	ErrIO            = errors.New("filesystem error")
	ErrEngine        = errors.New("replication engine error")
	ErrClosed        = errors.New("archive manager is stopped")
	ErrBusy          = errors.New("archive is being added or removed")
)

// Error describes a failed manager operation.
type Error struct {
	// Op is the manager operation, e.g. "add".
	Op string
	// Subject is the archive key, or the link when it did not resolve.
	Subject string
	// Kind is one of the Err* sentinels.
	Kind error
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		if e.Subject == "" {
			return e.Op + ": " + e.Kind.Error()
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Subject)
	}
	if e.Subject == "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Subject, e.Kind, e.Err)
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func opError(op, subject string, kind, err error) error {
	return &Error{Op: op, Subject: subject, Kind: kind, Err: err}
}
