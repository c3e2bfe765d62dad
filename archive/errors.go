package archive

import "errors"

var (
	ErrReadOnly      = errors.New("archive: read-only")
	ErrClosed        = errors.New("archive: closed")
	ErrAlreadyJoined = errors.New("archive: already joined")
	ErrBadSignature  = errors.New("archive: bad manifest signature")
	ErrKeyMismatch   = errors.New("archive: key mismatch")
	ErrNoEntry       = errors.New("archive: no such entry")
)
