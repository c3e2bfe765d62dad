// Package storage defines the block store used for archive contents.
package storage

import (
	"errors"

	"github.com/ipfs/go-cid"

	"xdao.co/archiver/cidutil"
)

var (
	ErrNotFound    = errors.New("storage: block not found")
	ErrInvalidCID  = errors.New("storage: invalid block cid")
	ErrCIDMismatch = errors.New("storage: block does not match cid")
	// ErrImmutable is returned when a stored block differs from the bytes
	// being written under the same CID.
	ErrImmutable = errors.New("storage: stored block differs")
)

// IsNotFound reports whether err means a block is absent.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// CAS is a content-addressable block store. Each archive owns one.
//
// Contract:
// - Put MUST be idempotent.
// - Stored blocks MUST be immutable.
// - CIDs are CIDv1 raw + sha2-256 of the bytes written (see cidutil.BlockCID).
// - Get MUST return ErrNotFound when the CID is absent and ErrCIDMismatch when
//   the stored bytes no longer hash to the CID.
type CAS interface {
	Put(bytes []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}

// Verify checks that data hashes to id.
func Verify(id cid.Cid, data []byte) error {
	if !id.Defined() {
		return ErrInvalidCID
	}
	got, err := cidutil.BlockCID(data)
	if err != nil {
		return err
	}
	if got != id {
		return ErrCIDMismatch
	}
	return nil
}
