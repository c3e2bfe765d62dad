package storage

import (
	"errors"

	"github.com/ipfs/go-cid"
	"go.uber.org/multierr"
)

// Fallback reads through an ordered list of stores and returns the first copy
// found. Put writes to the first store only.
//
// A store that fails with anything other than ErrNotFound does not stop the
// search; if no store has the block, Get returns those failures combined, or
// ErrNotFound when every store simply lacked it.
type Fallback []CAS

func (f Fallback) Put(bytes []byte) (cid.Cid, error) {
	if len(f) == 0 {
		return cid.Undef, errors.New("storage: fallback has no stores")
	}
	return f[0].Put(bytes)
}

func (f Fallback) Get(id cid.Cid) ([]byte, error) {
	var errs error
	for _, cas := range f {
		b, err := cas.Get(id)
		if err == nil {
			return b, nil
		}
		if !IsNotFound(err) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return nil, errs
	}
	return nil, ErrNotFound
}

func (f Fallback) Has(id cid.Cid) bool {
	for _, cas := range f {
		if cas.Has(id) {
			return true
		}
	}
	return false
}
