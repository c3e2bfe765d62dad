package storage_test

import (
	"errors"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/archiver/cidutil"
	"xdao.co/archiver/storage"
	"xdao.co/archiver/storage/localfs"
	"xdao.co/archiver/storage/testkit"
)

var errUnavailable = errors.New("unavailable")

// brokenCAS fails every read.
type brokenCAS struct{}

func (brokenCAS) Put([]byte) (cid.Cid, error)  { return cid.Undef, errUnavailable }
func (brokenCAS) Get(cid.Cid) ([]byte, error) { return nil, errUnavailable }
func (brokenCAS) Has(cid.Cid) bool            { return false }

func newLocal(t *testing.T) *localfs.CAS {
	t.Helper()
	cas, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	return cas
}

func TestFallbackConformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return storage.Fallback{newLocal(t), newLocal(t)}
	})
}

func TestFallbackReadsThrough(t *testing.T) {
	first, second := newLocal(t), newLocal(t)
	id, err := second.Put([]byte("only in second"))
	require.NoError(t, err)

	f := storage.Fallback{brokenCAS{}, first, second}
	assert.True(t, f.Has(id))
	got, err := f.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "only in second", string(got))
}

func TestFallbackMiss(t *testing.T) {
	id, err := cidutil.BlockCID([]byte("nowhere"))
	require.NoError(t, err)

	_, err = storage.Fallback{newLocal(t), newLocal(t)}.Get(id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = storage.Fallback{newLocal(t), brokenCAS{}}.Get(id)
	assert.ErrorIs(t, err, errUnavailable)
	assert.False(t, storage.IsNotFound(err))
}

func TestFallbackPutUsesFirst(t *testing.T) {
	first, second := newLocal(t), newLocal(t)
	id, err := storage.Fallback{first, second}.Put([]byte("x"))
	require.NoError(t, err)
	assert.True(t, first.Has(id))
	assert.False(t, second.Has(id))

	_, err = storage.Fallback{}.Put([]byte("x"))
	assert.Error(t, err)
}
