package localfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/archiver/cidutil"
	"xdao.co/archiver/storage"
)

// CAS is a local filesystem block store for one archive.
//
// Blocks are stored immutably under root, fanned out by the first two
// characters of the CID string. It never uses the network.
type CAS struct {
	root string
}

// New constructs a filesystem CAS rooted at root. The directory will be created if needed.
func New(root string) (*CAS, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &CAS{root: root}, nil
}

// Root returns the directory the store lives in.
func (c *CAS) Root() string { return c.root }

func (c *CAS) Put(bytes []byte) (cid.Cid, error) {
	id, err := cidutil.BlockCID(bytes)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, storage.ErrInvalidCID
	}

	path := c.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, err
	}

	if c.Has(id) {
		return c.checkExisting(id, bytes)
	}

	// Write to a temp file and link it into place so readers never see a
	// partially written block.
	f, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return cid.Undef, err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(bytes); err != nil {
		_ = f.Close()
		return cid.Undef, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return cid.Undef, err
	}
	if err := f.Close(); err != nil {
		return cid.Undef, err
	}
	if err := os.Chmod(tmp, 0o444); err != nil {
		return cid.Undef, err
	}
	if err := os.Link(tmp, path); err != nil {
		if os.IsExist(err) {
			return c.checkExisting(id, bytes)
		}
		return cid.Undef, err
	}
	return id, nil
}

func (c *CAS) checkExisting(id cid.Cid, bytes []byte) (cid.Cid, error) {
	existing, err := c.Get(id)
	if err != nil {
		// Present but unreadable or corrupted.
		return cid.Undef, storage.ErrImmutable
	}
	if string(existing) != string(bytes) {
		return cid.Undef, storage.ErrImmutable
	}
	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	b, err := os.ReadFile(c.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if err := storage.Verify(id, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *CAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := os.Stat(c.pathFor(id))
	return err == nil
}

// Usage reports the number of stored blocks and their total size.
func (c *CAS) Usage() (blocks int, size int64, err error) {
	err = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		blocks++
		size += info.Size()
		return nil
	})
	return blocks, size, err
}

func (c *CAS) pathFor(id cid.Cid) string {
	s := id.String()
	if len(s) < 2 {
		return filepath.Join(c.root, s)
	}
	return filepath.Join(c.root, s[:2], s)
}
