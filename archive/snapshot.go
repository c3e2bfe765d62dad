package archive

import (
	"fmt"
	"io"

	"xdao.co/archiver/storage"
	"xdao.co/archiver/storage/bundle"
)

// Export writes the current manifest and every block it references to w as a
// bundle.
func (a *Archive) Export(w io.Writer) error {
	a.mu.RLock()
	m := a.manifest
	a.mu.RUnlock()
	if m == nil {
		return fmt.Errorf("archive: export %s: %w", a.key, storage.ErrNotFound)
	}
	b, err := encodeManifest(m)
	if err != nil {
		return err
	}
	ids, err := m.CIDs()
	if err != nil {
		return err
	}
	return bundle.Write(w, b, a.store, ids)
}

// Import reads a bundle written by Export. Its blocks are stored locally and
// its manifest is installed when it verifies against the archive key, every
// block it references is present and it is newer than the local one. The
// result reports whether the manifest was installed.
func (a *Archive) Import(r io.Reader) (bool, error) {
	b, n, err := bundle.Read(r, a.store)
	if err != nil {
		return false, fmt.Errorf("archive: import: %w", err)
	}
	m, err := DecodeManifest(b, a.key)
	if err != nil {
		return false, fmt.Errorf("archive: import: %w", err)
	}
	ids, err := m.CIDs()
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if !a.store.Has(id) {
			return false, fmt.Errorf("archive: import: block %s: %w", id, storage.ErrNotFound)
		}
	}
	installed, err := a.install(m)
	if err != nil {
		return false, err
	}
	a.log.Infow("Imported bundle.", "blocks", n, "version", m.Version, "installed", installed)
	return installed, nil
}
