// Package bundle reads and writes archive snapshots as TAR streams.
//
// A bundle holds one manifest.json entry followed by blocks/<cid> entries in
// lexicographic CID order. Headers are normalized, so the same snapshot always
// produces the same bytes.
package bundle

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/archiver/storage"
)

const (
	ManifestEntry = "manifest.json"
	blocksPrefix  = "blocks/"

	// maxManifestBytes bounds the manifest entry read into memory.
	maxManifestBytes = 16 << 20
)

var (
	ErrNoManifest = errors.New("bundle: missing manifest entry")
	ErrDuplicate  = errors.New("bundle: duplicate entry")
)

var epoch0 = time.Unix(0, 0).UTC()

// Write writes manifest and the blocks ids from src to w. Every block is
// verified against its CID on the way out.
func Write(w io.Writer, manifest []byte, src storage.CAS, ids []cid.Cid) error {
	if src == nil {
		return errors.New("bundle: nil source store")
	}
	uniq := make(map[string]cid.Cid, len(ids))
	for _, id := range ids {
		if !id.Defined() {
			return storage.ErrInvalidCID
		}
		uniq[id.String()] = id
	}
	names := make([]string, 0, len(uniq))
	for s := range uniq {
		names = append(names, s)
	}
	sort.Strings(names)

	tw := tar.NewWriter(w)
	if err := writeEntry(tw, ManifestEntry, manifest); err != nil {
		_ = tw.Close()
		return err
	}
	for _, s := range names {
		b, err := src.Get(uniq[s])
		if err != nil {
			_ = tw.Close()
			return fmt.Errorf("bundle: block %s: %w", s, err)
		}
		if err := writeEntry(tw, blocksPrefix+s, b); err != nil {
			_ = tw.Close()
			return err
		}
	}
	return tw.Close()
}

// Read stores every block in r into dst and returns the manifest bytes and the
// number of blocks read. Unknown or duplicate entries and blocks whose bytes
// do not match their names are errors.
func Read(r io.Reader, dst storage.CAS) (manifest []byte, blocks int, err error) {
	if dst == nil {
		return nil, 0, errors.New("bundle: nil destination store")
	}
	tr := tar.NewReader(r)
	seen := make(map[string]struct{})
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, blocks, err
		}
		name := cleanPath(h.Name)
		if name == "" {
			return nil, blocks, fmt.Errorf("bundle: invalid entry path %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			return nil, blocks, fmt.Errorf("bundle: unexpected entry type %v (%s)", h.Typeflag, name)
		}
		if _, dup := seen[name]; dup {
			return nil, blocks, fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
		seen[name] = struct{}{}

		switch {
		case name == ManifestEntry:
			manifest, err = io.ReadAll(io.LimitReader(tr, maxManifestBytes))
			if err != nil {
				return nil, blocks, err
			}
		case strings.HasPrefix(name, blocksPrefix):
			id, err := cid.Decode(strings.TrimPrefix(name, blocksPrefix))
			if err != nil || !id.Defined() {
				return nil, blocks, storage.ErrInvalidCID
			}
			payload, err := io.ReadAll(tr)
			if err != nil {
				return nil, blocks, err
			}
			if err := storage.Verify(id, payload); err != nil {
				return nil, blocks, err
			}
			if _, err := dst.Put(payload); err != nil {
				return nil, blocks, err
			}
			blocks++
		default:
			return nil, blocks, fmt.Errorf("bundle: unknown entry %s", name)
		}
	}
	if manifest == nil {
		return nil, blocks, ErrNoManifest
	}
	return manifest, blocks, nil
}

func writeEntry(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

// cleanPath normalizes an entry name, returning "" for anything that could
// escape the bundle.
func cleanPath(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = strings.TrimPrefix(strings.TrimPrefix(name, "./"), "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
