package archive

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"

	"xdao.co/archiver/contentkey"
	"xdao.co/archiver/keys"
)

// Entry names one block in an archive.
type Entry struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
	Size int64  `json:"size"`
}

// Manifest is the signed metadata of an archive. Version increases with every
// write; replicas only ever move to a higher version.
type Manifest struct {
	Key       contentkey.Key `json:"key"`
	Version   uint64         `json:"version"`
	Entries   []Entry        `json:"entries"`
	Signature []byte         `json:"signature,omitempty"`
}

// signingBytes is the canonical JSON of the unsigned manifest with entries
// sorted by name.
func (m *Manifest) signingBytes() ([]byte, error) {
	u := Manifest{Key: m.Key, Version: m.Version, Entries: append([]Entry(nil), m.Entries...)}
	if u.Entries == nil {
		u.Entries = []Entry{}
	}
	sort.Slice(u.Entries, func(i, j int) bool { return u.Entries[i].Name < u.Entries[j].Name })
	return json.Marshal(u)
}

func (m *Manifest) sign(p keys.Pair) error {
	if p.Key != m.Key {
		return ErrKeyMismatch
	}
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Name < m.Entries[j].Name })
	b, err := m.signingBytes()
	if err != nil {
		return err
	}
	m.Signature = p.Sign(b)
	return nil
}

// Verify checks the signature against the manifest's key.
func (m *Manifest) Verify() error {
	b, err := m.signingBytes()
	if err != nil {
		return err
	}
	if !keys.Verify(m.Key, b, m.Signature) {
		return ErrBadSignature
	}
	return nil
}

// Lookup returns the entry called name.
func (m *Manifest) Lookup(name string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// CIDs decodes every entry's block CID.
func (m *Manifest) CIDs() ([]cid.Cid, error) {
	out := make([]cid.Cid, 0, len(m.Entries))
	for _, e := range m.Entries {
		id, err := cid.Decode(e.CID)
		if err != nil {
			return nil, fmt.Errorf("archive: entry %q: %w", e.Name, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func (m *Manifest) clone() *Manifest {
	if m == nil {
		return nil
	}
	c := *m
	c.Entries = append([]Entry(nil), m.Entries...)
	c.Signature = append([]byte(nil), m.Signature...)
	return &c
}

// DecodeManifest parses and verifies a manifest for key.
func DecodeManifest(b []byte, key contentkey.Key) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("archive: decode manifest: %w", err)
	}
	if m.Key != key {
		return nil, ErrKeyMismatch
	}
	if err := m.Verify(); err != nil {
		return nil, err
	}
	return &m, nil
}

func encodeManifest(m *Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
