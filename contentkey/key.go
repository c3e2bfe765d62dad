// Package contentkey defines the 32-byte content key that identifies an
// archive, and its canonical encodings.
//
// The canonical string form is lowercase hex. It is used as the archive's
// directory name under the root and as the registry key.
package contentkey

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"golang.org/x/crypto/blake2b"

	"xdao.co/archiver/cidutil"
)

// Size is the length of a content key in bytes.
const Size = 32

// Key is an archive content key. For writable archives it is also the
// Ed25519 public key of the writer.
type Key [Size]byte

// DiscoveryKey is the network name of an archive. Peers that do not know the
// content key cannot derive it from the discovery key.
type DiscoveryKey [Size]byte

var ErrInvalid = errors.New("contentkey: invalid key")

// discoveryNamespace matches the hypercore discovery-key derivation.
var discoveryNamespace = []byte("hypercore")

// Parse decodes the canonical 64-character hex form. Upper-case hex is
// accepted; nothing else is.
func Parse(s string) (Key, error) {
	var k Key
	if len(s) != 2*Size {
		return k, fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalid, 2*Size, len(s))
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return k, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// FromBytes copies b into a Key.
func FromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != Size {
		return k, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalid, Size, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// FromCID extracts the key carried by a key CID (see CID).
func FromCID(id cid.Cid) (Key, error) {
	d, err := cidutil.Digest(id)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return FromBytes(d)
}

// String returns the lowercase hex encoding.
func (k Key) String() string { return hex.EncodeToString(k[:]) }

// Short returns an abbreviated form for log output.
func (k Key) Short() string { return k.String()[:8] }

// Bytes returns a copy of the key bytes.
func (k Key) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, k[:])
	return out
}

// IsZero reports whether k is the all-zero key.
func (k Key) IsZero() bool { return k == Key{} }

// CID returns the CIDv1 raw form with k as the sha2-256 digest.
func (k Key) CID() cid.Cid {
	id, err := cidutil.DigestCID(k[:])
	if err != nil {
		// DigestCID only fails on wrong digest lengths.
		panic(err)
	}
	return id
}

// URL returns the dat:// link for k.
func (k Key) URL() string { return "dat://" + k.String() + "/" }

// Discovery derives the discovery key: BLAKE2b-256 keyed with k over the
// namespace "hypercore".
func (k Key) Discovery() DiscoveryKey {
	h, err := blake2b.New256(k[:])
	if err != nil {
		// Keys up to 64 bytes are valid for blake2b.
		panic(err)
	}
	_, _ = h.Write(discoveryNamespace)
	var d DiscoveryKey
	copy(d[:], h.Sum(nil))
	return d
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := Parse(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (d DiscoveryKey) String() string { return hex.EncodeToString(d[:]) }

// ParseDiscovery decodes the hex form of a discovery key.
func ParseDiscovery(s string) (DiscoveryKey, error) {
	k, err := Parse(s)
	return DiscoveryKey(k), err
}
