// Package cidutil holds the CID conventions shared by archive blocks and
// content keys.
//
// Blocks are addressed by CIDv1 with the "raw" multicodec and a sha2-256
// multihash. A 32-byte content key has a CID form using the same codec, with
// the key itself as the sha2-256 digest.
package cidutil

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// BlockCID returns the CIDv1 (raw + sha2-256) derived from data.
func BlockCID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// DigestCID wraps an existing sha2-256 digest as a CIDv1 raw CID without
// hashing it again.
func DigestCID(digest []byte) (cid.Cid, error) {
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Digest returns the sha2-256 digest carried by id.
//
// Only raw CIDs with a full-length sha2-256 multihash are accepted.
func Digest(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, fmt.Errorf("cidutil: undefined cid")
	}
	if id.Type() != cid.Raw {
		return nil, fmt.Errorf("cidutil: unexpected codec 0x%x", id.Type())
	}
	dmh, err := multihash.Decode(id.Hash())
	if err != nil {
		return nil, err
	}
	if dmh.Code != multihash.SHA2_256 || dmh.Length != 32 {
		return nil, fmt.Errorf("cidutil: unexpected multihash %s/%d", multihash.Codes[dmh.Code], dmh.Length)
	}
	return dmh.Digest, nil
}
