package keys

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/ed25519"

	"xdao.co/archiver/contentkey"
)

// Pair is a writer keypair. Key is the archive content key.
type Pair struct {
	Key     contentkey.Key
	Private ed25519.PrivateKey
}

// FromSeed derives the keypair for an Ed25519 seed.
func FromSeed(seed []byte) (Pair, error) {
	if len(seed) != ed25519.SeedSize {
		return Pair{}, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return pairOf(priv)
}

// Generate returns a fresh keypair and its seed.
func Generate(rand io.Reader) (Pair, []byte, error) {
	_, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return Pair{}, nil, err
	}
	p, err := pairOf(priv)
	if err != nil {
		return Pair{}, nil, err
	}
	return p, priv.Seed(), nil
}

func pairOf(priv ed25519.PrivateKey) (Pair, error) {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return Pair{}, fmt.Errorf("unexpected public key type %T", priv.Public())
	}
	k, err := contentkey.FromBytes(pub)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Key: k, Private: priv}, nil
}

// Sign signs msg with the pair's private key.
func (p Pair) Sign(msg []byte) []byte {
	return ed25519.Sign(p.Private, msg)
}

// Verify checks an Ed25519 signature by the writer of key.
func Verify(key contentkey.Key, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(key[:]), msg, sig)
}

// ParseSeedHex decodes a hex seed, tolerating surrounding space and a 0x prefix.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(data))
	}
	return data, nil
}
