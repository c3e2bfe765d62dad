package keys

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFromSeedDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 32)
	a, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	b, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	if a.Key != b.Key {
		t.Fatalf("expected deterministic key")
	}
	if _, err := FromSeed(seed[:31]); err == nil {
		t.Fatalf("expected error for short seed")
	}
}

func TestSignVerify(t *testing.T) {
	p, _, err := Generate(rand.Reader)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	msg := []byte("manifest bytes")
	sig := p.Sign(msg)
	if !Verify(p.Key, msg, sig) {
		t.Fatalf("signature did not verify")
	}
	if Verify(p.Key, []byte("other"), sig) {
		t.Fatalf("signature verified for wrong message")
	}
	if Verify(p.Key, msg, sig[:10]) {
		t.Fatalf("short signature verified")
	}
}

func TestKeyStoreLoadOrCreate(t *testing.T) {
	ks, err := CreateKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("CreateKeyStore: %v", err)
	}

	p1, created, err := ks.LoadOrCreate("root")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Fatalf("expected a new key")
	}
	p2, created, err := ks.LoadOrCreate("root")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if created || p1.Key != p2.Key {
		t.Fatalf("expected the stored key to be reused")
	}

	info, err := os.Stat(filepath.Join(ks.Directory, "root", "root.key"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected key file mode %v", info.Mode().Perm())
	}

	names, err := ks.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(names, ",") != "root" {
		t.Fatalf("List: got %v", names)
	}
}

func TestKeyStoreSaveRefusesOverwrite(t *testing.T) {
	ks := &KeyStore{Directory: t.TempDir()}
	seed := bytes.Repeat([]byte{0x01}, 32)
	if _, err := ks.Save("a", seed, false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := ks.Save("a", seed, false); err == nil {
		t.Fatalf("expected error saving over an existing key")
	}
	if _, err := ks.Save("a", seed, true); err != nil {
		t.Fatalf("Save with overwrite: %v", err)
	}
	if _, err := ks.Save("bad/name", seed, false); err == nil {
		t.Fatalf("expected invalid name error")
	}
}

func TestParseSeedHex(t *testing.T) {
	seed := bytes.Repeat([]byte{0xab}, 32)
	got, err := ParseSeedHex(" 0x" + strings.Repeat("ab", 32) + "\n")
	if err != nil {
		t.Fatalf("ParseSeedHex: %v", err)
	}
	if !bytes.Equal(got, seed) {
		t.Fatalf("seed mismatch")
	}
	if _, err := ParseSeedHex("abcd"); err == nil {
		t.Fatalf("expected length error")
	}
}
