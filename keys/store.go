package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeyStore keeps writer seeds on the local filesystem.
//
// Layout: <Directory>/<name>/root.key containing the hex seed.
type KeyStore struct {
	Directory string
}

func CreateKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		return nil, errors.New("keys: directory is required")
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) seedPath(name string) string {
	return filepath.Join(ks.Directory, name, "root.key")
}

func CheckKeyName(name string) error {
	if name == "" {
		return errors.New("key name cannot be empty")
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in key name", char)
	}
	return nil
}

func (ks *KeyStore) saveSeed(path string, seed []byte, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		return err
	}
	return file.Close()
}

// Save stores seed under name.
func (ks *KeyStore) Save(name string, seed []byte, overwrite bool) (Pair, error) {
	if err := CheckKeyName(name); err != nil {
		return Pair{}, err
	}
	p, err := FromSeed(seed)
	if err != nil {
		return Pair{}, err
	}
	if err := ks.saveSeed(ks.seedPath(name), seed, overwrite); err != nil {
		return Pair{}, err
	}
	return p, nil
}

// Load reads the keypair stored under name.
func (ks *KeyStore) Load(name string) (Pair, error) {
	if err := CheckKeyName(name); err != nil {
		return Pair{}, err
	}
	data, err := os.ReadFile(ks.seedPath(name))
	if err != nil {
		return Pair{}, err
	}
	seed, err := ParseSeedHex(string(data))
	if err != nil {
		return Pair{}, fmt.Errorf("keys: %s: %w", name, err)
	}
	return FromSeed(seed)
}

// LoadOrCreate returns the keypair stored under name, generating and saving
// a new one if none exists. created reports whether a key was generated.
func (ks *KeyStore) LoadOrCreate(name string) (p Pair, created bool, err error) {
	p, err = ks.Load(name)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Pair{}, false, err
	}
	p, seed, err := Generate(rand.Reader)
	if err != nil {
		return Pair{}, false, err
	}
	if err := ks.saveSeed(ks.seedPath(name), seed, false); err != nil {
		if errors.Is(err, os.ErrExist) {
			// Lost a race with another creator; use theirs.
			p, err = ks.Load(name)
			return p, false, err
		}
		return Pair{}, false, err
	}
	return p, true, nil
}

// List returns the stored key names, sorted.
func (ks *KeyStore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, err := os.Stat(ks.seedPath(entry.Name())); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
