// Package archive is the replication engine: it opens archive directories,
// keeps their signed manifests and blocks, and joins them to the network.
//
// An archive directory holds manifest.json and a blocks/ block store. A
// writable archive (one opened with its writer keypair) signs new manifest
// versions on Put; replicas pull newer versions from configured peers while
// joined.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"xdao.co/archiver/contentkey"
	"xdao.co/archiver/keys"
	"xdao.co/archiver/network"
	"xdao.co/archiver/storage/localfs"
)

const (
	manifestFile = "manifest.json"
	blocksDir    = "blocks"

	DefaultSyncInterval = 30 * time.Second
)

// OpenOptions select which archive to open and how it replicates.
type OpenOptions struct {
	Key contentkey.Key
	// Writer makes the archive writable. Its key must equal Key when Key is set.
	Writer *keys.Pair
	// Live keeps syncing with peers while joined instead of syncing once.
	Live bool
}

// NetworkOptions control JoinNetwork.
type NetworkOptions struct {
	// Peers are swarm targets (host:port) to sync from.
	Peers []string
	// SyncInterval is the live sync period; DefaultSyncInterval when zero.
	SyncInterval time.Duration
}

// Engine opens archives. Joined archives are served on the swarm and sync
// from peers obtained through the pool. Either may be nil: without a swarm
// nothing is served, without a pool nothing is fetched.
type Engine struct {
	swarm *network.Swarm
	pool  *network.Pool
	log   *zap.SugaredLogger
}

func NewEngine(swarm *network.Swarm, pool *network.Pool, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{swarm: swarm, pool: pool, log: log}
}

// Open opens the archive in dir, creating the directory and block store if
// absent. An existing manifest must verify against the key.
func (e *Engine) Open(_ context.Context, dir string, opts OpenOptions) (*Archive, error) {
	key := opts.Key
	if opts.Writer != nil {
		if key.IsZero() {
			key = opts.Writer.Key
		} else if key != opts.Writer.Key {
			return nil, fmt.Errorf("%w: writer %s for archive %s", ErrKeyMismatch, opts.Writer.Key, key)
		}
	}
	if key.IsZero() {
		return nil, fmt.Errorf("archive: open %s: %w", dir, contentkey.ErrInvalid)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	store, err := localfs.New(filepath.Join(dir, blocksDir))
	if err != nil {
		return nil, err
	}

	a := &Archive{
		key:    key,
		dkey:   key.Discovery(),
		dir:    dir,
		store:  store,
		writer: opts.Writer,
		live:   opts.Live,
		engine: e,
		log:    e.log.With("key", key.String()),
	}

	b, err := os.ReadFile(filepath.Join(dir, manifestFile))
	switch {
	case err == nil:
		m, err := DecodeManifest(b, key)
		if err != nil {
			return nil, fmt.Errorf("archive: open %s: %w", dir, err)
		}
		a.manifest = m
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	a.log.Debugw("Opened archive.", "dir", dir, "writable", a.Writable(), "version", a.Version())
	return a, nil
}

// Close releases the peer pool.
func (e *Engine) Close() error {
	if e.pool == nil {
		return nil
	}
	return e.pool.Close()
}

func (e *Engine) peers(targets []string) ([]*network.Peer, error) {
	if e.pool == nil || len(targets) == 0 {
		return nil, nil
	}
	out := make([]*network.Peer, 0, len(targets))
	for _, t := range targets {
		p, err := e.pool.Peer(t)
		if err != nil {
			return nil, fmt.Errorf("archive: dial %s: %w", t, err)
		}
		out = append(out, p)
	}
	return out, nil
}
