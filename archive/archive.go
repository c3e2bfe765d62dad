package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"xdao.co/archiver/contentkey"
	"xdao.co/archiver/keys"
	"xdao.co/archiver/network"
	"xdao.co/archiver/storage"
	"xdao.co/archiver/storage/localfs"
)

// Archive is one open archive. It is safe for concurrent use.
type Archive struct {
	key    contentkey.Key
	dkey   contentkey.DiscoveryKey
	dir    string
	store  *localfs.CAS
	writer *keys.Pair
	live   bool
	engine *Engine
	log    *zap.SugaredLogger

	mu       sync.RWMutex
	manifest *Manifest
	closed   bool

	// netMu guards the network session. It is taken before mu, and Close
	// marks the archive closed while holding it.
	netMu  sync.Mutex
	joined bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
	peers  []*network.Peer
}

// Stats summarises the local state of an archive.
type Stats struct {
	Version uint64
	Entries int
	Blocks  int
	Bytes   int64
}

func (a *Archive) Key() contentkey.Key                   { return a.key }
func (a *Archive) DiscoveryKey() contentkey.DiscoveryKey { return a.dkey }
func (a *Archive) Dir() string                           { return a.dir }
func (a *Archive) Writable() bool                        { return a.writer != nil }

// Version is the manifest version held locally; zero when none is.
func (a *Archive) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.manifest == nil {
		return 0
	}
	return a.manifest.Version
}

// Manifest returns a copy of the local manifest, or nil.
func (a *Archive) Manifest() *Manifest {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.manifest.clone()
}

// ManifestBytes returns the encoded manifest served to peers.
func (a *Archive) ManifestBytes() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.manifest == nil {
		return nil, storage.ErrNotFound
	}
	return encodeManifest(a.manifest)
}

func (a *Archive) Block(id cid.Cid) ([]byte, error) { return a.store.Get(id) }
func (a *Archive) HasBlock(id cid.Cid) bool         { return a.store.Has(id) }

func (a *Archive) Stats() (Stats, error) {
	blocks, size, err := a.store.Usage()
	if err != nil {
		return Stats{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := Stats{Blocks: blocks, Bytes: size}
	if a.manifest != nil {
		s.Version = a.manifest.Version
		s.Entries = len(a.manifest.Entries)
	}
	return s, nil
}

// Put stores data under name and publishes a new signed manifest version.
func (a *Archive) Put(name string, data []byte) error {
	if a.writer == nil {
		return ErrReadOnly
	}
	if name == "" {
		return errors.New("archive: entry name is required")
	}
	if a.isClosed() {
		return ErrClosed
	}
	id, err := a.store.Put(data)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}

	next := a.manifest.clone()
	if next == nil {
		next = &Manifest{Key: a.key}
	}
	entry := Entry{Name: name, CID: id.String(), Size: int64(len(data))}
	replaced := false
	for i := range next.Entries {
		if next.Entries[i].Name == name {
			next.Entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		next.Entries = append(next.Entries, entry)
	}
	next.Version++
	if err := next.sign(*a.writer); err != nil {
		return err
	}
	if err := a.persist(next); err != nil {
		return err
	}
	a.manifest = next
	a.log.Debugw("Wrote entry.", "name", name, "version", next.Version)
	return nil
}

// Read returns the contents of the entry called name.
func (a *Archive) Read(name string) ([]byte, error) {
	a.mu.RLock()
	m := a.manifest
	a.mu.RUnlock()
	if m == nil {
		return nil, ErrNoEntry
	}
	e, ok := m.Lookup(name)
	if !ok {
		return nil, ErrNoEntry
	}
	id, err := cid.Decode(e.CID)
	if err != nil {
		return nil, fmt.Errorf("archive: entry %q: %w", name, err)
	}
	return a.store.Get(id)
}

// Update pulls the newest manifest offered by the session's peers along with
// any blocks it references that are missing locally. Writable archives are
// the source of truth and never update.
func (a *Archive) Update(ctx context.Context) error {
	if a.writer != nil {
		return nil
	}
	a.netMu.Lock()
	peers := a.peers
	a.netMu.Unlock()

	var errs error
	for i, p := range peers {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if err := a.updateFrom(ctx, p, peers, i); err != nil {
			a.log.Debugw("Update from peer failed.", "peer", p.Target(), "err", err)
			errs = multierr.Append(errs, fmt.Errorf("archive: update from %s: %w", p.Target(), err))
		}
	}
	return errs
}

// updateFrom installs peers[i]'s manifest when it is newer. Missing blocks are
// fetched from peers[i] first, then from the other peers in order.
func (a *Archive) updateFrom(ctx context.Context, p *network.Peer, peers []*network.Peer, i int) error {
	b, err := p.Manifest(ctx, a.dkey)
	if err != nil {
		return err
	}
	m, err := DecodeManifest(b, a.key)
	if err != nil {
		return err
	}
	if m.Version <= a.Version() {
		return nil
	}

	remotes := storage.Fallback{p.Remote(ctx, a.dkey)}
	for j, other := range peers {
		if j != i {
			remotes = append(remotes, other.Remote(ctx, a.dkey))
		}
	}
	if err := a.fetchMissing(m, remotes); err != nil {
		return err
	}
	installed, err := a.install(m)
	if err != nil {
		return err
	}
	if installed {
		a.log.Infow("Updated archive.", "peer", p.Target(), "version", m.Version)
	}
	return nil
}

// fetchMissing copies every block m references that is not stored locally
// from src.
func (a *Archive) fetchMissing(m *Manifest, src storage.CAS) error {
	ids, err := m.CIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if a.store.Has(id) {
			continue
		}
		data, err := src.Get(id)
		if err != nil {
			return fmt.Errorf("block %s: %w", id, err)
		}
		if _, err := a.store.Put(data); err != nil {
			return err
		}
	}
	return nil
}

// install replaces the local manifest with m if m is newer. Every block m
// references must already be stored.
func (a *Archive) install(m *Manifest) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false, ErrClosed
	}
	if a.manifest != nil && m.Version <= a.manifest.Version {
		return false, nil
	}
	if err := a.persist(m); err != nil {
		return false, err
	}
	a.manifest = m
	return true, nil
}

// JoinNetwork announces the archive on the engine's swarm and starts syncing
// from opts.Peers: once, or every SyncInterval when the archive is live. It
// returns once the archive is announced.
func (a *Archive) JoinNetwork(ctx context.Context, opts NetworkOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.netMu.Lock()
	defer a.netMu.Unlock()
	if a.isClosed() {
		return ErrClosed
	}
	if a.joined {
		return ErrAlreadyJoined
	}
	peers, err := a.engine.peers(opts.Peers)
	if err != nil {
		return err
	}
	if a.engine.swarm != nil {
		if err := a.engine.swarm.Announce(a); err != nil {
			return err
		}
	}

	interval := opts.SyncInterval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	sctx, cancel := context.WithCancel(context.Background())
	a.peers = peers
	a.cancel = cancel
	a.joined = true

	if len(peers) > 0 && a.writer == nil {
		a.wg.Add(1)
		go a.sync(sctx, interval)
	}
	a.log.Infow("Joined network.", "peers", len(peers), "live", a.live)
	return nil
}

func (a *Archive) sync(ctx context.Context, interval time.Duration) {
	defer a.wg.Done()
	if err := a.Update(ctx); err != nil && ctx.Err() == nil {
		a.log.Warnw("Sync failed.", "err", err)
	}
	if !a.live {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := a.Update(ctx); err != nil && ctx.Err() == nil {
				a.log.Warnw("Sync failed.", "err", err)
			}
		}
	}
}

// LeaveNetwork withdraws the archive from the swarm and stops syncing. It is a
// no-op when not joined.
func (a *Archive) LeaveNetwork(ctx context.Context) error {
	a.netMu.Lock()
	if !a.joined {
		a.netMu.Unlock()
		return nil
	}
	if a.engine.swarm != nil {
		a.engine.swarm.Withdraw(a.dkey)
	}
	a.cancel()
	a.joined = false
	a.peers = nil
	a.netMu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.log.Infow("Left network.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close leaves the network and releases the archive. Closing twice is a no-op.
// A JoinNetwork racing with Close either finishes first and is left here, or
// fails with ErrClosed.
func (a *Archive) Close(ctx context.Context) error {
	a.netMu.Lock()
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.netMu.Unlock()
	return a.LeaveNetwork(ctx)
}

func (a *Archive) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

func (a *Archive) persist(m *Manifest) error {
	b, err := encodeManifest(m)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(a.dir, ".manifest-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(a.dir, manifestFile))
}
