package manager

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"xdao.co/archiver/archive"
	"xdao.co/archiver/contentkey"
	"xdao.co/archiver/events"
	"xdao.co/archiver/keys"
)

const (
	// stateDir holds the root archive and its key under the root directory.
	// It never parses as a key, so scans skip it.
	stateDir  = ".archiver"
	rootName  = "root"
	IndexName = "keys.json"
)

// Index is the content of the root archive's keys.json entry.
type Index struct {
	Keys []contentkey.Key `json:"keys"`
}

type rootArchive struct {
	h     Writer
	unsub func()
}

// startRoot opens the writable root archive, creating its key on first use,
// and republishes the index on every lifecycle event.
func (m *Manager) startRoot(ctx context.Context) error {
	base := filepath.Join(m.opts.Dir, stateDir)
	ks, err := keys.CreateKeyStore(filepath.Join(base, "keys"))
	if err != nil {
		return opError("start", rootName, ErrIO, err)
	}
	pair, created, err := ks.LoadOrCreate(rootName)
	if err != nil {
		return opError("start", rootName, ErrIO, err)
	}
	if created {
		m.log.Infow("Created root archive key.", "key", pair.Key.String())
	}

	h, err := m.opts.Engine.Open(ctx, filepath.Join(base, rootName), archive.OpenOptions{Writer: &pair, Live: m.opts.Live})
	if err != nil {
		return opError("start", rootName, ErrEngine, err)
	}
	w, ok := h.(Writer)
	if !ok {
		_ = h.Close(ctx)
		return opError("start", rootName, ErrEngine, errors.New("engine opened a read-only root archive"))
	}

	jctx, cancel := m.joinContext(ctx)
	defer cancel()
	if err := w.JoinNetwork(jctx, m.opts.Network); err != nil {
		_ = w.Close(ctx)
		return opError("start", rootName, ErrEngine, err)
	}

	m.rootMu.Lock()
	if m.reg.Sealed() || m.root != nil {
		m.rootMu.Unlock()
		_ = w.Close(ctx)
		return opError("start", rootName, ErrClosed, nil)
	}
	m.root = &rootArchive{h: w}
	m.rootMu.Unlock()

	unsub := m.bus.Subscribe(0, func(events.Event) { m.publishIndex() })
	m.rootMu.Lock()
	if m.root != nil {
		m.root.unsub = unsub
	} else {
		unsub()
	}
	m.rootMu.Unlock()

	m.log.Infow("Started root archive.", "key", w.Key().String())
	return nil
}

// RootKey returns the root archive's key when it is running.
func (m *Manager) RootKey() (contentkey.Key, bool) {
	m.rootMu.Lock()
	defer m.rootMu.Unlock()
	if m.root == nil {
		return contentkey.Key{}, false
	}
	return m.root.h.Key(), true
}

// publishIndex writes the registered keys to the root archive.
func (m *Manager) publishIndex() {
	m.rootMu.Lock()
	defer m.rootMu.Unlock()
	if m.root == nil {
		return
	}
	b, err := json.Marshal(Index{Keys: m.reg.Keys()})
	if err != nil {
		m.log.Errorw("Failed to encode index.", "err", err)
		return
	}
	if err := m.root.h.Put(IndexName, b); err != nil {
		m.log.Warnw("Failed to publish index.", "err", err)
	}
}

func (m *Manager) stopRoot(ctx context.Context) error {
	m.rootMu.Lock()
	r := m.root
	m.root = nil
	m.rootMu.Unlock()
	if r == nil {
		return nil
	}
	if r.unsub != nil {
		r.unsub()
	}
	if err := r.h.Close(ctx); err != nil {
		return opError("stop", rootName, ErrEngine, err)
	}
	return nil
}
