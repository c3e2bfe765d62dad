// Package manager runs the collection of archives kept under one root
// directory.
//
// Each managed archive lives in a subdirectory named by its content key in
// lowercase hex. The Manager discovers them on Start, adds and removes them on
// request, and closes them all on Stop. Registry changes always happen before
// the matching event is emitted.
package manager

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xdao.co/archiver/archive"
	"xdao.co/archiver/contentkey"
	"xdao.co/archiver/events"
	"xdao.co/archiver/registry"
)

const DefaultMaxConcurrentOpens = 8

// Options configure a Manager. They are not changed after New.
type Options struct {
	// Dir is the root directory.
	Dir string

	Engine   Engine
	Resolver Resolver

	// Live opens archives that keep syncing after their first update.
	Live bool
	// Network is passed to every JoinNetwork.
	Network archive.NetworkOptions
	// JoinTimeout bounds each network join when non-zero.
	JoinTimeout time.Duration
	// MaxConcurrentOpens bounds parallel opens during Start.
	MaxConcurrentOpens int

	// Root enables the root archive, which publishes the managed keys.
	Root bool

	Log     *zap.SugaredLogger
	Metrics *Metrics
}

// Manager owns the registry of running archives. It is safe for concurrent
// use. A stopped Manager cannot be started again.
type Manager struct {
	opts Options
	log  *zap.SugaredLogger

	reg *registry.Registry[Handle]
	bus *events.Bus

	// life is cancelled by Stop to abandon in-flight background joins.
	life   context.Context
	cancel context.CancelFunc

	joinMu   sync.Mutex
	stopping bool
	joins    sync.WaitGroup

	rootMu sync.Mutex
	root   *rootArchive
}

// StartResult reports which discovered archives Start brought up.
type StartResult struct {
	Started []contentkey.Key
	Failed  map[contentkey.Key]error
}

func New(opts Options) (*Manager, error) {
	if opts.Dir == "" {
		return nil, errors.New("manager: root directory is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("manager: engine is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("manager: resolver is required")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, err
	}
	opts.Dir = dir
	if opts.MaxConcurrentOpens <= 0 {
		opts.MaxConcurrentOpens = DefaultMaxConcurrentOpens
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}

	life, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		log:    opts.Log,
		reg:    registry.New[Handle](),
		bus:    events.NewBus(),
		life:   life,
		cancel: cancel,
	}, nil
}

// Dir is the absolute root directory.
func (m *Manager) Dir() string { return m.opts.Dir }

// ArchiveDir is where the archive for key is stored.
func (m *Manager) ArchiveDir(key contentkey.Key) string {
	return filepath.Join(m.opts.Dir, key.String())
}

// Subscribe registers fn for events of kind; zero means every kind.
func (m *Manager) Subscribe(kind events.Kind, fn events.Observer) (unsubscribe func()) {
	return m.bus.Subscribe(kind, fn)
}

// Keys returns the registered keys.
func (m *Manager) Keys() []contentkey.Key { return m.reg.Keys() }

// Start opens and joins every archive found under the root directory, and the
// root archive when enabled. Opens run concurrently; joins continue in the
// background. Start waits for every open. Archives that open stay registered
// even when others fail: the result lists both, and the error aggregates the
// failures.
func (m *Manager) Start(ctx context.Context) (*StartResult, error) {
	res := &StartResult{Failed: make(map[contentkey.Key]error)}
	err := m.start(ctx, res)
	m.opts.Metrics.recordOp("start", err)
	m.opts.Metrics.setArchives(m.reg.Len())
	return res, err
}

func (m *Manager) start(ctx context.Context, res *StartResult) error {
	if m.reg.Sealed() {
		return opError("start", "", ErrClosed, nil)
	}
	if err := os.MkdirAll(m.opts.Dir, 0o755); err != nil {
		return opError("start", m.opts.Dir, ErrIO, err)
	}
	keys, err := Scan(m.opts.Dir)
	if err != nil {
		return opError("start", m.opts.Dir, ErrIO, err)
	}
	m.log.Infow("Starting archives.", "dir", m.opts.Dir, "found", len(keys))

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(m.opts.MaxConcurrentOpens)
	fail := func(err error) {
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}

	if m.opts.Root {
		g.Go(func() error {
			if err := m.startRoot(ctx); err != nil {
				fail(err)
			}
			return nil
		})
	}

	for _, key := range keys {
		if err := m.reg.Reserve(key); err != nil {
			if errors.Is(err, registry.ErrSealed) {
				fail(opError("start", key.String(), ErrClosed, nil))
				break
			}
			// Registered by an earlier Start or a concurrent add.
			continue
		}
		g.Go(func() error {
			if err := m.startOne(ctx, key); err != nil {
				fail(err)
				mu.Lock()
				res.Failed[key] = err
				mu.Unlock()
				return nil
			}
			mu.Lock()
			res.Started = append(res.Started, key)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if m.opts.Root {
		m.publishIndex()
	}
	if errs != nil {
		m.log.Warnw("Some archives failed to start.", "started", len(res.Started), "failed", len(res.Failed), "err", errs)
	} else {
		m.log.Infow("Started archives.", "started", len(res.Started))
	}
	return errs
}

// startOne opens a reserved key, registers it and joins it in the background.
func (m *Manager) startOne(ctx context.Context, key contentkey.Key) error {
	h, err := m.open(ctx, key)
	if err != nil {
		m.reg.Release(key)
		return opError("start", key.String(), ErrEngine, err)
	}
	if err := m.reg.Commit(key, h); err != nil {
		_ = h.Close(ctx)
		return opError("start", key.String(), ErrClosed, nil)
	}
	m.joinAsync(h)
	return nil
}

func (m *Manager) open(ctx context.Context, key contentkey.Key) (Handle, error) {
	start := time.Now()
	defer m.opts.Metrics.observeOpen(start)
	return m.opts.Engine.Open(ctx, m.ArchiveDir(key), archive.OpenOptions{Key: key, Live: m.opts.Live})
}

// joinAsync joins h without blocking the caller. Stop waits for it.
func (m *Manager) joinAsync(h Handle) {
	m.joinMu.Lock()
	defer m.joinMu.Unlock()
	if m.stopping {
		return
	}
	m.joins.Add(1)
	go func() {
		defer m.joins.Done()
		ctx, cancel := m.joinContext(m.life)
		defer cancel()
		if err := h.JoinNetwork(ctx, m.opts.Network); err != nil {
			if m.life.Err() == nil {
				m.log.Warnw("Failed to join network.", "key", h.Key().String(), "err", err)
			}
			return
		}
		m.log.Debugw("Joined network.", "key", h.Key().String())
	}()
}

func (m *Manager) joinContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.JoinTimeout > 0 {
		return context.WithTimeout(ctx, m.opts.JoinTimeout)
	}
	return context.WithCancel(ctx)
}

// Stop closes every registered archive and the root archive concurrently. All
// closes are attempted; the error aggregates their failures. The registry is
// emptied before any handle is closed.
func (m *Manager) Stop(ctx context.Context) error {
	m.joinMu.Lock()
	m.stopping = true
	m.joinMu.Unlock()
	m.cancel()
	m.joins.Wait()

	handles := m.reg.Drain()
	m.opts.Metrics.setArchives(0)

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	for key, h := range handles {
		g.Go(func() error {
			if err := h.Close(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, opError("stop", key.String(), ErrEngine, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := m.stopRoot(ctx); err != nil {
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
		}
		return nil
	})
	_ = g.Wait()

	m.opts.Metrics.recordOp("stop", errs)
	if errs != nil {
		m.log.Warnw("Stopped with errors.", "closed", len(handles), "err", errs)
	} else {
		m.log.Infow("Stopped.", "closed", len(handles))
	}
	return errs
}

// Add resolves link and brings its archive under management: it creates the
// archive directory, opens the archive, joins the network, registers it and
// then emits an add event. It fails with ErrAlreadyPeered if the key is
// registered or being added, and with ErrBusy while it is being removed.
func (m *Manager) Add(ctx context.Context, link string) (contentkey.Key, error) {
	key, err := m.add(ctx, link)
	m.opts.Metrics.recordOp("add", err)
	m.opts.Metrics.setArchives(m.reg.Len())
	return key, err
}

func (m *Manager) add(ctx context.Context, link string) (contentkey.Key, error) {
	key, err := m.resolve(ctx, "add", link)
	if err != nil {
		return contentkey.Key{}, err
	}
	if err := m.reg.Reserve(key); err != nil {
		switch {
		case errors.Is(err, registry.ErrSealed):
			return key, opError("add", key.String(), ErrClosed, nil)
		case errors.Is(err, registry.ErrRemoving):
			return key, opError("add", key.String(), ErrBusy, nil)
		}
		return key, opError("add", key.String(), ErrAlreadyPeered, nil)
	}

	h, err := m.prepare(ctx, key)
	if err != nil {
		m.reg.Release(key)
		return key, err
	}
	if err := m.reg.Commit(key, h); err != nil {
		_ = h.Close(ctx)
		return key, opError("add", key.String(), ErrClosed, nil)
	}

	m.log.Infow("Added archive.", "key", key.String(), "link", link)
	m.bus.Emit(events.Event{Kind: events.Add, Key: key})
	return key, nil
}

// prepare creates, opens and joins the archive for a reserved key. On failure
// a directory it created is removed again.
func (m *Manager) prepare(ctx context.Context, key contentkey.Key) (h Handle, err error) {
	dir := m.ArchiveDir(key)
	_, statErr := os.Stat(dir)
	created := errors.Is(statErr, fs.ErrNotExist)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, opError("add", key.String(), ErrIO, err)
	}
	defer func() {
		if err != nil && created {
			if rerr := os.RemoveAll(dir); rerr != nil {
				err = multierr.Append(err, opError("add", key.String(), ErrIO, rerr))
			}
		}
	}()

	h, err = m.open(ctx, key)
	if err != nil {
		return nil, opError("add", key.String(), ErrEngine, err)
	}

	jctx, cancel := m.joinContext(ctx)
	defer cancel()
	if err := h.JoinNetwork(jctx, m.opts.Network); err != nil {
		return nil, multierr.Append(opError("add", key.String(), ErrEngine, err), h.Close(ctx))
	}
	if err := h.Update(jctx); err != nil {
		m.log.Warnw("Initial update failed.", "key", key.String(), "err", err)
	}
	return h, nil
}

// Remove resolves link and stops managing its archive: the archive is closed
// and its directory deleted, then a remove event is emitted. The key stays
// held until both finish, so a concurrent Add of it fails with ErrBusy.
// Removing an unmanaged key does nothing. On failure the key stays
// unregistered.
func (m *Manager) Remove(ctx context.Context, link string) error {
	err := m.remove(ctx, link)
	m.opts.Metrics.recordOp("remove", err)
	m.opts.Metrics.setArchives(m.reg.Len())
	return err
}

func (m *Manager) remove(ctx context.Context, link string) error {
	key, err := m.resolve(ctx, "remove", link)
	if err != nil {
		return err
	}
	h, ok := m.reg.Remove(key)
	if !ok {
		m.log.Debugw("Archive not managed; nothing to remove.", "key", key.String())
		return nil
	}
	defer m.reg.Release(key)

	var errs error
	if err := h.Close(ctx); err != nil {
		errs = multierr.Append(errs, opError("remove", key.String(), ErrEngine, err))
	}
	if err := os.RemoveAll(m.ArchiveDir(key)); err != nil {
		errs = multierr.Append(errs, opError("remove", key.String(), ErrIO, err))
	}
	if errs != nil {
		m.log.Errorw("Failed to remove archive.", "key", key.String(), "err", errs)
		return errs
	}

	m.log.Infow("Removed archive.", "key", key.String(), "link", link)
	m.bus.Emit(events.Event{Kind: events.Remove, Key: key})
	return nil
}

// Get resolves link and returns its archive. A managed archive's registered
// handle is returned as is. Otherwise a fresh handle is opened, without
// registering or joining it, and release closes it. release is never nil when
// err is nil. A key that is being added or removed fails with ErrBusy.
func (m *Manager) Get(ctx context.Context, link string) (h Handle, release func(context.Context) error, err error) {
	defer func() { m.opts.Metrics.recordOp("get", err) }()

	key, err := m.resolve(ctx, "get", link)
	if err != nil {
		return nil, nil, err
	}
	switch h, st := m.reg.Lookup(key); st {
	case registry.Ready:
		return h, func(context.Context) error { return nil }, nil
	case registry.Reserved, registry.Removing:
		return nil, nil, opError("get", key.String(), ErrBusy, nil)
	}
	h, err = m.open(ctx, key)
	if err != nil {
		return nil, nil, opError("get", key.String(), ErrEngine, err)
	}
	return h, h.Close, nil
}

// List returns the keys found on disk under the root directory.
func (m *Manager) List(context.Context) ([]contentkey.Key, error) {
	keys, err := Scan(m.opts.Dir)
	if err != nil {
		err = opError("list", m.opts.Dir, ErrIO, err)
	}
	m.opts.Metrics.recordOp("list", err)
	return keys, err
}

func (m *Manager) resolve(ctx context.Context, op, link string) (contentkey.Key, error) {
	key, err := m.opts.Resolver.Resolve(ctx, link)
	if err != nil {
		return contentkey.Key{}, opError(op, link, ErrResolution, err)
	}
	return key, nil
}
