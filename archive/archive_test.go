package archive

import (
	"context"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/archiver/contentkey"
	"xdao.co/archiver/keys"
	"xdao.co/archiver/network"
	"xdao.co/archiver/storage"
	"xdao.co/archiver/storage/localfs"
)

func newPair(t *testing.T) keys.Pair {
	t.Helper()
	p, _, err := keys.Generate(rand.Reader)
	require.NoError(t, err)
	return p
}

// newNetworkedEngine returns an engine whose swarm is served over bufconn and
// whose pool dials that same swarm.
func newNetworkedEngine(t *testing.T) *Engine {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	swarm := network.NewSwarm(zaptest.NewLogger(t).Sugar())
	swarm.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	pool := network.NewPool(network.DialOptions{Extra: []grpc.DialOption{grpc.WithContextDialer(dialer)}}, 2*time.Second)
	e := NewEngine(swarm, pool, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestPutRead(t *testing.T) {
	ctx := context.Background()
	pair := newPair(t)
	e := NewEngine(nil, nil, zaptest.NewLogger(t).Sugar())

	a, err := e.Open(ctx, t.TempDir(), OpenOptions{Writer: &pair})
	require.NoError(t, err)
	assert.True(t, a.Writable())
	assert.Equal(t, pair.Key, a.Key())
	assert.Equal(t, uint64(0), a.Version())
	assert.Nil(t, a.Manifest())

	require.NoError(t, a.Put("hello.txt", []byte("hello")))
	require.NoError(t, a.Put("world.txt", []byte("world")))
	require.NoError(t, a.Put("hello.txt", []byte("hello again")))

	got, err := a.Read("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello again", string(got))

	_, err = a.Read("missing")
	assert.ErrorIs(t, err, ErrNoEntry)

	m := a.Manifest()
	require.NotNil(t, m)
	assert.Equal(t, uint64(3), m.Version)
	assert.Len(t, m.Entries, 2)
	require.NoError(t, m.Verify())

	// Tampering with the copy does not verify.
	m.Version++
	assert.ErrorIs(t, m.Verify(), ErrBadSignature)

	st, err := a.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, st.Blocks)
	assert.Equal(t, 2, st.Entries)
}

func TestReadOnlyPut(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	a, err := e.Open(context.Background(), t.TempDir(), OpenOptions{Key: newPair(t).Key})
	require.NoError(t, err)
	assert.False(t, a.Writable())
	assert.ErrorIs(t, a.Put("x", []byte("x")), ErrReadOnly)
}

func TestOpenRejectsMismatchedWriter(t *testing.T) {
	pair := newPair(t)
	e := NewEngine(nil, nil, nil)
	_, err := e.Open(context.Background(), t.TempDir(), OpenOptions{Key: newPair(t).Key, Writer: &pair})
	assert.ErrorIs(t, err, ErrKeyMismatch)

	_, err = e.Open(context.Background(), t.TempDir(), OpenOptions{})
	assert.ErrorIs(t, err, contentkey.ErrInvalid)
}

func TestReopenPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	pair := newPair(t)
	e := NewEngine(nil, nil, nil)

	a, err := e.Open(ctx, dir, OpenOptions{Writer: &pair})
	require.NoError(t, err)
	require.NoError(t, a.Put("a", []byte("alpha")))
	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx))
	assert.ErrorIs(t, a.Put("b", []byte("beta")), ErrClosed)

	b, err := e.Open(ctx, dir, OpenOptions{Key: pair.Key})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), b.Version())
	got, err := b.Read("a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	// A manifest signed for another key is refused.
	_, err = e.Open(ctx, dir, OpenOptions{Key: newPair(t).Key})
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestOpenRejectsTamperedManifest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	pair := newPair(t)
	e := NewEngine(nil, nil, nil)

	a, err := e.Open(ctx, dir, OpenOptions{Writer: &pair})
	require.NoError(t, err)
	require.NoError(t, a.Put("a", []byte("alpha")))

	m := a.Manifest()
	m.Version = 99
	b, err := encodeManifest(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFile), b, 0o644))

	_, err = e.Open(ctx, dir, OpenOptions{Key: pair.Key})
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestReplicaSyncsFromWriter(t *testing.T) {
	ctx := context.Background()
	pair := newPair(t)
	e := newNetworkedEngine(t)

	w, err := e.Open(ctx, t.TempDir(), OpenOptions{Writer: &pair})
	require.NoError(t, err)
	require.NoError(t, w.Put("one", []byte("first")))
	require.NoError(t, w.JoinNetwork(ctx, NetworkOptions{}))
	assert.ErrorIs(t, w.JoinNetwork(ctx, NetworkOptions{}), ErrAlreadyJoined)

	// The replica is served by a second engine so both archives can be
	// announced under the same discovery key.
	replicaEngine := NewEngine(nil, e.pool, zaptest.NewLogger(t).Sugar())
	r, err := replicaEngine.Open(ctx, t.TempDir(), OpenOptions{Key: pair.Key, Live: true})
	require.NoError(t, err)
	require.NoError(t, r.JoinNetwork(ctx, NetworkOptions{Peers: []string{"bufnet"}, SyncInterval: 20 * time.Millisecond}))

	require.Eventually(t, func() bool { return r.Version() == 1 }, 5*time.Second, 10*time.Millisecond)
	got, err := r.Read("one")
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	// Live replicas keep following the writer.
	require.NoError(t, w.Put("two", []byte("second")))
	require.Eventually(t, func() bool { return r.Version() == 2 }, 5*time.Second, 10*time.Millisecond)
	got, err = r.Read("two")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	require.NoError(t, r.Close(ctx))
	require.NoError(t, w.Close(ctx))
	assert.Empty(t, e.swarm.Announced())
	assert.ErrorIs(t, r.JoinNetwork(ctx, NetworkOptions{}), ErrClosed)
}

func TestUpdateIgnoresStaleManifest(t *testing.T) {
	ctx := context.Background()
	pair := newPair(t)
	e := newNetworkedEngine(t)

	w, err := e.Open(ctx, t.TempDir(), OpenOptions{Writer: &pair})
	require.NoError(t, err)
	require.NoError(t, w.Put("one", []byte("first")))
	require.NoError(t, w.JoinNetwork(ctx, NetworkOptions{}))

	replicaEngine := NewEngine(nil, e.pool, nil)
	dir := t.TempDir()
	r, err := replicaEngine.Open(ctx, dir, OpenOptions{Key: pair.Key})
	require.NoError(t, err)
	require.NoError(t, r.JoinNetwork(ctx, NetworkOptions{Peers: []string{"bufnet"}}))
	require.NoError(t, r.Update(ctx))
	assert.Equal(t, uint64(1), r.Version())

	// Calling Update again with nothing new leaves the version alone.
	require.NoError(t, r.Update(ctx))
	assert.Equal(t, uint64(1), r.Version())
	require.NoError(t, r.LeaveNetwork(ctx))
	require.NoError(t, r.LeaveNetwork(ctx))
}

func TestFetchMissingFallsBack(t *testing.T) {
	ctx := context.Background()
	pair := newPair(t)
	e := NewEngine(nil, nil, zaptest.NewLogger(t).Sugar())

	w, err := e.Open(ctx, t.TempDir(), OpenOptions{Writer: &pair})
	require.NoError(t, err)
	require.NoError(t, w.Put("a", []byte("alpha")))
	m := w.Manifest()

	r, err := e.Open(ctx, t.TempDir(), OpenOptions{Key: pair.Key})
	require.NoError(t, err)

	empty, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.fetchMissing(m, storage.Fallback{empty, w.store}))

	installed, err := r.install(m)
	require.NoError(t, err)
	assert.True(t, installed)
	got, err := r.Read("a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	installed, err = r.install(m)
	require.NoError(t, err)
	assert.False(t, installed, "same version installs once")

	require.NoError(t, r.Close(ctx))
	_, err = r.install(m)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPutAfterCloseWritesNothing(t *testing.T) {
	ctx := context.Background()
	pair := newPair(t)
	a, err := NewEngine(nil, nil, zaptest.NewLogger(t).Sugar()).Open(ctx, t.TempDir(), OpenOptions{Writer: &pair})
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx))

	assert.ErrorIs(t, a.Put("late", []byte("late")), ErrClosed)
	st, err := a.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.Blocks)
}

func TestJoinAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	e := newNetworkedEngine(t)
	pair := newPair(t)
	a, err := e.Open(ctx, t.TempDir(), OpenOptions{Key: pair.Key, Live: true})
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	assert.ErrorIs(t, a.JoinNetwork(ctx, NetworkOptions{Peers: []string{"bufnet"}}), ErrClosed)
	assert.Empty(t, e.swarm.Announced())
}

func TestJoinRacingCloseLeavesNothingAnnounced(t *testing.T) {
	ctx := context.Background()
	e := newNetworkedEngine(t)
	for i := 0; i < 50; i++ {
		pair := newPair(t)
		a, err := e.Open(ctx, t.TempDir(), OpenOptions{Key: pair.Key, Live: true})
		require.NoError(t, err)

		joined := make(chan error, 1)
		go func() {
			joined <- a.JoinNetwork(ctx, NetworkOptions{Peers: []string{"bufnet"}, SyncInterval: time.Millisecond})
		}()
		require.NoError(t, a.Close(ctx))
		// Either the join ran first and Close left the network, or it saw the
		// archive closed.
		if err := <-joined; err != nil {
			assert.ErrorIs(t, err, ErrClosed)
		}
		assert.Empty(t, e.swarm.Announced(), "iteration %d", i)
	}
}
