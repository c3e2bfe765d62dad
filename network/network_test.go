package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/archiver/cidutil"
	"xdao.co/archiver/contentkey"
	"xdao.co/archiver/storage"
	"xdao.co/archiver/storage/localfs"
)

type testSource struct {
	key      contentkey.Key
	manifest []byte
	cas      storage.CAS
}

func (s *testSource) DiscoveryKey() contentkey.DiscoveryKey { return s.key.Discovery() }

func (s *testSource) ManifestBytes() ([]byte, error) {
	if s.manifest == nil {
		return nil, storage.ErrNotFound
	}
	return s.manifest, nil
}

func (s *testSource) Block(id cid.Cid) ([]byte, error) { return s.cas.Get(id) }
func (s *testSource) HasBlock(id cid.Cid) bool         { return s.cas.Has(id) }

func startSwarm(t *testing.T) (*Swarm, *Pool) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	swarm := NewSwarm(nil)
	swarm.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.DialContext(ctx) }
	pool := NewPool(DialOptions{Extra: []grpc.DialOption{grpc.WithContextDialer(dialer)}}, 2*time.Second)
	t.Cleanup(func() { _ = pool.Close() })
	return swarm, pool
}

func newSource(t *testing.T, b byte) *testSource {
	t.Helper()
	cas, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	var k contentkey.Key
	for i := range k {
		k[i] = b
	}
	return &testSource{key: k, cas: cas}
}

func TestSwarmRoundTrip(t *testing.T) {
	swarm, pool := startSwarm(t)
	src := newSource(t, 0x01)
	src.manifest = []byte(`{"version":1}`)
	id, err := src.cas.Put([]byte("block one"))
	require.NoError(t, err)
	require.NoError(t, swarm.Announce(src))

	peer, err := pool.Peer("bufnet")
	require.NoError(t, err)
	again, err := pool.Peer("bufnet")
	require.NoError(t, err)
	assert.Same(t, peer, again)

	ctx := context.Background()
	d := src.DiscoveryKey()

	m, err := peer.Manifest(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, src.manifest, m)

	assert.True(t, peer.Has(ctx, d, id))
	b, err := peer.Get(ctx, d, id)
	require.NoError(t, err)
	assert.Equal(t, "block one", string(b))

	missing, err := cidutil.BlockCID([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, peer.Has(ctx, d, missing))
	_, err = peer.Get(ctx, d, missing)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, []contentkey.DiscoveryKey{d}, swarm.Announced())
}

func TestSwarmNotAnnounced(t *testing.T) {
	swarm, pool := startSwarm(t)
	src := newSource(t, 0x02)

	peer, err := pool.Peer("bufnet")
	require.NoError(t, err)

	_, err = peer.Manifest(context.Background(), src.DiscoveryKey())
	assert.ErrorIs(t, err, ErrNotAnnounced)

	require.NoError(t, swarm.Announce(src))
	assert.ErrorIs(t, swarm.Announce(src), ErrAlreadyAnnounced)

	// Announced, but no manifest yet.
	_, err = peer.Manifest(context.Background(), src.DiscoveryKey())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.True(t, swarm.Withdraw(src.DiscoveryKey()))
	assert.False(t, swarm.Withdraw(src.DiscoveryKey()))
	_, err = peer.Manifest(context.Background(), src.DiscoveryKey())
	assert.ErrorIs(t, err, ErrNotAnnounced)
}

func TestPeerRejectsUndefinedCID(t *testing.T) {
	_, pool := startSwarm(t)
	peer, err := pool.Peer("bufnet")
	require.NoError(t, err)

	_, err = peer.Get(context.Background(), contentkey.DiscoveryKey{}, cid.Undef)
	assert.ErrorIs(t, err, storage.ErrInvalidCID)
	assert.False(t, peer.Has(context.Background(), contentkey.DiscoveryKey{}, cid.Undef))
}

func TestMapErrRoundTrip(t *testing.T) {
	for _, err := range []error{ErrNotAnnounced, storage.ErrNotFound, storage.ErrInvalidCID, storage.ErrCIDMismatch} {
		assert.ErrorIs(t, mapRPC(mapErr(err)), err)
	}
	assert.ErrorIs(t, mapRPC(mapErr(ErrBadRequest)), ErrBadRequest)
}

func TestRemoteServesOneArchive(t *testing.T) {
	swarm, pool := startSwarm(t)
	src := newSource(t, 0x03)
	id, err := src.cas.Put([]byte("remote block"))
	require.NoError(t, err)
	require.NoError(t, swarm.Announce(src))

	peer, err := pool.Peer("bufnet")
	require.NoError(t, err)

	r := peer.Remote(context.Background(), src.DiscoveryKey())
	assert.True(t, r.Has(id))
	b, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "remote block", string(b))

	_, err = r.Put([]byte("nope"))
	assert.ErrorIs(t, err, ErrReadOnly)

	// A fallback over the remote and an empty local store reads through.
	local, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	b, err = storage.Fallback{local, r}.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "remote block", string(b))

	other := peer.Remote(context.Background(), newSource(t, 0x04).DiscoveryKey())
	assert.False(t, other.Has(id))
	_, err = other.Get(id)
	assert.ErrorIs(t, err, ErrNotAnnounced)
}
