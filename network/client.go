package network

import (
	"context"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/archiver/contentkey"
	"xdao.co/archiver/storage"
)

// Peer is a connection to a remote swarm.
type Peer struct {
	target string
	cc     *grpc.ClientConn
	client ReplicationClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra options, e.g. grpc.WithContextDialer in tests.
	Extra []grpc.DialOption
}

func Dial(target string, opts DialOptions) (*Peer, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return NewPeer(target, cc), nil
}

// NewPeer wraps an existing connection.
func NewPeer(target string, cc *grpc.ClientConn) *Peer {
	return &Peer{target: target, cc: cc, client: NewReplicationClient(cc)}
}

// Target returns the address the peer was dialed with.
func (p *Peer) Target() string { return p.target }

func (p *Peer) Close() error {
	if p == nil || p.cc == nil {
		return nil
	}
	return p.cc.Close()
}

// Manifest fetches the signed manifest the peer holds for an archive. The
// caller verifies it.
func (p *Peer) Manifest(ctx context.Context, d contentkey.DiscoveryKey) ([]byte, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	reply, err := p.client.Manifest(ctx, wrapperspb.String(d.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	return reply.GetValue(), nil
}

// Get fetches one block and checks it against id.
func (p *Peer) Get(ctx context.Context, d contentkey.DiscoveryKey, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	reply, err := p.client.Get(ctx, wrapperspb.String(blockPath(d, id)))
	if err != nil {
		return nil, mapRPC(err)
	}
	b := reply.GetValue()
	if err := storage.Verify(id, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *Peer) Has(ctx context.Context, d contentkey.DiscoveryKey, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	reply, err := p.client.Has(ctx, wrapperspb.String(blockPath(d, id)))
	if err != nil {
		return false
	}
	return reply.GetValue()
}

func (p *Peer) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.Timeout)
}

// Pool shares peer connections by target across archives.
type Pool struct {
	opts    DialOptions
	timeout time.Duration

	mu    sync.Mutex
	peers map[string]*Peer
}

// NewPool returns a pool that dials with opts and applies rpcTimeout to
// every call.
func NewPool(opts DialOptions, rpcTimeout time.Duration) *Pool {
	return &Pool{opts: opts, timeout: rpcTimeout, peers: make(map[string]*Peer)}
}

// Peer returns the cached connection to target, dialing it on first use.
func (p *Pool) Peer(target string) (*Peer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peer, ok := p.peers[target]; ok {
		return peer, nil
	}
	peer, err := Dial(target, p.opts)
	if err != nil {
		return nil, err
	}
	peer.Timeout = p.timeout
	p.peers[target] = peer
	return peer, nil
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for target, peer := range p.peers {
		err = multierr.Append(err, peer.Close())
		delete(p.peers, target)
	}
	return err
}
