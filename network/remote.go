package network

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"

	"xdao.co/archiver/contentkey"
)

var ErrReadOnly = errors.New("network: remote archive is read-only")

// Remote is a read-only block store view of one archive on a peer. Every call
// uses the context it was created with.
type Remote struct {
	ctx  context.Context
	peer *Peer
	dkey contentkey.DiscoveryKey
}

// Remote returns the blocks of the archive d as served by p.
func (p *Peer) Remote(ctx context.Context, d contentkey.DiscoveryKey) Remote {
	return Remote{ctx: ctx, peer: p, dkey: d}
}

func (r Remote) Put([]byte) (cid.Cid, error) { return cid.Undef, ErrReadOnly }

func (r Remote) Get(id cid.Cid) ([]byte, error) { return r.peer.Get(r.ctx, r.dkey, id) }

func (r Remote) Has(id cid.Cid) bool { return r.peer.Has(r.ctx, r.dkey, id) }
