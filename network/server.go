package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/archiver/contentkey"
	"xdao.co/archiver/storage"
)

// Source is an archive that can be served to peers.
type Source interface {
	DiscoveryKey() contentkey.DiscoveryKey
	// ManifestBytes returns the signed manifest, or storage.ErrNotFound when
	// the archive has none yet.
	ManifestBytes() ([]byte, error)
	Block(id cid.Cid) ([]byte, error)
	HasBlock(id cid.Cid) bool
}

var ErrAlreadyAnnounced = errors.New("network: archive already announced")

// Swarm serves announced archives to peers over the Replication service.
//
// Archives are looked up by discovery key, so a peer must already know an
// archive's content key to ask for it.
type Swarm struct {
	UnimplementedReplicationServer

	mu      sync.RWMutex
	sources map[contentkey.DiscoveryKey]Source

	log *zap.SugaredLogger
}

func NewSwarm(log *zap.SugaredLogger) *Swarm {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Swarm{
		sources: make(map[contentkey.DiscoveryKey]Source),
		log:     log,
	}
}

// Register adds the Replication service to a gRPC server.
func (s *Swarm) Register(reg grpc.ServiceRegistrar) {
	RegisterReplicationServer(reg, s)
}

// Announce starts serving src.
func (s *Swarm) Announce(src Source) error {
	d := src.DiscoveryKey()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[d]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyAnnounced, d)
	}
	s.sources[d] = src
	s.log.Debugw("Announced archive.", "discovery", d.String())
	return nil
}

// Withdraw stops serving the archive with discovery key d. It reports whether
// the archive was announced.
func (s *Swarm) Withdraw(d contentkey.DiscoveryKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[d]; !ok {
		return false
	}
	delete(s.sources, d)
	s.log.Debugw("Withdrew archive.", "discovery", d.String())
	return true
}

// Announced returns the discovery keys currently served, sorted.
func (s *Swarm) Announced() []contentkey.DiscoveryKey {
	s.mu.RLock()
	out := make([]contentkey.DiscoveryKey, 0, len(s.sources))
	for d := range s.sources {
		out = append(out, d)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (s *Swarm) lookup(dkey string) (Source, error) {
	d, err := contentkey.ParseDiscovery(dkey)
	if err != nil {
		return nil, ErrBadRequest
	}
	s.mu.RLock()
	src, ok := s.sources[d]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotAnnounced
	}
	return src, nil
}

func (s *Swarm) Manifest(_ context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	src, err := s.lookup(in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	b, err := src.ManifestBytes()
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Swarm) Get(_ context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	src, id, err := s.block(in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	b, err := src.Block(id)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := storage.Verify(id, b); err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Swarm) Has(_ context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	src, id, err := s.block(in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bool(src.HasBlock(id)), nil
}

func (s *Swarm) block(path string) (Source, cid.Cid, error) {
	dkey, cidStr, ok := strings.Cut(path, "/")
	if !ok {
		return nil, cid.Undef, ErrBadRequest
	}
	src, err := s.lookup(dkey)
	if err != nil {
		return nil, cid.Undef, err
	}
	id, err := cid.Decode(cidStr)
	if err != nil || !id.Defined() {
		return nil, cid.Undef, storage.ErrInvalidCID
	}
	return src, id, nil
}

func blockPath(d contentkey.DiscoveryKey, id cid.Cid) string {
	return d.String() + "/" + id.String()
}
