package manager

import (
	"context"

	"xdao.co/archiver/archive"
	"xdao.co/archiver/contentkey"
)

// Handle is one open archive as seen by the manager.
type Handle interface {
	Key() contentkey.Key
	// JoinNetwork returns once the archive is announced and syncing has
	// started.
	JoinNetwork(ctx context.Context, opts archive.NetworkOptions) error
	LeaveNetwork(ctx context.Context) error
	// Update pulls the newest version from peers.
	Update(ctx context.Context) error
	// Close leaves the network and releases local resources.
	Close(ctx context.Context) error
}

// Writer is a Handle that accepts new entries.
type Writer interface {
	Handle
	Put(name string, data []byte) error
}

// Engine opens archives.
type Engine interface {
	Open(ctx context.Context, dir string, opts archive.OpenOptions) (Handle, error)
}

// Resolver turns links into content keys.
type Resolver interface {
	Resolve(ctx context.Context, link string) (contentkey.Key, error)
}

type archiveEngine struct{ e *archive.Engine }

// ArchiveEngine adapts an archive.Engine to Engine.
func ArchiveEngine(e *archive.Engine) Engine { return archiveEngine{e} }

func (a archiveEngine) Open(ctx context.Context, dir string, opts archive.OpenOptions) (Handle, error) {
	h, err := a.e.Open(ctx, dir, opts)
	if err != nil {
		return nil, err
	}
	return h, nil
}
