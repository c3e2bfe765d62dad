package commands

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"xdao.co/archiver/archive"
	"xdao.co/archiver/link"
	"xdao.co/archiver/manager"
	"xdao.co/archiver/network"
)

// runtime wires the manager to its engine for one command invocation.
type runtime struct {
	swarm   *network.Swarm
	engine  *archive.Engine
	manager *manager.Manager
}

type runtimeOptions struct {
	// serve announces joined archives on a swarm.
	serve bool
	// metrics registers manager metrics when non-nil.
	metrics prometheus.Registerer
}

func (c *cli) newRuntime(opts runtimeOptions) (*runtime, error) {
	cfg := c.cfg
	var swarm *network.Swarm
	if opts.serve {
		swarm = network.NewSwarm(c.log.Named("swarm"))
	}
	pool := network.NewPool(network.DialOptions{Timeout: cfg.Network.DialTimeout}, cfg.Network.RPCTimeout)
	engine := archive.NewEngine(swarm, pool, c.log.Named("archive"))

	var metrics *manager.Metrics
	if opts.metrics != nil {
		metrics = manager.NewMetrics(opts.metrics)
	}

	m, err := manager.New(manager.Options{
		Dir:      cfg.Dir,
		Engine:   manager.ArchiveEngine(engine),
		Resolver: &link.Resolver{Log: c.log.Named("link")},
		Live:     cfg.Replication.Live,
		Network: archive.NetworkOptions{
			Peers:        cfg.Network.Peers,
			SyncInterval: cfg.Network.SyncInterval,
		},
		JoinTimeout:        cfg.Network.JoinTimeout,
		MaxConcurrentOpens: cfg.Replication.MaxConcurrentOpens,
		Root:               cfg.Root.Enabled,
		Log:                c.log.Named("manager"),
		Metrics:            metrics,
	})
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	return &runtime{swarm: swarm, engine: engine, manager: m}, nil
}

// shutdown stops the manager and then closes peer connections.
func (r *runtime) shutdown(ctx context.Context) error {
	return multierr.Append(r.manager.Stop(ctx), r.engine.Close())
}
