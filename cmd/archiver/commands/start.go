package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
)

const shutdownTimeout = 30 * time.Second

func newStartCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Serve every archive in the directory until interrupted",
		Long: `Start opens every archive found in the directory, serves them to peers on
the swarm address and keeps them in sync with the configured peers. It runs
until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.runStart(ctx, cmd)
		},
	}
	cmd.Flags().String("listen", "", "swarm listen address (default: :3282)")
	cmd.Flags().StringSlice("peer", nil, "peer swarm address to sync from (repeatable)")
	return cmd
}

func (c *cli) runStart(ctx context.Context, cmd *cobra.Command) error {
	cfg := c.cfg
	reg := prometheus.NewRegistry()
	rt, err := c.newRuntime(runtimeOptions{serve: true, metrics: reg})
	if err != nil {
		return err
	}

	var srv *grpc.Server
	if cfg.Network.Listen != "" {
		lis, err := net.Listen("tcp", cfg.Network.Listen)
		if err != nil {
			_ = rt.shutdown(ctx)
			return err
		}
		srv = grpc.NewServer()
		rt.swarm.Register(srv)
		go func() {
			if err := srv.Serve(lis); err != nil {
				c.log.Errorw("Swarm server stopped.", "err", err)
			}
		}()
		c.log.Infow("Swarm listening.", "addr", lis.Addr().String())
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Errorw("Metrics server stopped.", "err", err)
			}
		}()
		c.log.Infow("Metrics listening.", "addr", cfg.Metrics.Listen)
	}

	res, err := rt.manager.Start(ctx)
	if err != nil && len(res.Failed) == 0 {
		stopServers(srv, metricsSrv)
		return multierr.Append(err, rt.shutdown(context.Background()))
	}
	if err != nil {
		// Archives that opened keep running.
		c.log.Warnw("Start finished with errors.", "err", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d archives from %s\n", len(rt.manager.Keys()), rt.manager.Dir())
	for k, ferr := range res.Failed {
		fmt.Fprintf(cmd.ErrOrStderr(), "Failed to start %s: %v\n", k, ferr)
	}
	if key, ok := rt.manager.RootKey(); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "Root archive: %s\n", key.URL())
	}

	<-ctx.Done()
	c.log.Infow("Shutting down.")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	stopServers(srv, metricsSrv)
	return rt.shutdown(sctx)
}

func stopServers(srv *grpc.Server, metricsSrv *http.Server) {
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}
	if srv != nil {
		srv.GracefulStop()
	}
}
