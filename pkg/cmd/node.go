package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v2"

	"github.com/testground/feedbench/pkg/client"
	"github.com/testground/feedbench/pkg/config"
	"github.com/testground/feedbench/pkg/logging"
	"github.com/testground/feedbench/pkg/server"
	"github.com/testground/feedbench/pkg/simnet"
)

// NodeCommand serves a simulated node over HTTP.
var NodeCommand = cli.Command{
	Name:   "node",
	Usage:  "serve a simulated storage node that replicates feed updates to its peers",
	Action: nodeCommand,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "`ADDR` to listen on (overrides .env.toml)",
			Value: config.DefaultListenAddr,
		},
		&cli.StringSliceFlag{
			Name:  "peer",
			Usage: "`URL` of a node uploads are replicated to; repeatable",
		},
		&cli.DurationFlag{
			Name:  "replication-delay",
			Usage: "how long a replica takes to reach a peer",
			Value: time.Second,
		},
		&cli.DurationFlag{
			Name:  "replication-jitter",
			Usage: "random extra replication delay",
		},
	},
}

func nodeCommand(c *cli.Context) error {
	ctx, cancel := context.WithCancel(ProcessContext())
	defer cancel()

	cfg, err := loadConfig(nodeFlags(c), nil)
	if err != nil {
		return err
	}

	return serveNode(ctx, cfg, func(srv *server.Server) {
		fmt.Fprintf(c.App.Writer, "node listening on http://%s, replicating to %d peers after %s\n",
			srv.Addr(), len(cfg.Node.Peers), cfg.Node.ReplicationDelay.Duration)
	})
}

// nodeFlags applies the explicitly set flags of the node command.
func nodeFlags(c *cli.Context) func(cfg *config.EnvConfig) error {
	return func(cfg *config.EnvConfig) error {
		var flags config.EnvConfig
		if c.IsSet("listen") {
			flags.Node.Listen = c.String("listen")
		}
		if c.IsSet("peer") {
			flags.Node.Peers = c.StringSlice("peer")
		}
		if err := cfg.Override(flags); err != nil {
			return err
		}
		applyReplicationFlags(c, cfg)
		return nil
	}
}

// applyReplicationFlags assigns the replication flags shared by the run and
// node commands. Zero disables the delay, so they bypass the merge.
func applyReplicationFlags(c *cli.Context, cfg *config.EnvConfig) {
	if c.IsSet("replication-delay") {
		cfg.Node.ReplicationDelay.Duration = c.Duration("replication-delay")
	}
	if c.IsSet("replication-jitter") {
		cfg.Node.ReplicationJitter.Duration = c.Duration("replication-jitter")
	}
}

// serveNode serves a node until ctx is cancelled. started is called once the
// node is listening.
func serveNode(ctx context.Context, cfg *config.EnvConfig, started func(*server.Server)) error {
	node, err := simnet.NewNode(cfg.Node.Listen, simnet.Options{
		ReplicationDelay:  cfg.Node.ReplicationDelay.Duration,
		ReplicationJitter: cfg.Node.ReplicationJitter.Duration,
		Seed:              time.Now().UnixNano(),
	})
	if err != nil {
		return err
	}
	for _, p := range cfg.Node.Peers {
		node.AddPeer(client.New(p))
	}

	srv, err := server.New(cfg.Node.Listen, node)
	if err != nil {
		_ = node.Close()
		return err
	}

	var (
		start   = time.Now()
		stopped = make(chan error, 1)
	)
	go func() {
		<-ctx.Done()

		logging.S().Infow("shutting down node", "started", humanize.Time(start))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var merr *multierror.Error
		merr = multierror.Append(merr, srv.Shutdown(ctx))
		merr = multierror.Append(merr, node.Close())
		stopped <- merr.ErrorOrNil()
	}()

	if started != nil {
		started(srv)
	}

	err = srv.Serve()
	if err == http.ErrServerClosed {
		err = <-stopped
	}
	return err
}
