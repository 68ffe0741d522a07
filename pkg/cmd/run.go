package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/testground/feedbench/pkg/bench"
	"github.com/testground/feedbench/pkg/client"
	"github.com/testground/feedbench/pkg/config"
	"github.com/testground/feedbench/pkg/console"
	"github.com/testground/feedbench/pkg/logging"
	"github.com/testground/feedbench/pkg/simnet"
)

const runDescription = "Writers and readers are `feedbench node` endpoints (by default six nodes on\n" +
	"localhost:1633-1638), or simulated in process with --backend sim. Nodes sign\n" +
	"nothing, so public Bee gateways cannot be benchmarked as writers."

// RunCommand publishes feed updates and times their propagation.
var RunCommand = cli.Command{
	Name:        "run",
	Usage:       "publish sequential feed updates and measure how long readers take to see them",
	Description: runDescription,
	Action:      runCommand,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "bee-writer",
			Aliases: []string{"bw"},
			Usage:   "node `URL` updates are uploaded to; repeatable (overridden by $" + config.EnvWriterURLs + ")",
		},
		&cli.StringSliceFlag{
			Name:    "bee-reader",
			Aliases: []string{"br"},
			Usage:   "node `URL` updates are downloaded from; repeatable (overridden by $" + config.EnvReaderURLs + ")",
		},
		&cli.StringSliceFlag{
			Name:    "stamp",
			Aliases: []string{"st"},
			Usage:   "postage batch id paying for the uploads to the writer at the same position (overridden by $" + config.EnvStamps + ")",
		},
		&cli.IntFlag{
			Name:    "updates",
			Aliases: []string{"x"},
			Usage:   "number of feed updates to publish",
			Value:   2,
		},
		&cli.IntFlag{
			Name:    "topic-seed",
			Aliases: []string{"t"},
			Usage:   "seed of the feed topic",
			Value:   10,
		},
		&cli.IntFlag{
			Name:    "download-iteration",
			Aliases: []string{"di"},
			Usage:   "download and verify every n-th update",
			Value:   1,
		},
		&cli.GenericFlag{
			Name:  "backend",
			Usage: "how nodes are reached: over HTTP, or simulated in process",
			Value: &EnumValue{
				Allowed: []string{config.BackendHTTP, config.BackendSim},
				Default: config.BackendHTTP,
			},
		},
		&cli.GenericFlag{
			Name:  "sync-mode",
			Usage: "wait for replication by polling upload tags, or for a fixed delay (workaround for nodes whose tags report sync early)",
			Value: &EnumValue{
				Allowed: []string{config.SyncModeTags, config.SyncModeDelay},
				Default: config.SyncModeTags,
			},
		},
		&cli.DurationFlag{
			Name:  "sync-delay",
			Usage: "how long to wait before downloading in delay sync mode",
			Value: bench.DefaultSyncDelay,
		},
		&cli.DurationFlag{
			Name:  "replication-delay",
			Usage: "how long a replica takes to reach a peer (sim backend)",
		},
		&cli.DurationFlag{
			Name:  "replication-jitter",
			Usage: "random extra replication delay (sim backend)",
		},
	},
}

func runCommand(c *cli.Context) error {
	ctx, cancel := context.WithCancel(ProcessContext())
	defer cancel()

	cfg, err := loadConfig(runFlags(c), os.LookupEnv)
	if err != nil {
		return err
	}

	return runBenchmark(ctx, cfg, console.NewPrinter(c.App.Writer, logging.IsTerminal()))
}

// runFlags applies the explicitly set flags of the run command.
func runFlags(c *cli.Context) func(cfg *config.EnvConfig) error {
	return func(cfg *config.EnvConfig) error {
		var flags config.EnvConfig
		if c.IsSet("bee-writer") {
			flags.Bench.Writers = c.StringSlice("bee-writer")
		}
		if c.IsSet("bee-reader") {
			flags.Bench.Readers = c.StringSlice("bee-reader")
		}
		if c.IsSet("stamp") {
			flags.Bench.Stamps = c.StringSlice("stamp")
		}
		if c.IsSet("backend") {
			flags.Bench.Backend = c.Generic("backend").(*EnumValue).String()
		}
		if c.IsSet("sync-mode") {
			flags.Bench.SyncMode = c.Generic("sync-mode").(*EnumValue).String()
		}
		if err := cfg.Override(flags); err != nil {
			return err
		}

		// Numbers bypass the merge, which skips zero values. An explicit zero
		// is either a valid seed or delay, or must fail validation.
		if c.IsSet("updates") {
			cfg.Bench.Updates = c.Int("updates")
		}
		if c.IsSet("download-iteration") {
			cfg.Bench.DownloadIteration = c.Int("download-iteration")
		}
		if c.IsSet("topic-seed") {
			cfg.Bench.TopicSeed = int32(c.Int("topic-seed"))
		}
		if c.IsSet("sync-delay") {
			cfg.Bench.SyncDelay.Duration = c.Duration("sync-delay")
		}
		applyReplicationFlags(c, cfg)
		return nil
	}
}

func runBenchmark(ctx context.Context, cfg *config.EnvConfig, printer *console.Printer) error {
	var dial bench.Dialer
	switch cfg.Bench.Backend {
	case config.BackendSim:
		network := simnet.NewNetwork(simnet.Options{
			ReplicationDelay:  cfg.Node.ReplicationDelay.Duration,
			ReplicationJitter: cfg.Node.ReplicationJitter.Duration,
		})
		defer network.Close()
		dial = network.Dial
	case config.BackendHTTP:
		dial = client.Dial
	default:
		return fmt.Errorf("unknown backend: %s", cfg.Bench.Backend)
	}

	var waiter bench.Waiter
	switch cfg.Bench.SyncMode {
	case config.SyncModeDelay:
		waiter = &bench.DelayWaiter{Delay: cfg.Bench.SyncDelay.Duration}
	case config.SyncModeTags:
		waiter = &bench.SyncWaiter{Detector: bench.NewSyncDetector()}
	default:
		return fmt.Errorf("unknown sync mode: %s", cfg.Bench.SyncMode)
	}

	b, err := bench.New(cfg.BenchmarkConfig(), dial, bench.WithWaiter(waiter), bench.WithObserver(printer))
	if err != nil {
		return err
	}

	reports, err := b.Run(ctx)
	if err != nil {
		printer.Fail(uint64(len(reports)), err)
		return err
	}
	printer.Summary()
	return nil
}
