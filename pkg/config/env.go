package config

import (
	"time"

	"github.com/testground/feedbench/pkg/bench"
	"github.com/testground/feedbench/pkg/feed"
)

const (
	EnvFeedbenchHomeDir = "FEEDBENCH_HOME"

	// Comma separated endpoint and stamp lists that take precedence over
	// every other source.
	EnvWriterURLs = "BEE_API_URLS"
	EnvReaderURLs = "BEE_PEER_API_URL"
	EnvStamps     = "BEE_STAMP"

	DefaultListenAddr = "localhost:1633"

	BackendHTTP = "http"
	BackendSim  = "sim"

	SyncModeTags  = "sync"
	SyncModeDelay = "delay"
)

// EnvConfig contains the environment configuration. It is populated by
// coalescing values from these sources, in descending order of precedence:
//
//  1. environment variables.
//  2. command line flags, applied by the caller.
//  3. .env.toml.
//  4. default fallbacks.
type EnvConfig struct {
	home string

	Bench    BenchConfig   `toml:"bench"`
	Identity feed.Identity `toml:"identity"`
	Node     NodeConfig    `toml:"node"`
}

func (e EnvConfig) Home() string {
	return e.home
}

type BenchConfig struct {
	Writers           []string `toml:"writers"`
	Readers           []string `toml:"readers"`
	Stamps            []string `toml:"stamps"`
	Updates           int      `toml:"updates"`
	TopicSeed         int32    `toml:"topic_seed"`
	DownloadIteration int      `toml:"download_iteration"`
	Backend           string   `toml:"backend"`
	SyncMode          string   `toml:"sync_mode"`
	SyncDelay         Duration `toml:"sync_delay"`
}

type NodeConfig struct {
	Listen            string   `toml:"listen"`
	Peers             []string `toml:"peers"`
	ReplicationDelay  Duration `toml:"replication_delay"`
	ReplicationJitter Duration `toml:"replication_jitter"`
}

// Duration is a time.Duration written as a string ("40s") in .env.toml.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

const zeroStamp = "0000000000000000000000000000000000000000000000000000000000000000"

// Defaults returns the fallback configuration.
func Defaults() EnvConfig {
	return EnvConfig{
		Bench: BenchConfig{
			// Nodes started with `feedbench node`; the HTTP backend speaks its
			// API only.
			Writers: []string{
				"http://localhost:1633",
				"http://localhost:1634",
				"http://localhost:1635",
			},
			Readers: []string{
				"http://localhost:1636",
				"http://localhost:1637",
				"http://localhost:1638",
			},
			Stamps:            []string{zeroStamp, zeroStamp, zeroStamp},
			Updates:           2,
			TopicSeed:         10,
			DownloadIteration: 1,
			Backend:           BackendHTTP,
			SyncMode:          SyncModeTags,
			SyncDelay:         Duration{bench.DefaultSyncDelay},
		},
		Identity: feed.TestIdentity,
		Node: NodeConfig{
			Listen:           DefaultListenAddr,
			ReplicationDelay: Duration{time.Second},
		},
	}
}

// BenchmarkConfig assembles the configuration of a benchmark run.
func (e *EnvConfig) BenchmarkConfig() bench.Config {
	return bench.Config{
		Writers:           e.Bench.Writers,
		Stamps:            e.Bench.Stamps,
		Readers:           e.Bench.Readers,
		Updates:           e.Bench.Updates,
		TopicSeed:         e.Bench.TopicSeed,
		DownloadIteration: e.Bench.DownloadIteration,
		FeedType:          feed.TypeSequence,
		Identity:          e.Identity,
	}
}
