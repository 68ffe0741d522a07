// Package bench measures how long sequential feed updates take to propagate
// across a storage network, and verifies what readers observe.
package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/testground/feedbench/pkg/bytesutil"
	"github.com/testground/feedbench/pkg/feed"
	"github.com/testground/feedbench/pkg/logging"
)

// Dialer returns the node serving the endpoint at url.
type Dialer func(url string) (feed.Node, error)

// Stage is the phase an iteration is in.
type Stage int

const (
	StageUpload Stage = iota
	StageSync
	StageDownload
)

func (s Stage) String() string {
	return [...]string{"upload", "sync", "download"}[s]
}

// Observer is notified of the progress of a run.
type Observer interface {
	// Stage is called when iteration i enters stage s.
	Stage(i uint64, s Stage)
	// Report is called once iteration r.Index completed successfully.
	Report(r *Report)
}

type nopObserver struct{}

func (nopObserver) Stage(uint64, Stage) {}
func (nopObserver) Report(*Report)      {}

// Option configures a Benchmark.
type Option func(*Benchmark)

// WithWaiter sets how the benchmark waits for uploads to propagate. The
// default is a SyncWaiter with the default SyncDetector.
func WithWaiter(w Waiter) Option {
	return func(b *Benchmark) {
		b.waiter = w
	}
}

// WithObserver registers o for progress notifications.
func WithObserver(o Observer) Option {
	return func(b *Benchmark) {
		b.observer = o
	}
}

// Benchmark is a configured benchmark run.
type Benchmark struct {
	id       xid.ID
	cfg      Config
	dial     Dialer
	waiter   Waiter
	observer Observer
}

// New validates cfg and prepares a run. Configuration errors are returned as
// *ConfigurationError; no endpoint is contacted.
func New(cfg Config, dial Dialer, opts ...Option) (*Benchmark, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dial == nil {
		return nil, configErrorf("no dialer")
	}

	b := &Benchmark{
		id:       xid.New(),
		cfg:      cfg,
		dial:     dial,
		waiter:   &SyncWaiter{Detector: NewSyncDetector()},
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// ID returns the unique id of this run.
func (b *Benchmark) ID() string {
	return b.id.String()
}

// Topic returns the topic of the feed the run publishes.
func (b *Benchmark) Topic() feed.Topic {
	t, _ := feed.NewTopic(bytesutil.RandomByteArray(feed.TopicLength, b.cfg.TopicSeed))
	return t
}

type writer struct {
	node  feed.Node
	feed  feed.Writer
	stamp string
}

type reader struct {
	node feed.Node
	feed feed.Reader
}

// Run publishes cfg.Updates updates and reads back every
// cfg.DownloadIteration-th one. It stops at the first error; the reports of
// the iterations completed until then are returned along with it.
func (b *Benchmark) Run(ctx context.Context) ([]*Report, error) {
	var (
		log   = logging.S().With("run", b.ID())
		topic = b.Topic()
	)

	writers, readers, err := b.open(topic)
	if err != nil {
		return nil, err
	}

	log.Infow("starting feed benchmark",
		"topic", topic.Hex(),
		"owner", b.cfg.Identity.Address,
		"writers", len(writers),
		"readers", len(readers),
		"updates", b.cfg.Updates,
		"download_iteration", b.cfg.DownloadIteration)

	var (
		reports = make([]*Report, 0, b.cfg.Updates)
		payload = bytesutil.MakeBytes(feed.ReferenceLength)
		stride  int
	)

	for i := uint64(0); i < uint64(b.cfg.Updates); i++ {
		ref, err := feed.NewReference(payload)
		if err != nil {
			return reports, err
		}
		report := &Report{Index: i, Reference: ref}

		b.observer.Stage(i, StageUpload)
		uploads, err := b.upload(ctx, writers, ref, report)
		if err != nil {
			return reports, err
		}

		if stride++; stride == b.cfg.DownloadIteration {
			stride = 0
			if err := b.readBack(ctx, i, readers, uploads, ref, report); err != nil {
				return reports, err
			}
		}

		log.Debugw("iteration completed", "index", i, "reference", ref.Hex(), "verified", report.Verified())
		b.observer.Report(report)
		reports = append(reports, report)

		bytesutil.IncrementBytes(payload)
	}

	return reports, nil
}

// open dials every endpoint and creates the feed handles.
func (b *Benchmark) open(topic feed.Topic) ([]writer, []reader, error) {
	writers := make([]writer, 0, len(b.cfg.Writers))
	for i, url := range b.cfg.Writers {
		node, err := b.dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial writer %q: %w", url, err)
		}
		w, err := node.MakeFeedWriter(b.cfg.FeedType, topic, b.cfg.Identity)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create feed writer on %q: %w", url, err)
		}
		writers = append(writers, writer{node: node, feed: w, stamp: b.cfg.Stamps[i]})
	}

	readers := make([]reader, 0, len(b.cfg.Readers))
	for _, url := range b.cfg.Readers {
		node, err := b.dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial reader %q: %w", url, err)
		}
		r, err := node.MakeFeedReader(b.cfg.FeedType, topic, b.cfg.Identity.Address)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create feed reader on %q: %w", url, err)
		}
		readers = append(readers, reader{node: node, feed: r})
	}
	return writers, readers, nil
}

// upload writes ref to every writer concurrently. All uploads must succeed.
func (b *Benchmark) upload(ctx context.Context, writers []writer, ref feed.Reference, report *Report) ([]Upload, error) {
	var (
		uploads = make([]Upload, len(writers))
		samples = make([]Sample, len(writers))
	)

	grp, gctx := errgroup.WithContext(ctx)
	for i, w := range writers {
		i, w := i, w
		grp.Go(func() error {
			start := time.Now()
			h, err := w.feed.Upload(gctx, w.stamp, ref)
			elapsed := time.Since(start)
			if err != nil {
				return &TransportError{Op: "upload", URL: w.node.URL(), Err: err}
			}
			uploads[i] = Upload{Node: w.node, Handle: h}
			samples[i] = Sample{Kind: KindUpload, Endpoint: w.node.URL(), Duration: elapsed}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	report.Uploads = samples
	return uploads, nil
}

// readBack waits for the uploads of iteration i to propagate, downloads the
// feed from every reader and verifies each result.
func (b *Benchmark) readBack(ctx context.Context, i uint64, readers []reader, uploads []Upload, ref feed.Reference, report *Report) error {
	b.observer.Stage(i, StageSync)
	start := time.Now()
	if err := b.waiter.Wait(ctx, uploads); err != nil {
		return err
	}
	report.Sync = &Sample{Kind: KindSync, Duration: time.Since(start)}

	b.observer.Stage(i, StageDownload)
	var (
		updates = make([]*feed.Update, len(readers))
		samples = make([]Sample, len(readers))
	)

	grp, gctx := errgroup.WithContext(ctx)
	for j, r := range readers {
		j, r := j, r
		grp.Go(func() error {
			start := time.Now()
			u, err := r.feed.Download(gctx)
			elapsed := time.Since(start)
			if err != nil {
				return &TransportError{Op: "download", URL: r.node.URL(), Err: err}
			}
			updates[j] = u
			samples[j] = Sample{Kind: KindDownload, Endpoint: r.node.URL(), Duration: elapsed}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}

	for j, u := range updates {
		if err := Verify(u, ref, i, readers[j].node.URL()); err != nil {
			return err
		}
	}

	report.Downloads = samples
	return nil
}
