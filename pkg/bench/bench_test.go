package bench

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/testground/feedbench/pkg/feed"
)

const zeroStamp = "0000000000000000000000000000000000000000000000000000000000000000"

// fakeNetwork is a trivially consistent network: every upload is visible to
// every reader as soon as it returns.
type fakeNetwork struct {
	sync.Mutex

	updates   map[uint64]feed.Reference
	latest    int64
	events    []string
	dials     int
	failWrite map[string]error
	failRead  map[string]error
	// corrupt makes readers at the given url report a wrong reference.
	corrupt map[string]bool

	// uploadGate and downloadGate, when set, hold every call until all the
	// calls of a fan-out have started.
	uploadGate   *barrier
	downloadGate *barrier
}

// barrier releases its callers once parties of them are waiting, then
// resets for the next round.
type barrier struct {
	mu      sync.Mutex
	parties int
	waiting int
	release chan struct{}
}

func newBarrier(parties int) *barrier {
	return &barrier{parties: parties, release: make(chan struct{})}
}

func (b *barrier) await() error {
	b.mu.Lock()
	b.waiting++
	ch := b.release
	if b.waiting == b.parties {
		close(ch)
		b.waiting = 0
		b.release = make(chan struct{})
	}
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("only part of %d calls started together", b.parties)
	}
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		updates:   make(map[uint64]feed.Reference),
		latest:    -1,
		failWrite: make(map[string]error),
		failRead:  make(map[string]error),
		corrupt:   make(map[string]bool),
	}
}

func (n *fakeNetwork) record(format string, args ...interface{}) {
	n.Lock()
	defer n.Unlock()
	n.events = append(n.events, fmt.Sprintf(format, args...))
}

func (n *fakeNetwork) dial(url string) (feed.Node, error) {
	n.Lock()
	defer n.Unlock()
	n.dials++
	return &fakeNode{net: n, url: url}, nil
}

type fakeNode struct {
	net *fakeNetwork
	url string
}

func (f *fakeNode) URL() string { return f.url }

func (f *fakeNode) MakeFeedWriter(typ feed.Type, topic feed.Topic, id feed.Identity) (feed.Writer, error) {
	return &fakeWriter{node: f}, nil
}

func (f *fakeNode) MakeFeedReader(typ feed.Type, topic feed.Topic, address string) (feed.Reader, error) {
	return &fakeReader{node: f}, nil
}

func (f *fakeNode) RetrieveTag(_ context.Context, h feed.Handle) (*feed.Tag, error) {
	f.net.record("tag %s", f.url)
	return &feed.Tag{UID: h, Synced: 1, Total: 1}, nil
}

type fakeWriter struct {
	node *fakeNode
	next uint64
}

func (w *fakeWriter) Upload(_ context.Context, stamp string, ref feed.Reference) (feed.Handle, error) {
	n := w.node.net
	if n.uploadGate != nil {
		if err := n.uploadGate.await(); err != nil {
			return 0, err
		}
	}
	if err := n.failWrite[w.node.url]; err != nil {
		return 0, err
	}
	n.record("upload %s %s", w.node.url, ref.Hex()[60:])

	n.Lock()
	defer n.Unlock()
	n.updates[w.next] = ref
	if int64(w.next) > n.latest {
		n.latest = int64(w.next)
	}
	w.next++
	return feed.Handle(w.next), nil
}

type fakeReader struct {
	node *fakeNode
}

func (r *fakeReader) Download(context.Context) (*feed.Update, error) {
	n := r.node.net
	if n.downloadGate != nil {
		if err := n.downloadGate.await(); err != nil {
			return nil, err
		}
	}
	n.record("download %s", r.node.url)
	if err := n.failRead[r.node.url]; err != nil {
		return nil, err
	}

	n.Lock()
	defer n.Unlock()
	if n.latest < 0 {
		return nil, errors.New("not found")
	}
	ref := n.updates[uint64(n.latest)]
	if n.corrupt[r.node.url] {
		ref[0] ^= 0xff
	}
	return &feed.Update{Index: feed.EncodeIndex(uint64(n.latest)), Reference: ref.Hex()}, nil
}

// recordingWaiter records the uploads it was asked to wait for.
type recordingWaiter struct {
	net   *fakeNetwork
	calls [][]Upload
}

func (w *recordingWaiter) Wait(_ context.Context, uploads []Upload) error {
	w.net.record("wait")
	w.calls = append(w.calls, uploads)
	return nil
}

type recordingObserver struct {
	stages  []string
	reports []*Report
}

func (o *recordingObserver) Stage(i uint64, s Stage) {
	o.stages = append(o.stages, fmt.Sprintf("%d:%s", i, s))
}

func (o *recordingObserver) Report(r *Report) {
	o.reports = append(o.reports, r)
}

func testConfig(writers, stamps, readers int) Config {
	cfg := Config{
		Updates:           3,
		TopicSeed:         10,
		DownloadIteration: 1,
		FeedType:          feed.TypeSequence,
		Identity:          feed.TestIdentity,
	}
	for i := 0; i < writers; i++ {
		cfg.Writers = append(cfg.Writers, fmt.Sprintf("http://writer-%d", i))
	}
	for i := 0; i < stamps; i++ {
		cfg.Stamps = append(cfg.Stamps, zeroStamp)
	}
	for i := 0; i < readers; i++ {
		cfg.Readers = append(cfg.Readers, fmt.Sprintf("http://reader-%d", i))
	}
	return cfg
}

func refWithLastByte(b byte) feed.Reference {
	var r feed.Reference
	r[feed.ReferenceLength-1] = b
	return r
}

func TestRunEndToEnd(t *testing.T) {
	var (
		net      = newFakeNetwork()
		waiter   = &recordingWaiter{net: net}
		observer = &recordingObserver{}
	)

	b, err := New(testConfig(2, 2, 1), net.dial, WithWaiter(waiter), WithObserver(observer))
	require.NoError(t, err)

	reports, err := b.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 3)
	require.Equal(t, reports, observer.reports)
	require.Len(t, waiter.calls, 3)

	for i, r := range reports {
		require.Equal(t, uint64(i), r.Index)
		require.Equal(t, refWithLastByte(byte(i)), r.Reference)
		require.Len(t, r.Uploads, 2)
		require.NotNil(t, r.Sync)
		require.True(t, r.Verified())
		require.Len(t, r.Downloads, 1)
		require.Len(t, waiter.calls[i], 2)

		for _, s := range r.Uploads {
			require.Equal(t, KindUpload, s.Kind)
		}
		require.Equal(t, "http://writer-0", r.Uploads[0].Endpoint)
		require.Equal(t, "http://writer-1", r.Uploads[1].Endpoint)
		require.Equal(t, "http://reader-0", r.Downloads[0].Endpoint)
	}

	// strict phase ordering within and across iterations.
	var phases []string
	for _, e := range net.events {
		phases = append(phases, strings.Fields(e)[0])
	}
	require.Equal(t, []string{
		"upload", "upload", "wait", "download",
		"upload", "upload", "wait", "download",
		"upload", "upload", "wait", "download",
	}, phases)

	require.Equal(t, []string{
		"0:upload", "0:sync", "0:download",
		"1:upload", "1:sync", "1:download",
		"2:upload", "2:sync", "2:download",
	}, observer.stages)
}

func TestRunDownloadStride(t *testing.T) {
	net := newFakeNetwork()
	waiter := &recordingWaiter{net: net}

	cfg := testConfig(1, 1, 2)
	cfg.Updates = 5
	cfg.DownloadIteration = 2

	b, err := New(cfg, net.dial, WithWaiter(waiter))
	require.NoError(t, err)

	reports, err := b.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 5)

	var verified []uint64
	for _, r := range reports {
		if r.Verified() {
			verified = append(verified, r.Index)
			require.Len(t, r.Downloads, 2)
		} else {
			require.Nil(t, r.Downloads)
		}
		// the reference advances on every iteration, read back or not.
		require.Equal(t, refWithLastByte(byte(r.Index)), r.Reference)
	}
	require.Equal(t, []uint64{1, 3}, verified)
	require.Len(t, waiter.calls, 2)
}

func TestRunDefaultWaiterUsesTags(t *testing.T) {
	net := newFakeNetwork()

	cfg := testConfig(2, 2, 1)
	cfg.Updates = 1

	b, err := New(cfg, net.dial)
	require.NoError(t, err)

	detector := NewSyncDetector()
	detector.Sleep = (&recordingSleep{}).Sleep
	WithWaiter(&SyncWaiter{Detector: detector})(b)

	_, err = b.Run(context.Background())
	require.NoError(t, err)

	var tags int
	for _, e := range net.events {
		if strings.HasPrefix(e, "tag ") {
			tags++
		}
	}
	require.Equal(t, 2, tags)
}

func TestRunStampCountMismatch(t *testing.T) {
	net := newFakeNetwork()

	_, err := New(testConfig(2, 1, 1), net.dial)

	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	require.Contains(t, err.Error(), "stamps")
	require.Zero(t, net.dials)
	require.Empty(t, net.events)
}

func TestRunStrideExceedsUpdates(t *testing.T) {
	net := newFakeNetwork()
	cfg := testConfig(1, 1, 1)
	cfg.Updates = 2
	cfg.DownloadIteration = 5

	_, err := New(cfg, net.dial)

	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	require.Contains(t, err.Error(), "download iteration 5")
	require.Zero(t, net.dials)
}

func TestConfigValidation(t *testing.T) {
	cases := map[string]func(*Config){
		"no writers":       func(c *Config) { c.Writers, c.Stamps = nil, nil },
		"bad url":          func(c *Config) { c.Readers = []string{"not a url"} },
		"bad stamp":        func(c *Config) { c.Stamps = []string{"xyz"} },
		"zero updates":     func(c *Config) { c.Updates = 0 },
		"zero stride":      func(c *Config) { c.DownloadIteration = 0 },
		"epoch feed":       func(c *Config) { c.FeedType = feed.TypeEpoch },
		"missing identity": func(c *Config) { c.Identity = feed.Identity{} },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(1, 1, 1)
			mutate(&cfg)

			var cerr *ConfigurationError
			require.True(t, errors.As(cfg.Validate(), &cerr))
		})
	}

	cfg := testConfig(3, 3, 2)
	require.NoError(t, cfg.Validate())
}

func TestRunWithoutReaders(t *testing.T) {
	var (
		net    = newFakeNetwork()
		waiter = &recordingWaiter{net: net}
	)

	b, err := New(testConfig(1, 1, 0), net.dial, WithWaiter(waiter))
	require.NoError(t, err)

	reports, err := b.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 3)
	require.Len(t, waiter.calls, 3)
	for _, r := range reports {
		require.NotNil(t, r.Sync)
		require.Empty(t, r.Downloads)
	}
	for _, e := range net.events {
		require.False(t, strings.HasPrefix(e, "download"))
	}
}

func TestRunAbortsOnUploadFailure(t *testing.T) {
	net := newFakeNetwork()
	boom := errors.New("payment required")
	net.failWrite["http://writer-1"] = boom

	b, err := New(testConfig(2, 2, 1), net.dial, WithWaiter(&recordingWaiter{net: net}))
	require.NoError(t, err)

	reports, err := b.Run(context.Background())
	require.ErrorIs(t, err, boom)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	require.Equal(t, "upload", terr.Op)
	require.Equal(t, "http://writer-1", terr.URL)
	require.Empty(t, reports)

	for _, e := range net.events {
		require.False(t, strings.HasPrefix(e, "download"), "no download after a failed upload")
		require.NotEqual(t, "wait", e)
	}
}

func TestRunFansOutConcurrently(t *testing.T) {
	net := newFakeNetwork()
	net.uploadGate = newBarrier(3)
	net.downloadGate = newBarrier(4)

	b, err := New(testConfig(3, 3, 4), net.dial, WithWaiter(&recordingWaiter{net: net}))
	require.NoError(t, err)

	reports, err := b.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for _, r := range reports {
		require.Len(t, r.Uploads, 3)
		require.Len(t, r.Downloads, 4)
	}
}

func TestRunAbortsOnDownloadFailure(t *testing.T) {
	var (
		net      = newFakeNetwork()
		boom     = errors.New("connection reset")
		observer = &recordingObserver{}
	)
	net.failRead["http://reader-1"] = boom

	b, err := New(testConfig(1, 1, 2), net.dial, WithWaiter(&recordingWaiter{net: net}), WithObserver(observer))
	require.NoError(t, err)

	reports, err := b.Run(context.Background())
	require.ErrorIs(t, err, boom)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	require.Equal(t, "download", terr.Op)
	require.Equal(t, "http://reader-1", terr.URL)
	require.Empty(t, reports)
	require.Empty(t, observer.reports)
	require.Equal(t, []string{"0:upload", "0:sync", "0:download"}, observer.stages)
}

func TestRunAbortsOnVerificationFailure(t *testing.T) {
	net := newFakeNetwork()
	net.corrupt["http://reader-1"] = true

	b, err := New(testConfig(1, 1, 2), net.dial, WithWaiter(&recordingWaiter{net: net}))
	require.NoError(t, err)

	reports, err := b.Run(context.Background())

	var verr *VerificationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "http://reader-1", verr.URL)
	require.Equal(t, feed.EncodeIndex(0), verr.ExpectedIndex)
	require.Empty(t, reports)
}

func TestRunAbortsOnSyncTimeout(t *testing.T) {
	net := newFakeNetwork()
	timeout := &SyncTimeoutError{URL: "http://writer-0", Handle: 1, Trials: DefaultPollTrials}

	b, err := New(testConfig(1, 1, 1), net.dial, WithWaiter(waiterFunc(func(context.Context, []Upload) error {
		return timeout
	})))
	require.NoError(t, err)

	_, err = b.Run(context.Background())
	require.ErrorIs(t, err, timeout)
}

type waiterFunc func(context.Context, []Upload) error

func (f waiterFunc) Wait(ctx context.Context, u []Upload) error { return f(ctx, u) }

func TestDelayWaiter(t *testing.T) {
	sleep := &recordingSleep{}
	w := &DelayWaiter{Delay: DefaultSyncDelay, Sleep: sleep.Sleep}

	require.NoError(t, w.Wait(context.Background(), nil))
	require.Equal(t, []time.Duration{DefaultSyncDelay}, sleep.slept)
}

func TestZeroSyncWaiterUsesDefaultDetector(t *testing.T) {
	net := newFakeNetwork()
	node, err := net.dial("http://writer-0")
	require.NoError(t, err)

	var w SyncWaiter
	require.NoError(t, w.Wait(context.Background(), []Upload{{Node: node, Handle: 1}}))
	require.Equal(t, []string{"tag http://writer-0"}, net.events)
}

func TestTopicIsDeterministic(t *testing.T) {
	net := newFakeNetwork()
	a, err := New(testConfig(1, 1, 1), net.dial)
	require.NoError(t, err)
	b, err := New(testConfig(1, 1, 1), net.dial)
	require.NoError(t, err)

	require.Equal(t, a.Topic(), b.Topic())
	require.NotEqual(t, a.ID(), b.ID())
}

func TestReportString(t *testing.T) {
	r := &Report{
		Uploads:   []Sample{{Kind: KindUpload, Endpoint: "http://w", Duration: 1500 * time.Millisecond}},
		Sync:      &Sample{Kind: KindSync, Duration: 40 * time.Second},
		Downloads: []Sample{{Kind: KindDownload, Endpoint: "http://r", Duration: 250 * time.Millisecond}},
	}

	require.Equal(t,
		"\n\tUpload Time on \"http://w\": 1.5s"+
			"\n\tSyncing time: 40s"+
			"\n\tFetch Time on \"http://r\": 0.25s",
		r.String())
}
