// Package simnet simulates a storage network for feed benchmarks. Every node
// keeps the feed updates it knows about in its own leveldb store and pushes
// the updates uploaded to it to its peers after a configurable delay,
// tracking the progress in a replication tag.
package simnet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/testground/feedbench/pkg/feed"
	"github.com/testground/feedbench/pkg/logging"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidStamp = errors.New("invalid postage stamp")
	ErrUnknownTag   = errors.New("unknown tag")
	ErrClosed       = errors.New("node closed")
)

// Options configures the replication behaviour of nodes.
type Options struct {
	// ReplicationDelay is how long a replica takes to reach a peer.
	ReplicationDelay time.Duration
	// ReplicationJitter adds a uniformly distributed [0, jitter) to every
	// replication delay.
	ReplicationJitter time.Duration
	// MaxTags bounds the tags a node remembers; DefaultMaxTags if zero.
	MaxTags int
	// Seed seeds the jitter source.
	Seed int64
}

// Record is a stored feed update.
type Record struct {
	Owner     string `json:"owner"`
	Topic     string `json:"topic"`
	Index     uint64 `json:"index"`
	Reference string `json:"reference"`
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
}

// Peer receives replicas from a node.
type Peer interface {
	Name() string
	Replicate(ctx context.Context, rec *Record) error
}

// TagStatus is the replication status of an upload.
type TagStatus struct {
	feed.Tag
	StartedAt time.Time
}

// Node is a simulated storage node.
type Node struct {
	name string
	opts Options
	log  *zap.SugaredLogger

	db   *leveldb.DB
	tags *tagStore

	// putLk serialises next index resolution of local uploads.
	putLk sync.Mutex

	lk     sync.RWMutex
	links  []*link
	closed bool

	rndLk sync.Mutex
	rnd   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// link is the replication queue towards one peer. tail is closed once the
// latest replica pushed over the link was delivered; it is guarded by putLk.
type link struct {
	peer Peer
	tail chan struct{}
}

var (
	_ Peer      = (*Node)(nil)
	_ feed.Node = (*Node)(nil)
)

// NewNode creates a node with an in-memory store.
func NewNode(name string, opts Options) (*Node, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	tags, err := newTagStore(opts.MaxTags)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		name:   name,
		opts:   opts,
		log:    logging.S().With("node", name),
		db:     db,
		tags:   tags,
		rnd:    rand.New(rand.NewSource(opts.Seed)),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Name returns the name the node was created with.
func (n *Node) Name() string {
	return n.name
}

// AddPeer registers p as a replication target of future uploads.
func (n *Node) AddPeer(p Peer) {
	n.lk.Lock()
	defer n.lk.Unlock()
	n.links = append(n.links, &link{peer: p})
}

// Peers returns the names of the node's peers.
func (n *Node) Peers() []string {
	n.lk.RLock()
	defer n.lk.RUnlock()

	names := make([]string, 0, len(n.links))
	for _, l := range n.links {
		names = append(names, l.peer.Name())
	}
	return names
}

// Put stores ref as the next update of the feed (owner, topic) and starts
// replicating it to every peer. The returned handle tracks the replication.
func (n *Node) Put(ctx context.Context, owner string, topic feed.Topic, stamp string, ref feed.Reference) (*Record, feed.Handle, error) {
	if err := validateStamp(stamp); err != nil {
		return nil, 0, err
	}
	if n.isClosed() {
		return nil, 0, ErrClosed
	}

	n.putLk.Lock()
	defer n.putLk.Unlock()

	var index uint64
	switch latest, err := n.Lookup(ctx, owner, topic); {
	case err == nil:
		index = latest.Index + 1
	case errors.Is(err, ErrNotFound):
	default:
		return nil, 0, err
	}

	addr, err := feed.UpdateAddress(owner, topic, index)
	if err != nil {
		return nil, 0, err
	}
	rec := &Record{
		Owner:     owner,
		Topic:     topic.Hex(),
		Index:     index,
		Reference: ref.Hex(),
		Address:   addr.Hex(),
		Timestamp: time.Now().Unix(),
	}
	if err := n.store(rec); err != nil {
		return nil, 0, err
	}

	n.lk.RLock()
	defer n.lk.RUnlock()
	if n.closed {
		return nil, 0, ErrClosed
	}

	t := n.tags.create(int64(len(n.links)))
	for _, l := range n.links {
		prev, done := l.tail, make(chan struct{})
		l.tail = done

		n.wg.Add(1)
		go n.push(l.peer, rec, t, prev, done)
	}

	n.log.Debugw("stored feed update", "owner", owner, "topic", rec.Topic, "index", index, "tag", t.uid, "peers", len(n.links))
	return rec, t.uid, nil
}

// push delivers rec to p after the replication delay, but never before the
// previous replica of the link, closed through prev, was delivered. Jitter
// therefore delays replicas without reordering them.
func (n *Node) push(p Peer, rec *Record, t *tag, prev <-chan struct{}, done chan<- struct{}) {
	defer n.wg.Done()
	defer close(done)

	select {
	case <-time.After(n.replicationDelay()):
	case <-n.ctx.Done():
		return
	}
	if prev != nil {
		select {
		case <-prev:
		case <-n.ctx.Done():
			return
		}
	}

	if err := p.Replicate(n.ctx, rec); err != nil {
		n.log.Warnw("replication failed", "peer", p.Name(), "index", rec.Index, "err", err)
		return
	}
	t.markSynced()
}

func (n *Node) replicationDelay() time.Duration {
	d := n.opts.ReplicationDelay
	if j := n.opts.ReplicationJitter; j > 0 {
		n.rndLk.Lock()
		d += time.Duration(n.rnd.Int63n(int64(j)))
		n.rndLk.Unlock()
	}
	return d
}

// Replicate stores a replica received from a peer. Replicas of updates the
// node already has are ignored.
func (n *Node) Replicate(_ context.Context, rec *Record) error {
	if n.isClosed() {
		return ErrClosed
	}

	key, err := recordKey(rec.Owner, rec.Topic, rec.Index)
	if err != nil {
		return err
	}
	switch ok, err := n.db.Has(key, nil); {
	case err != nil:
		return err
	case ok:
		return nil
	}
	return n.store(rec)
}

// Lookup returns the latest update of the feed (owner, topic): the last of
// the contiguous run of indexes starting at zero.
func (n *Node) Lookup(_ context.Context, owner string, topic feed.Topic) (*Record, error) {
	prefix, err := feedPrefix(owner, topic.Hex())
	if err != nil {
		return nil, err
	}

	iter := n.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var latest *Record
	for expected := uint64(0); iter.Next(); expected++ {
		rec := new(Record)
		if err := json.Unmarshal(iter.Value(), rec); err != nil {
			return nil, fmt.Errorf("corrupt record %q: %w", iter.Key(), err)
		}
		if rec.Index != expected {
			break
		}
		latest = rec
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// Tag returns the replication status of an upload to this node.
func (n *Node) Tag(uid feed.Handle) (*TagStatus, error) {
	t, ok := n.tags.get(uid)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uid)
	}
	return &TagStatus{Tag: *t.snapshot(), StartedAt: t.started}, nil
}

// Close stops replication and releases the store.
func (n *Node) Close() error {
	n.lk.Lock()
	if n.closed {
		n.lk.Unlock()
		return nil
	}
	n.closed = true
	n.lk.Unlock()

	n.cancel()
	n.wg.Wait()
	return n.db.Close()
}

func (n *Node) isClosed() bool {
	n.lk.RLock()
	defer n.lk.RUnlock()
	return n.closed
}

func (n *Node) store(rec *Record) error {
	key, err := recordKey(rec.Owner, rec.Topic, rec.Index)
	if err != nil {
		return err
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return n.db.Put(key, val, nil)
}

func validateStamp(stamp string) error {
	b, err := hex.DecodeString(stamp)
	if err != nil || len(b) != 32 {
		return fmt.Errorf("%w: %q", ErrInvalidStamp, stamp)
	}
	return nil
}

// Records are keyed feed/<owner>/<topic>/<index>, the index in its fixed
// width encoding so keys of a feed sort by index.
func feedPrefix(owner, topic string) ([]byte, error) {
	if _, err := hex.DecodeString(owner); err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	if _, err := hex.DecodeString(topic); err != nil {
		return nil, fmt.Errorf("topic: %w", err)
	}
	return []byte("feed/" + owner + "/" + topic + "/"), nil
}

func recordKey(owner, topic string, index uint64) ([]byte, error) {
	prefix, err := feedPrefix(owner, topic)
	if err != nil {
		return nil, err
	}
	return append(prefix, feed.EncodeIndex(index)...), nil
}
