package simnet

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/testground/feedbench/pkg/feed"
)

// DefaultMaxTags bounds the number of tags a node remembers.
const DefaultMaxTags = 4096

// tag tracks the replication of one upload. synced is updated atomically by
// the replication workers.
type tag struct {
	synced  int64
	total   int64
	uid     feed.Handle
	started time.Time
}

func (t *tag) snapshot() *feed.Tag {
	return &feed.Tag{
		UID:    t.uid,
		Synced: atomic.LoadInt64(&t.synced),
		Total:  t.total,
	}
}

func (t *tag) markSynced() {
	atomic.AddInt64(&t.synced, 1)
}

// tagStore hands out tag uids and keeps the most recent tags; older ones are
// evicted and become unknown.
type tagStore struct {
	next  uint32
	cache *lru.Cache
}

func newTagStore(size int) (*tagStore, error) {
	if size <= 0 {
		size = DefaultMaxTags
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &tagStore{cache: c}, nil
}

func (s *tagStore) create(total int64) *tag {
	t := &tag{
		uid:     feed.Handle(atomic.AddUint32(&s.next, 1)),
		total:   total,
		started: time.Now(),
	}
	s.cache.Add(t.uid, t)
	return t
}

func (s *tagStore) get(uid feed.Handle) (*tag, bool) {
	v, ok := s.cache.Get(uid)
	if !ok {
		return nil, false
	}
	return v.(*tag), true
}
