package simnet

import (
	"context"
	"fmt"

	"github.com/testground/feedbench/pkg/feed"
)

// URL returns the node name; simulated nodes are addressed by name.
func (n *Node) URL() string {
	return n.name
}

func (n *Node) MakeFeedWriter(typ feed.Type, topic feed.Topic, id feed.Identity) (feed.Writer, error) {
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	return &writer{node: n, topic: topic, owner: id.Address}, nil
}

func (n *Node) MakeFeedReader(typ feed.Type, topic feed.Topic, address string) (feed.Reader, error) {
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	return &reader{node: n, topic: topic, owner: address}, nil
}

func (n *Node) RetrieveTag(_ context.Context, h feed.Handle) (*feed.Tag, error) {
	st, err := n.Tag(h)
	if err != nil {
		return nil, err
	}
	return &st.Tag, nil
}

type writer struct {
	node  *Node
	topic feed.Topic
	owner string
}

func (w *writer) Upload(ctx context.Context, stamp string, ref feed.Reference) (feed.Handle, error) {
	_, h, err := w.node.Put(ctx, w.owner, w.topic, stamp, ref)
	return h, err
}

type reader struct {
	node  *Node
	topic feed.Topic
	owner string
}

func (r *reader) Download(ctx context.Context) (*feed.Update, error) {
	rec, err := r.node.Lookup(ctx, r.owner, r.topic)
	if err != nil {
		return nil, fmt.Errorf("feed lookup on %s: %w", r.node.name, err)
	}
	return &feed.Update{Index: feed.EncodeIndex(rec.Index), Reference: rec.Reference}, nil
}
