package simnet

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/testground/feedbench/pkg/feed"
)

// Network is a fully meshed set of simulated nodes.
type Network struct {
	opts Options

	lk    sync.Mutex
	nodes map[string]*Node
	order []*Node
}

// NewNetwork returns an empty network whose nodes share opts.
func NewNetwork(opts Options) *Network {
	return &Network{
		opts:  opts,
		nodes: make(map[string]*Node),
	}
}

// Node returns the node called name, creating it and peering it with every
// existing node if needed.
func (n *Network) Node(name string) (*Node, error) {
	n.lk.Lock()
	defer n.lk.Unlock()

	if node, ok := n.nodes[name]; ok {
		return node, nil
	}

	opts := n.opts
	opts.Seed += int64(len(n.order))
	node, err := NewNode(name, opts)
	if err != nil {
		return nil, err
	}
	for _, other := range n.order {
		other.AddPeer(node)
		node.AddPeer(other)
	}
	n.nodes[name] = node
	n.order = append(n.order, node)
	return node, nil
}

// Dial resolves url to a node of the network; it has the signature of
// bench.Dialer.
func (n *Network) Dial(url string) (feed.Node, error) {
	return n.Node(url)
}

// Close closes every node of the network.
func (n *Network) Close() error {
	n.lk.Lock()
	defer n.lk.Unlock()

	var merr *multierror.Error
	for _, node := range n.order {
		merr = multierror.Append(merr, node.Close())
	}
	return merr.ErrorOrNil()
}
