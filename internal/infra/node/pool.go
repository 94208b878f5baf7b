package node

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrNoNodes is returned when a lease is requested and no node is
// connected.
var ErrNoNodes = errors.New("no audio nodes available")

// Pool owns the process's audio-node connections and hands out leases
// to sessions. Node events from every connected node are fanned into a
// single channel.
type Pool struct {
	mu     sync.Mutex
	dialer Dialer
	nodes  []AudioNode
	leases map[string]int // node label -> active lease count
	closed bool

	events  chan Event
	forward sync.WaitGroup
}

// NewPool creates an empty pool using the given dialer.
func NewPool(dialer Dialer) *Pool {
	return &Pool{
		dialer: dialer,
		leases: make(map[string]int),
		events: make(chan Event, 16),
	}
}

// Connect dials every configured node. A node that fails to dial is
// logged and skipped; Connect succeeds as long as at least one node
// comes up.
func (p *Pool) Connect(ctx context.Context, cfgs []Config) error {
	for _, cfg := range cfgs {
		n, err := p.dialer(ctx, cfg)
		if err != nil {
			zlog.Error().Err(err).Msgf("node pool: failed to connect to %s (%s:%d)", cfg.Label, cfg.Host, cfg.Port)
			continue
		}

		p.mu.Lock()
		p.nodes = append(p.nodes, n)
		p.mu.Unlock()

		p.forward.Add(1)
		go func(n AudioNode) {
			defer p.forward.Done()
			for e := range n.Events() {
				p.events <- e
			}
		}(n)

		zlog.Info().Msgf("node pool: connected to %s", cfg.Label)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.nodes) == 0 {
		return errors.New("no audio nodes could be connected")
	}
	return nil
}

// Lease returns the node with the fewest active leases.
func (p *Pool) Lease() (AudioNode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.nodes) == 0 {
		return nil, ErrNoNodes
	}

	best := p.nodes[0]
	for _, n := range p.nodes[1:] {
		if p.leases[n.Label()] < p.leases[best.Label()] {
			best = n
		}
	}
	p.leases[best.Label()]++
	return best, nil
}

// Release returns a lease obtained from Lease.
func (p *Pool) Release(n AudioNode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.leases[n.Label()] > 0 {
		p.leases[n.Label()]--
	}
}

// Events delivers node reports from every connected node. The channel
// closes after Close.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Close shuts down every node and closes the event channel.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	nodes := p.nodes
	p.mu.Unlock()

	for _, n := range nodes {
		if err := n.Close(); err != nil {
			zlog.Warn().Err(err).Msgf("node pool: close of %s failed", n.Label())
		}
	}
	p.forward.Wait()
	close(p.events)
}
