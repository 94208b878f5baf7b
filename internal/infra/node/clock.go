package node

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/trvinh/melodica/internal/domain/track"
)

// ClockNode simulates a rendering node by timing track durations on the
// wall clock and reporting a finish when the time is up. It never moves
// audio; it exists so the whole engine can run end to end without a
// real node (config checks, local development, tests).
type ClockNode struct {
	label string

	mu     sync.Mutex
	plays  map[string]*clockPlay // tenant ID -> active play
	closed bool

	events chan Event
}

type clockPlay struct {
	trackID   string
	timer     *time.Timer // nil for live tracks and while paused
	remaining time.Duration
	startedAt time.Time
	paused    bool
	live      bool
}

// NewClockNode creates a clock node with the given label.
func NewClockNode(label string) *ClockNode {
	return &ClockNode{
		label:  label,
		plays:  make(map[string]*clockPlay),
		events: make(chan Event, 16),
	}
}

// ClockDialer is a Dialer producing clock nodes.
func ClockDialer(ctx context.Context, cfg Config) (AudioNode, error) {
	return NewClockNode(cfg.Label), nil
}

// Label implements AudioNode.
func (n *ClockNode) Label() string { return n.label }

// Play schedules a finish for the track's duration, replacing any
// in-flight play for the tenant. Live tracks run until stopped.
func (n *ClockNode) Play(ctx context.Context, tenantID string, t track.Track, replace bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return errors.New("node is closed")
	}

	if cur, ok := n.plays[tenantID]; ok {
		if !replace {
			return errors.Newf("tenant %s already playing", tenantID)
		}
		cur.cancel()
	}

	p := &clockPlay{
		trackID:   t.ID,
		remaining: t.Duration,
		startedAt: time.Now(),
		live:      t.Live,
	}
	if !t.Live {
		p.timer = time.AfterFunc(t.Duration, func() {
			n.finish(tenantID, t.ID)
		})
	}
	n.plays[tenantID] = p

	zlog.Debug().Msgf("clock node %s: playing %s for tenant %s (%v)", n.label, t.ID, tenantID, t.Duration)
	return nil
}

// Pause implements AudioNode.
func (n *ClockNode) Pause(ctx context.Context, tenantID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	p, ok := n.plays[tenantID]
	if !ok || p.paused {
		return nil
	}
	p.paused = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
		p.remaining -= time.Since(p.startedAt)
		if p.remaining < 0 {
			p.remaining = 0
		}
	}
	return nil
}

// Resume implements AudioNode.
func (n *ClockNode) Resume(ctx context.Context, tenantID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	p, ok := n.plays[tenantID]
	if !ok || !p.paused {
		return nil
	}
	p.paused = false
	p.startedAt = time.Now()
	if !p.live {
		trackID := p.trackID
		p.timer = time.AfterFunc(p.remaining, func() {
			n.finish(tenantID, trackID)
		})
	}
	return nil
}

// Stop implements AudioNode. No finish event is emitted.
func (n *ClockNode) Stop(ctx context.Context, tenantID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if p, ok := n.plays[tenantID]; ok {
		p.cancel()
		delete(n.plays, tenantID)
	}
	return nil
}

// Disconnect implements AudioNode.
func (n *ClockNode) Disconnect(ctx context.Context, tenantID string) error {
	return n.Stop(ctx, tenantID)
}

// Events implements AudioNode.
func (n *ClockNode) Events() <-chan Event {
	return n.events
}

// Close cancels all plays and closes the event channel.
func (n *ClockNode) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	for tenantID, p := range n.plays {
		p.cancel()
		delete(n.plays, tenantID)
	}
	close(n.events)
	return nil
}

// finish emits a track-finished event if the play is still current.
func (n *ClockNode) finish(tenantID, trackID string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	p, ok := n.plays[tenantID]
	if !ok || p.trackID != trackID {
		// Replaced or stopped while the timer was firing.
		n.mu.Unlock()
		return
	}
	delete(n.plays, tenantID)

	// Sent under the lock so Close cannot close the channel mid-send;
	// the buffered channel plus default keeps this non-blocking.
	select {
	case n.events <- Event{Type: EventTrackFinished, TenantID: tenantID, TrackID: trackID}:
	default:
		zlog.Warn().Msgf("clock node %s: event dropped for tenant %s", n.label, tenantID)
	}
	n.mu.Unlock()
}

func (p *clockPlay) cancel() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
