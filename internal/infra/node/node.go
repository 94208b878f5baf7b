// Package node provides the audio-node boundary: the interface a
// rendering node must satisfy, a pool of connected nodes, and a
// clock-driven node for dry runs. Actual audio transport lives behind
// the Dialer, outside this module.
package node

import (
	"context"

	"github.com/trvinh/melodica/internal/domain/track"
)

// EventType represents a node-reported playback event.
type EventType int

const (
	EventTrackFinished   EventType = iota // The current track played to its end
	EventTrackLoadFailed                  // The node could not load a track
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventTrackFinished:
		return "track_finished"
	case EventTrackLoadFailed:
		return "track_load_failed"
	default:
		return "unknown"
	}
}

// Event is an asynchronous node report, routed to the owning session by
// tenant ID.
type Event struct {
	Type     EventType
	TenantID string
	TrackID  string
}

// AudioNode is one rendering node. A node serves many tenants at once;
// every playback call carries the tenant it applies to.
type AudioNode interface {
	Label() string
	Play(ctx context.Context, tenantID string, t track.Track, replace bool) error
	Pause(ctx context.Context, tenantID string) error
	Resume(ctx context.Context, tenantID string) error
	Stop(ctx context.Context, tenantID string) error
	Disconnect(ctx context.Context, tenantID string) error
	// Events delivers node reports. The channel closes when the node
	// shuts down.
	Events() <-chan Event
	Close() error
}

// Config identifies one node endpoint.
type Config struct {
	Label    string
	Host     string
	Port     int
	Password string
}

// Dialer connects to a node endpoint. Injected so the pool stays
// independent of any particular transport.
type Dialer func(ctx context.Context, cfg Config) (AudioNode, error)
