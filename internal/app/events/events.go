// Package events provides session event types and a broadcaster for
// fanning them out to subscribers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trvinh/melodica/internal/domain/track"
)

// Type represents a session event type.
type Type int

const (
	TrackStarted    Type = iota // A track started playing
	TrackEnded                  // A track finished naturally
	TrackSkipped                // A track was skipped by a user
	TrackLoadFailed             // The node failed to load a track
	QueueExhausted              // The queue ran out with no loop
	SessionClosed               // The session was torn down
)

// String returns the string representation of the event type.
func (t Type) String() string {
	switch t {
	case TrackStarted:
		return "track_started"
	case TrackEnded:
		return "track_ended"
	case TrackSkipped:
		return "track_skipped"
	case TrackLoadFailed:
		return "track_load_failed"
	case QueueExhausted:
		return "queue_exhausted"
	case SessionClosed:
		return "session_closed"
	default:
		return "unknown"
	}
}

// Event represents a single session event.
type Event struct {
	Type     Type
	TenantID string
	Track    *track.Track // Affected track (nil for some events)
}

// Stream receives published events. Send must not block indefinitely;
// slow streams are cut off by the broadcaster's send timeout.
type Stream interface {
	Send(Event) error
}

// subscription represents a subscriber's registration.
type subscription struct {
	id     string
	stream Stream
}

// Broadcaster fans session events out to all subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subs        map[string]*subscription
	sendTimeout time.Duration
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:        make(map[string]*subscription),
		sendTimeout: 500 * time.Millisecond,
	}
}

// Subscribe adds a stream and returns its subscription ID.
func (b *Broadcaster) Subscribe(stream Stream) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.subs[id] = &subscription{id: id, stream: stream}
	return id
}

// Unsubscribe removes a subscription.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish sends an event to all subscribers. Sends run in parallel and
// are bounded by the send timeout; a slow or failing stream never blocks
// a session transition.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(e)
			}()

			select {
			case <-done:
				// Send errors are dropped; a broken stream is the
				// subscriber's problem, not the session's.
			case <-ctx.Done():
			}
		}(sub)
	}
	wg.Wait()
}

// StreamFunc adapts a plain function to the Stream interface.
type StreamFunc func(Event) error

// Send implements Stream.
func (f StreamFunc) Send(e Event) error {
	return f(e)
}
