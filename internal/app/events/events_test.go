package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trvinh/melodica/internal/domain/track"
)

func TestBroadcaster_PublishFanout(t *testing.T) {
	b := NewBroadcaster()

	var mu sync.Mutex
	var got []Event
	for i := 0; i < 3; i++ {
		b.Subscribe(StreamFunc(func(e Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, e)
			return nil
		}))
	}

	b.Publish(Event{Type: TrackStarted, TenantID: "g1", Track: &track.Track{ID: "t1"}})

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 3)
	for _, e := range got {
		assert.Equal(t, TrackStarted, e.Type)
		assert.Equal(t, "g1", e.TenantID)
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()

	var mu sync.Mutex
	count := 0
	id := b.Subscribe(StreamFunc(func(e Event) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	}))

	b.Publish(Event{Type: QueueExhausted, TenantID: "g1"})
	b.Unsubscribe(id)
	b.Publish(Event{Type: QueueExhausted, TenantID: "g1"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestBroadcaster_SlowStreamDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	b.sendTimeout = 50 * time.Millisecond

	b.Subscribe(StreamFunc(func(e Event) error {
		time.Sleep(time.Second)
		return nil
	}))

	start := time.Now()
	b.Publish(Event{Type: SessionClosed, TenantID: "g1"})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestType_String(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TrackStarted, "track_started"},
		{TrackEnded, "track_ended"},
		{TrackSkipped, "track_skipped"},
		{TrackLoadFailed, "track_load_failed"},
		{QueueExhausted, "queue_exhausted"},
		{SessionClosed, "session_closed"},
		{Type(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.typ.String())
	}
}
