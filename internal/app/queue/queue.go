// Package queue provides the track-sequencing engine: history, upcoming
// tracks, loop modes and shuffle. Pure logic, no I/O.
package queue

import (
	"math/rand"
	"time"

	"github.com/trvinh/melodica/internal/domain/track"
)

// LoopMode controls what happens when a track finishes naturally.
type LoopMode int

const (
	LoopOff      LoopMode = iota // No repeat
	LoopTrack                    // Repeat the current track indefinitely
	LoopPlaylist                 // Cycle the whole queue
)

// String returns the string representation of the loop mode.
func (m LoopMode) String() string {
	switch m {
	case LoopOff:
		return "off"
	case LoopTrack:
		return "track"
	case LoopPlaylist:
		return "playlist"
	default:
		return "unknown"
	}
}

// Queue orders tracks for a single session. It is not safe for concurrent
// use: the owning session serializes every mutation under its own lock.
type Queue struct {
	current  *track.Track
	history  []track.Track // most recently played at the tail
	upcoming []track.Track

	loop    LoopMode
	shuffle bool

	rng *rand.Rand
}

// New creates an empty queue.
func New() *Queue {
	return NewWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand creates an empty queue using the given randomness source
// for shuffle selection.
func NewWithRand(rng *rand.Rand) *Queue {
	return &Queue{
		history:  make([]track.Track, 0),
		upcoming: make([]track.Track, 0),
		rng:      rng,
	}
}

// Add appends a track to the upcoming sequence.
func (q *Queue) Add(t track.Track) {
	q.upcoming = append(q.upcoming, t)
}

// Next advances to a new track, ignoring loop-on-track semantics. The
// previous current track, if any, is pushed onto history first. When the
// upcoming sequence is empty and the loop mode is playlist, history is
// drained back into upcoming in original play order before selection.
// Returns nil when the queue is exhausted.
func (q *Queue) Next() *track.Track {
	if len(q.upcoming) == 0 && q.loop == LoopPlaylist {
		q.upcoming = append(q.upcoming, q.history...)
		q.history = q.history[:0]
	}

	if q.current != nil {
		q.history = append(q.history, *q.current)
		q.current = nil
	}

	if len(q.upcoming) != 0 {
		var t track.Track
		if q.shuffle {
			i := q.rng.Intn(len(q.upcoming))
			t = q.upcoming[i]
			q.upcoming = append(q.upcoming[:i], q.upcoming[i+1:]...)
		} else {
			t = q.upcoming[0]
			q.upcoming = q.upcoming[1:]
		}
		q.current = &t
	}

	return q.current
}

// ContinueOrRepeat is the advance invoked on natural track completion.
// With loop mode set to track it returns the current track unchanged;
// otherwise it behaves exactly like Next.
func (q *Queue) ContinueOrRepeat() *track.Track {
	if q.loop == LoopTrack && q.current != nil {
		return q.current
	}
	return q.Next()
}

// Previous steps back to the most recently played track. The displaced
// current track, if any, is put at the front of upcoming so that a later
// Next resumes where playback left off. Returns nil without mutation when
// there is no history.
func (q *Queue) Previous() *track.Track {
	if len(q.history) == 0 {
		return nil
	}

	if q.current != nil {
		q.upcoming = append([]track.Track{*q.current}, q.upcoming...)
	}

	t := q.history[len(q.history)-1]
	q.history = q.history[:len(q.history)-1]
	q.current = &t
	return q.current
}

// Clear empties history and upcoming. The current track and the mode
// flags are left untouched.
func (q *Queue) Clear() {
	q.history = q.history[:0]
	q.upcoming = q.upcoming[:0]
}

// Current returns the current track, or nil when nothing is selected.
func (q *Queue) Current() *track.Track {
	return q.current
}

// Upcoming returns a copy of the upcoming sequence.
func (q *Queue) Upcoming() []track.Track {
	out := make([]track.Track, len(q.upcoming))
	copy(out, q.upcoming)
	return out
}

// History returns a copy of the played tracks, most recent at the tail.
func (q *Queue) History() []track.Track {
	out := make([]track.Track, len(q.history))
	copy(out, q.history)
	return out
}

// UpcomingLen returns the number of upcoming tracks.
func (q *Queue) UpcomingLen() int {
	return len(q.upcoming)
}

// Loop returns the active loop mode.
func (q *Queue) Loop() LoopMode {
	return q.loop
}

// SetLoop sets the loop mode.
func (q *Queue) SetLoop(m LoopMode) {
	q.loop = m
}

// Shuffle reports whether shuffle selection is enabled.
func (q *Queue) Shuffle() bool {
	return q.shuffle
}

// SetShuffle enables or disables shuffle selection. Only dequeueing is
// affected; history order is never touched.
func (q *Queue) SetShuffle(on bool) {
	q.shuffle = on
}

// ToggleShuffle flips the shuffle flag and returns the new value.
func (q *Queue) ToggleShuffle() bool {
	q.shuffle = !q.shuffle
	return q.shuffle
}
