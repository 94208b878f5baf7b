package queue

import (
	"context"

	"github.com/trvinh/melodica/internal/domain/track"
)

// DuplicateTrackFilter rejects a track that is already the current track
// or already waiting in the upcoming sequence. Played history does not
// count: requesting a track again after it finished is allowed.
type DuplicateTrackFilter struct{}

func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already playing or queued"
}

func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

func (f *DuplicateTrackFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *DuplicateTrackFilter) Check(ctx context.Context, t track.Track, q *Queue) Result {
	if cur := q.Current(); cur != nil && cur.Equal(t) {
		return Reject("duplicate_track")
	}
	for _, u := range q.Upcoming() {
		if u.Equal(t) {
			return Reject("duplicate_track")
		}
	}
	return Accept()
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return &DuplicateTrackFilter{}
	})
}
