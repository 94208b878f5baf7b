package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrack_Equal(t *testing.T) {
	tests := []struct {
		name     string
		a        Track
		b        Track
		expected bool
	}{
		{
			name:     "same id different metadata",
			a:        Track{ID: "t1", Title: "Original"},
			b:        Track{ID: "t1", Title: "Remaster"},
			expected: true,
		},
		{
			name:     "different ids",
			a:        Track{ID: "t1"},
			b:        Track{ID: "t2"},
			expected: false,
		},
		{
			name:     "both empty",
			a:        Track{},
			b:        Track{},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Equal(tt.b))
		})
	}
}

func TestPlaylistResult_TotalDuration(t *testing.T) {
	tests := []struct {
		name     string
		tracks   []Track
		expected time.Duration
	}{
		{
			name:     "empty playlist",
			tracks:   []Track{},
			expected: 0,
		},
		{
			name: "sums non-live tracks",
			tracks: []Track{
				{ID: "t1", Duration: 2 * time.Minute},
				{ID: "t2", Duration: 3*time.Minute + 30*time.Second},
			},
			expected: 5*time.Minute + 30*time.Second,
		},
		{
			name: "live tracks are skipped",
			tracks: []Track{
				{ID: "t1", Duration: 2 * time.Minute},
				{ID: "t2", Live: true, Duration: 99 * time.Hour},
			},
			expected: 2 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PlaylistResult{Tracks: tt.tracks}
			assert.Equal(t, tt.expected, p.TotalDuration())
		})
	}
}

func TestPlaylistResult_TrackIDs(t *testing.T) {
	p := PlaylistResult{Tracks: []Track{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}}}
	assert.Equal(t, []string{"t1", "t2", "t3"}, p.TrackIDs())
}
