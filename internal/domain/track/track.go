// Package track provides the Track domain entity.
package track

import "time"

// Track describes a single playable item as reported by a resolution
// provider. Immutable once constructed; the playback core never builds
// or modifies one.
type Track struct {
	ID         string        // Provider track ID
	Title      string        // Track title
	Author     string        // Artist or uploader name
	URI        string        // Canonical source URI
	Duration   time.Duration // Track duration (meaningless when Live)
	Live       bool          // Unbounded stream with no known duration
	ArtworkURL string        // Artwork image URL
	Source     string        // Provider tag, e.g. "spotify", "youtube"
}

// Equal reports whether two tracks describe the same item.
// Identity is by ID only.
func (t Track) Equal(other Track) bool {
	return t.ID == other.ID
}

// Resolution is the result of resolving a search query or link.
// Exactly two variants exist: TrackResult and PlaylistResult.
// Consumers branch on the variant, never on provider identity.
type Resolution interface {
	resolution()
}

// TrackResult is a resolution that produced a single track.
type TrackResult struct {
	Track Track
}

// PlaylistResult is a resolution that produced an ordered set of tracks.
type PlaylistResult struct {
	Name   string
	URI    string
	Tracks []Track
}

func (TrackResult) resolution()    {}
func (PlaylistResult) resolution() {}

// TotalDuration returns the summed duration of all non-live tracks.
func (p PlaylistResult) TotalDuration() time.Duration {
	var total time.Duration
	for _, t := range p.Tracks {
		if t.Live {
			continue
		}
		total += t.Duration
	}
	return total
}

// TrackIDs returns all track IDs in playlist order.
func (p PlaylistResult) TrackIDs() []string {
	ids := make([]string, len(p.Tracks))
	for i, t := range p.Tracks {
		ids[i] = t.ID
	}
	return ids
}
