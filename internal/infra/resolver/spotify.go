// Package resolver turns user input into playable tracks via the
// Spotify API.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/trvinh/melodica/internal/domain/track"
)

// ErrNotFound is returned when a query or link resolves to nothing.
var ErrNotFound = errors.New("no matching track")

// Config represents Spotify API configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Market       string
}

// Spotify resolves track links, playlist links and free-text queries
// against the Spotify API.
type Spotify struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// New creates a Spotify resolver. The refresh token drives OAuth token
// renewal; no interactive authorization flow is needed at runtime.
func New(ctx context.Context, cfg Config) (*Spotify, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(spotifyauth.ScopePlaylistReadPrivate),
	)
	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	client := spotify.New(auth.Client(ctx, token))

	market := cfg.Market
	if market == "" {
		market = "US"
	}

	return &Spotify{
		client:     client,
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// Resolve turns a track link, playlist link or free-text query into a
// resolution. Free text resolves to the best-matching single track.
func (s *Spotify) Resolve(ctx context.Context, input string) (track.Resolution, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("empty query")
	}

	if id := extractPlaylistID(input); id != "" {
		return s.resolvePlaylist(ctx, id)
	}
	if id := extractTrackID(input); id != "" {
		return s.resolveTrack(ctx, id)
	}
	return s.search(ctx, input)
}

func (s *Spotify) resolveTrack(ctx context.Context, id string) (track.Resolution, error) {
	var full *spotify.FullTrack
	err := s.retry(func() error {
		t, err := s.client.GetTrack(ctx, spotify.ID(id), spotify.Market(s.market))
		if err != nil {
			return err
		}
		full = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	return track.TrackResult{Track: s.convertTrack(full)}, nil
}

func (s *Spotify) resolvePlaylist(ctx context.Context, id string) (track.Resolution, error) {
	var name string
	err := s.retry(func() error {
		p, err := s.client.GetPlaylist(ctx, spotify.ID(id), spotify.Fields("name"))
		if err != nil {
			return err
		}
		name = p.Name
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist")
	}

	var tracks []track.Track
	offset := 0
	limit := 100

	for {
		var page *spotify.PlaylistItemPage
		err := s.retry(func() error {
			p, err := s.client.GetPlaylistItems(ctx, spotify.ID(id),
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(s.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			// Episodes come back with a nil Track pointer.
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				tracks = append(tracks, s.convertTrack(item.Track.Track))
			}
		}

		if len(page.Items) < limit {
			break
		}
		offset += limit
	}

	if len(tracks) == 0 {
		return nil, ErrNotFound
	}

	return track.PlaylistResult{
		Name:   name,
		URI:    playlistURL(id),
		Tracks: tracks,
	}, nil
}

func (s *Spotify) search(ctx context.Context, query string) (track.Resolution, error) {
	var result *spotify.SearchResult
	err := s.retry(func() error {
		r, err := s.client.Search(ctx, query, spotify.SearchTypeTrack,
			spotify.Limit(1),
			spotify.Market(s.market),
		)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "search failed")
	}

	if result.Tracks == nil || len(result.Tracks.Tracks) == 0 {
		return nil, ErrNotFound
	}
	return track.TrackResult{Track: s.convertTrack(&result.Tracks.Tracks[0])}, nil
}

// convertTrack maps a Spotify track onto the domain track type.
func (s *Spotify) convertTrack(t *spotify.FullTrack) track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var artwork string
	if len(t.Album.Images) > 0 {
		artwork = t.Album.Images[0].URL
	}

	return track.Track{
		ID:         string(t.ID),
		Title:      t.Name,
		Author:     strings.Join(artists, ", "),
		URI:        trackURL(string(t.ID)),
		Duration:   time.Duration(t.Duration) * time.Millisecond,
		ArtworkURL: artwork,
		Source:     "spotify",
	}
}

func trackURL(id string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", id)
}

func playlistURL(id string) string {
	return fmt.Sprintf("https://open.spotify.com/playlist/%s", id)
}

// retry retries an operation with linear backoff.
func (s *Spotify) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < s.maxRetries-1 {
			time.Sleep(s.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable. Rate limit and server
// errors are; everything else fails fast.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractTrackID extracts a track ID from a Spotify track URL or URI.
// Returns "" when the input is not a track link.
func extractTrackID(input string) string {
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}
	return ""
}

// extractPlaylistID extracts a playlist ID from a Spotify playlist URL
// or URI. Returns "" when the input is not a playlist link.
func extractPlaylistID(input string) string {
	if strings.HasPrefix(input, "spotify:playlist:") {
		return strings.TrimPrefix(input, "spotify:playlist:")
	}
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/playlist/") {
		parts := strings.Split(input, "/playlist/")
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}
	return ""
}
