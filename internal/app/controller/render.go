package controller

import (
	"fmt"
	"time"

	"github.com/trvinh/melodica/internal/app/queue"
	"github.com/trvinh/melodica/internal/domain/track"
)

// View is the input to Render: a snapshot of session and queue state.
type View struct {
	Track      track.Track
	Paused     bool
	Remaining  time.Duration // Estimated time left (ignored for live tracks)
	QueueDepth int
	Loop       queue.LoopMode
	Shuffle    bool
	NodeLabel  string
}

// Field is one labelled line of rendered content.
type Field struct {
	Name  string
	Value string
}

// Content is delivery-agnostic rendered output. The notification surface
// decides how to present it.
type Content struct {
	Title      string
	URL        string
	ArtworkURL string
	Fields     []Field
	Footer     string
}

// Render produces the now-playing content for a view. Pure function,
// no side effects.
func Render(v View) Content {
	state := "Now playing"
	if v.Paused {
		state = "Paused"
	}

	fields := []Field{
		{Name: "State", Value: state},
		{Name: "Author", Value: v.Track.Author},
		{Name: "Duration", Value: durationLine(v)},
	}

	if v.QueueDepth > 0 {
		fields = append(fields, Field{
			Name:  "Queue",
			Value: fmt.Sprintf("%d track(s)", v.QueueDepth),
		})
	}

	switch v.Loop {
	case queue.LoopTrack:
		fields = append(fields, Field{Name: "Loop", Value: "current track"})
	case queue.LoopPlaylist:
		fields = append(fields, Field{Name: "Loop", Value: "playlist"})
	}

	if v.Shuffle {
		fields = append(fields, Field{Name: "Shuffle", Value: "on"})
	}

	return Content{
		Title:      TrimText(v.Track.Title, 64),
		URL:        v.Track.URI,
		ArtworkURL: v.Track.ArtworkURL,
		Fields:     fields,
		Footer:     v.NodeLabel,
	}
}

func durationLine(v View) string {
	if v.Track.Live {
		return "live"
	}
	total := FormatDuration(v.Track.Duration)
	if v.Paused {
		return fmt.Sprintf("%s (paused)", total)
	}
	remaining := v.Remaining
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("%s, %s remaining", total, FormatDuration(remaining))
}

// Notice renders a one-off notification.
func Notice(text string) Content {
	return Content{Title: text}
}

// Stopped renders the terminal form an artifact takes on teardown.
func Stopped() Content {
	return Content{Title: "Playback stopped"}
}

// TrimText truncates s to at most limit runes, appending an ellipsis
// when anything was cut.
func TrimText(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 1 {
		return string(r[:limit])
	}
	return string(r[:limit-1]) + "…"
}

// FormatDuration renders a duration as m:ss or h:mm:ss.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
