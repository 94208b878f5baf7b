// Package browser provides a paginated, read-only view over a queue's
// upcoming tracks. A browser works on a snapshot taken at open or
// refresh time and has a lifecycle independent of the session.
package browser

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/trvinh/melodica/internal/app/controller"
	"github.com/trvinh/melodica/internal/domain/track"
)

// DefaultPageSize is the number of tracks shown per page.
const DefaultPageSize = 12

// DefaultIdleTimeout is how long a browser stays interactive without
// navigation before it disables itself.
const DefaultIdleTimeout = 60 * time.Second

// ErrClosed is returned for any navigation on a closed browser.
var ErrClosed = errors.New("browser is closed")

// State represents the browser lifecycle state.
type State int

const (
	StateOpen   State = iota // Accepting navigation
	StateClosed              // Terminal; all navigation rejected
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option is one selectable entry on a page.
type Option struct {
	Label       string
	Description string
	Value       string // Track ID
}

// Page is a rendered page of the snapshot.
type Page struct {
	Index   int
	Count   int
	Body    string
	Options []Option
}

// Browser pages through a snapshot of upcoming tracks. Navigation is
// cyclic: stepping back from the first page lands on the last and
// stepping forward from the last lands on the first.
type Browser struct {
	mu sync.Mutex

	state    State
	expired  bool
	pageSize int
	pages    []Page
	current  int

	idleTimer   *time.Timer
	idleTimeout time.Duration
	onExpire    func()
}

// New opens a browser over the given upcoming snapshot.
func New(upcoming []track.Track, opts ...OptionFunc) *Browser {
	b := &Browser{
		state:    StateOpen,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.pages = paginate(upcoming, b.pageSize)
	return b
}

// OptionFunc configures a browser at construction.
type OptionFunc func(*Browser)

// WithPageSize overrides the page size.
func WithPageSize(n int) OptionFunc {
	return func(b *Browser) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// WithIdleTimeout arms the idle timer. After d without navigation the
// browser transitions to its terminal disabled state and onExpire is
// invoked (outside the browser lock) so the owner can render the
// artifact inert.
func WithIdleTimeout(d time.Duration, onExpire func()) OptionFunc {
	return func(b *Browser) {
		b.onExpire = onExpire
		b.idleTimeout = d
		b.idleTimer = time.AfterFunc(d, b.expire)
	}
}

// First jumps to page 0.
func (b *Browser) First() (Page, error) {
	return b.navigate(func(cur, last int) int { return 0 })
}

// Back steps one page backwards, wrapping from page 0 to the last page.
func (b *Browser) Back() (Page, error) {
	return b.navigate(func(cur, last int) int {
		if cur == 0 {
			return last
		}
		return cur - 1
	})
}

// Forward steps one page forwards, wrapping from the last page to 0.
func (b *Browser) Forward() (Page, error) {
	return b.navigate(func(cur, last int) int {
		if cur == last {
			return 0
		}
		return cur + 1
	})
}

// Last jumps to the last page.
func (b *Browser) Last() (Page, error) {
	return b.navigate(func(cur, last int) int { return last })
}

// Refresh re-snapshots the upcoming sequence and resets to page 0.
func (b *Browser) Refresh(upcoming []track.Track) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return Page{}, ErrClosed
	}

	b.pages = paginate(upcoming, b.pageSize)
	b.current = 0
	b.touchLocked()
	return b.pages[0], nil
}

// Close transitions the browser to its terminal state. Idempotent.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return
	}
	b.state = StateClosed
	if b.idleTimer != nil {
		b.idleTimer.Stop()
		b.idleTimer = nil
	}
}

// State returns the current lifecycle state.
func (b *Browser) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Expired reports whether the browser closed via idle timeout rather
// than an explicit close.
func (b *Browser) Expired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expired
}

// Current returns the current page.
func (b *Browser) Current() Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pages[b.current]
}

// PageCount returns the number of pages in the snapshot.
func (b *Browser) PageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pages)
}

func (b *Browser) navigate(step func(cur, last int) int) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return Page{}, ErrClosed
	}

	b.current = step(b.current, len(b.pages)-1)
	b.touchLocked()
	return b.pages[b.current], nil
}

// touchLocked rewinds the idle timer after an interaction.
func (b *Browser) touchLocked() {
	if b.idleTimer != nil {
		b.idleTimer.Reset(b.idleTimeout)
	}
}

// expire runs on the idle timer. It only touches the browser's own
// state and artifact, never the live queue.
func (b *Browser) expire() {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return
	}
	b.state = StateClosed
	b.expired = true
	b.idleTimer = nil
	onExpire := b.onExpire
	b.mu.Unlock()

	zlog.Debug().Msg("browser: idle timeout, disabling")
	if onExpire != nil {
		onExpire()
	}
}

// paginate partitions the snapshot into fixed-size pages. An empty
// snapshot yields a single empty page so navigation stays well defined.
func paginate(upcoming []track.Track, pageSize int) []Page {
	count := (len(upcoming) + pageSize - 1) / pageSize
	if count == 0 {
		count = 1
	}

	pages := make([]Page, 0, count)
	for p := 0; p < count; p++ {
		start := p * pageSize
		end := start + pageSize
		if end > len(upcoming) {
			end = len(upcoming)
		}

		var body strings.Builder
		options := make([]Option, 0, end-start)
		for i, t := range upcoming[start:end] {
			n := start + i + 1
			dur := controller.FormatDuration(t.Duration)
			if t.Live {
				dur = "live"
			}
			fmt.Fprintf(&body, "%d) %s [%s]\n", n, controller.TrimText(t.Title, 50), dur)
			options = append(options, Option{
				Label:       controller.TrimText(fmt.Sprintf("%d. %s", n, t.Author), 25),
				Description: controller.TrimText(fmt.Sprintf("[%s] %s", dur, t.Title), 50),
				Value:       t.ID,
			})
		}

		pages = append(pages, Page{
			Index:   p,
			Count:   count,
			Body:    body.String(),
			Options: options,
		})
	}
	return pages
}
