// Package session binds a queue's decisions to an external audio node
// and a notification surface, one session per tenant.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/trvinh/melodica/internal/app/browser"
	"github.com/trvinh/melodica/internal/app/controller"
	"github.com/trvinh/melodica/internal/app/events"
	"github.com/trvinh/melodica/internal/app/queue"
	"github.com/trvinh/melodica/internal/domain/track"
	"github.com/trvinh/melodica/internal/infra/node"
)

// ErrClosed is returned by commands against a torn-down session.
var ErrClosed = errors.New("session is closed")

// Messages holds the user-facing notification texts.
type Messages struct {
	QueueExhausted  string
	TrackLoadFailed string
	NothingPrevious string
}

// DefaultMessages returns the built-in notification texts.
func DefaultMessages() Messages {
	return Messages{
		QueueExhausted:  "Queue exhausted, leaving",
		TrackLoadFailed: "Failed to load track",
		NothingPrevious: "No previously played track",
	}
}

// Config holds per-session settings, shared by all sessions of a manager.
type Config struct {
	Staleness          time.Duration
	BrowserPageSize    int
	BrowserIdleTimeout time.Duration
	Messages           Messages
}

// Rejection reports a track refused by the admission filter chain.
type Rejection struct {
	Track track.Track
	Code  string
}

// Session is a single-tenant playback session. All transition paths,
// user commands and node-reported events alike, serialize through one
// mutex: a queue mutation and the controller refresh it causes form one
// atomic unit of work.
type Session struct {
	id       string
	tenantID string

	mu     sync.Mutex
	queue  *queue.Queue
	node   node.AudioNode
	ctrl   *controller.Controller
	closed bool

	// Playback position bookkeeping for the remaining-time estimate.
	paused      bool
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration

	filters     *queue.Chain
	broadcaster *events.Broadcaster
	cfg         Config
	onClose     func(*Session)
}

func newSession(tenantID string, n node.AudioNode, filters *queue.Chain, b *events.Broadcaster, cfg Config, onClose func(*Session)) *Session {
	return &Session{
		id:          uuid.New().String(),
		tenantID:    tenantID,
		queue:       queue.New(),
		node:        n,
		ctrl:        controller.New(cfg.Staleness),
		filters:     filters,
		broadcaster: b,
		cfg:         cfg,
		onClose:     onClose,
	}
}

// ID returns the session's unique ID.
func (s *Session) ID() string { return s.id }

// TenantID returns the owning tenant.
func (s *Session) TenantID() string { return s.tenantID }

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Enqueue adds the resolved item(s) to the queue, running each track
// through the admission filters. When nothing is playing the queue
// advances immediately; otherwise playback is left untouched.
//
// Auto-play keys off the queue's current pointer, not the node's idle
// state: the decision stays synchronous under the session lock.
func (s *Session) Enqueue(ctx context.Context, res track.Resolution) (int, []Rejection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, nil, ErrClosed
	}

	var tracks []track.Track
	switch r := res.(type) {
	case track.TrackResult:
		tracks = []track.Track{r.Track}
	case track.PlaylistResult:
		tracks = r.Tracks
	default:
		return 0, nil, errors.Newf("unknown resolution variant %T", res)
	}

	added := 0
	var rejected []Rejection
	for _, t := range tracks {
		if s.filters != nil {
			if result := s.filters.Execute(ctx, t, s.queue); !result.Accepted {
				rejected = append(rejected, Rejection{Track: t, Code: result.Code})
				continue
			}
		}
		s.queue.Add(t)
		added++
	}

	if added > 0 && s.queue.Current() == nil {
		return added, rejected, s.advanceLocked(ctx)
	}

	s.refreshLocked(ctx)
	return added, rejected, nil
}

// SkipNext advances to the next track, loop-on-track notwithstanding.
// Exhausting the queue tears the session down.
func (s *Session) SkipNext(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if cur := s.queue.Current(); cur != nil {
		s.broadcaster.Publish(events.Event{Type: events.TrackSkipped, TenantID: s.tenantID, Track: cur})
	}
	return s.advanceLocked(ctx)
}

// SkipPrevious steps back to the most recently played track. Returns
// false when there is no history; the session is left untouched.
func (s *Session) SkipPrevious(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	t := s.queue.Previous()
	if t == nil {
		s.ctrl.Notify(ctx, s.cfg.Messages.NothingPrevious)
		return false, nil
	}
	return true, s.playLocked(ctx, t)
}

// HandleTrackEnd reacts to a node-reported natural track finish.
func (s *Session) HandleTrackEnd(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if cur := s.queue.Current(); cur != nil {
		s.broadcaster.Publish(events.Event{Type: events.TrackEnded, TenantID: s.tenantID, Track: cur})
	}

	next := s.queue.ContinueOrRepeat()
	if next == nil {
		s.finishLocked(ctx)
		return
	}
	if err := s.playLocked(ctx, next); err != nil {
		zlog.Error().Err(err).Msgf("session %s: failed to continue playback", s.tenantID)
	}
}

// HandleTrackLoadFailed reacts to a node-side load failure: the failed
// track is reported, discarded and never retried, and the queue
// advances to the next item.
func (s *Session) HandleTrackLoadFailed(ctx context.Context, trackID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	failed := s.queue.Current()
	title := trackID
	if failed != nil {
		title = failed.Title
	}

	zlog.Warn().Msgf("session %s: track %s failed to load", s.tenantID, title)
	s.ctrl.Notify(ctx, s.cfg.Messages.TrackLoadFailed+": "+title)
	s.broadcaster.Publish(events.Event{Type: events.TrackLoadFailed, TenantID: s.tenantID, Track: failed})

	if err := s.advanceLocked(ctx); err != nil {
		zlog.Error().Err(err).Msgf("session %s: failed to advance past broken track", s.tenantID)
	}
}

// Pause pauses node playback.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseLocked(ctx)
}

// Resume resumes paused node playback.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeLocked(ctx)
}

// TogglePause flips between paused and playing. Returns the new paused
// state.
func (s *Session) TogglePause(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return false, s.resumeLocked(ctx)
	}
	return true, s.pauseLocked(ctx)
}

// Paused reports whether playback is paused.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Stop tears the session down: node playback stops, the controller
// artifact is invalidated and the session leaves the registry.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closeLocked(ctx)
	return nil
}

// SetNotificationChannel replaces the channel renders target.
func (s *Session) SetNotificationChannel(ch controller.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.SetChannel(ch)
}

// SetLoop sets the loop mode and refreshes the artifact.
func (s *Session) SetLoop(ctx context.Context, m queue.LoopMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.queue.SetLoop(m)
	s.refreshLocked(ctx)
	return nil
}

// ToggleShuffle flips shuffle selection and returns the new value.
func (s *Session) ToggleShuffle(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	on := s.queue.ToggleShuffle()
	s.refreshLocked(ctx)
	return on, nil
}

// ClearQueue empties history and upcoming, leaving the current track
// playing.
func (s *Session) ClearQueue(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.queue.Clear()
	s.refreshLocked(ctx)
	return nil
}

// CurrentTrack returns a copy of the current track, or nil.
func (s *Session) CurrentTrack() *track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.queue.Current()
	if cur == nil {
		return nil
	}
	c := *cur
	return &c
}

// UpcomingTracks returns a snapshot of the upcoming sequence.
func (s *Session) UpcomingTracks() []track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Upcoming()
}

// OpenBrowser opens a paginated browser over a snapshot of the upcoming
// sequence. The browser's lifecycle is independent of the session;
// onExpire fires when it disables itself after idling.
func (s *Session) OpenBrowser(onExpire func()) *browser.Browser {
	s.mu.Lock()
	snapshot := s.queue.Upcoming()
	s.mu.Unlock()

	return browser.New(snapshot,
		browser.WithPageSize(s.cfg.BrowserPageSize),
		browser.WithIdleTimeout(s.cfg.BrowserIdleTimeout, onExpire),
	)
}

// RefreshBrowser re-snapshots the upcoming sequence into an open browser.
func (s *Session) RefreshBrowser(b *browser.Browser) (browser.Page, error) {
	s.mu.Lock()
	snapshot := s.queue.Upcoming()
	s.mu.Unlock()

	return b.Refresh(snapshot)
}

// advanceLocked advances the queue with Next and plays the result,
// tearing down on exhaustion.
func (s *Session) advanceLocked(ctx context.Context) error {
	next := s.queue.Next()
	if next == nil {
		s.finishLocked(ctx)
		return nil
	}
	return s.playLocked(ctx, next)
}

// playLocked instructs the node to play t, replacing any current audio,
// then refreshes the controller. A node failure is logged and reported
// to the caller but leaves the session alive.
func (s *Session) playLocked(ctx context.Context, t *track.Track) error {
	if err := s.node.Play(ctx, s.tenantID, *t, true); err != nil {
		zlog.Error().Err(err).Msgf("session %s: node play failed for %s", s.tenantID, t.ID)
		s.refreshLocked(ctx)
		return errors.Wrap(err, "node play failed")
	}

	s.startedAt = time.Now()
	s.paused = false
	s.pausedTotal = 0

	s.broadcaster.Publish(events.Event{Type: events.TrackStarted, TenantID: s.tenantID, Track: t})
	s.refreshLocked(ctx)
	return nil
}

// finishLocked handles queue exhaustion: one notification, then
// teardown.
func (s *Session) finishLocked(ctx context.Context) {
	s.ctrl.Notify(ctx, s.cfg.Messages.QueueExhausted)
	s.broadcaster.Publish(events.Event{Type: events.QueueExhausted, TenantID: s.tenantID})
	s.closeLocked(ctx)
}

func (s *Session) pauseLocked(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.paused || s.queue.Current() == nil {
		return nil
	}
	if err := s.node.Pause(ctx, s.tenantID); err != nil {
		zlog.Error().Err(err).Msgf("session %s: node pause failed", s.tenantID)
		return errors.Wrap(err, "node pause failed")
	}
	s.paused = true
	s.pausedAt = time.Now()
	s.refreshLocked(ctx)
	return nil
}

func (s *Session) resumeLocked(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if !s.paused {
		return nil
	}
	if err := s.node.Resume(ctx, s.tenantID); err != nil {
		zlog.Error().Err(err).Msgf("session %s: node resume failed", s.tenantID)
		return errors.Wrap(err, "node resume failed")
	}
	s.pausedTotal += time.Since(s.pausedAt)
	s.paused = false
	s.refreshLocked(ctx)
	return nil
}

// closeLocked tears the session down. Node failures are logged but
// never block teardown.
func (s *Session) closeLocked(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true

	if err := s.node.Stop(ctx, s.tenantID); err != nil {
		zlog.Warn().Err(err).Msgf("session %s: node stop failed during teardown", s.tenantID)
	}
	if err := s.node.Disconnect(ctx, s.tenantID); err != nil {
		zlog.Warn().Err(err).Msgf("session %s: node disconnect failed during teardown", s.tenantID)
	}

	s.ctrl.Shutdown(ctx)
	s.broadcaster.Publish(events.Event{Type: events.SessionClosed, TenantID: s.tenantID})

	if s.onClose != nil {
		// Outside the session lock: the callback takes the manager's
		// registry lock and releases the node lease.
		go s.onClose(s)
	}
}

// refreshLocked rebuilds the controller artifact from current state.
func (s *Session) refreshLocked(ctx context.Context) {
	cur := s.queue.Current()
	if cur == nil {
		return
	}
	s.ctrl.Refresh(ctx, controller.View{
		Track:      *cur,
		Paused:     s.paused,
		Remaining:  s.remainingLocked(*cur),
		QueueDepth: s.queue.UpcomingLen(),
		Loop:       s.queue.Loop(),
		Shuffle:    s.queue.Shuffle(),
		NodeLabel:  s.node.Label(),
	})
}

func (s *Session) remainingLocked(cur track.Track) time.Duration {
	if cur.Live {
		return 0
	}
	elapsed := time.Since(s.startedAt) - s.pausedTotal
	if s.paused {
		elapsed -= time.Since(s.pausedAt)
	}
	remaining := cur.Duration - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
