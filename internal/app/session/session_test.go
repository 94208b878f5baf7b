package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trvinh/melodica/internal/app/controller"
	"github.com/trvinh/melodica/internal/app/events"
	"github.com/trvinh/melodica/internal/app/queue"
	"github.com/trvinh/melodica/internal/domain/track"
	"github.com/trvinh/melodica/internal/infra/node"
)

type fakeNode struct {
	mu sync.Mutex

	label   string
	plays   []track.Track
	pauses  int
	resumes int
	stops   int
	dcs     int

	playErr   error
	events    chan node.Event
	closeOnce sync.Once
}

func newFakeNode(label string) *fakeNode {
	return &fakeNode{label: label, events: make(chan node.Event, 8)}
}

func (n *fakeNode) Label() string { return n.label }

func (n *fakeNode) Play(ctx context.Context, tenantID string, t track.Track, replace bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.playErr != nil {
		return n.playErr
	}
	n.plays = append(n.plays, t)
	return nil
}

func (n *fakeNode) Pause(ctx context.Context, tenantID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pauses++
	return nil
}

func (n *fakeNode) Resume(ctx context.Context, tenantID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resumes++
	return nil
}

func (n *fakeNode) Stop(ctx context.Context, tenantID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stops++
	return nil
}

func (n *fakeNode) Disconnect(ctx context.Context, tenantID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dcs++
	return nil
}

func (n *fakeNode) Events() <-chan node.Event { return n.events }

func (n *fakeNode) Close() error {
	n.closeOnce.Do(func() { close(n.events) })
	return nil
}

func (n *fakeNode) playCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.plays)
}

func (n *fakeNode) lastPlay() track.Track {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.plays[len(n.plays)-1]
}

type fakeChannel struct {
	mu sync.Mutex

	id    string
	sends []controller.Content
	edits []controller.Content
}

func newFakeChannel(id string) *fakeChannel {
	return &fakeChannel{id: id}
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(ctx context.Context, content controller.Content) (controller.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, content)
	return controller.NewArtifact(c.id, content, time.Now()), nil
}

func (c *fakeChannel) Edit(ctx context.Context, a controller.Artifact, content controller.Content) (controller.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, content)
	a.Content = content
	return a, nil
}

func (c *fakeChannel) Delete(ctx context.Context, a controller.Artifact) error {
	return nil
}

func (c *fakeChannel) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func (c *fakeChannel) lastSend() controller.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends[len(c.sends)-1]
}

func testTrack(id, title string, d time.Duration) track.Track {
	return track.Track{
		ID:       id,
		Title:    title,
		Author:   "Tester",
		URI:      "https://example.com/" + id,
		Duration: d,
		Source:   "test",
	}
}

func newTestSession(t *testing.T, n *fakeNode, filters *queue.Chain) (*Session, *events.Broadcaster) {
	t.Helper()
	b := events.NewBroadcaster()
	cfg := Config{
		Staleness:          controller.DefaultStaleness,
		BrowserPageSize:    12,
		BrowserIdleTimeout: time.Minute,
		Messages:           DefaultMessages(),
	}
	return newSession("tenant-1", n, filters, b, cfg, nil), b
}

func TestSessionEnqueueAutoPlay(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	tr := testTrack("t1", "First", 3*time.Minute)
	added, rejected, err := s.Enqueue(ctx, track.TrackResult{Track: tr})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Empty(t, rejected)

	require.Equal(t, 1, n.playCount())
	assert.Equal(t, "t1", n.lastPlay().ID)

	cur := s.CurrentTrack()
	require.NotNil(t, cur)
	assert.Equal(t, "t1", cur.ID)
	assert.Empty(t, s.UpcomingTracks())
}

func TestSessionEnqueueWhilePlayingDoesNotInterrupt(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	_, _, err := s.Enqueue(ctx, track.TrackResult{Track: testTrack("t1", "First", time.Minute)})
	require.NoError(t, err)
	_, _, err = s.Enqueue(ctx, track.TrackResult{Track: testTrack("t2", "Second", time.Minute)})
	require.NoError(t, err)

	assert.Equal(t, 1, n.playCount())
	assert.Equal(t, "t1", s.CurrentTrack().ID)
	require.Len(t, s.UpcomingTracks(), 1)
	assert.Equal(t, "t2", s.UpcomingTracks()[0].ID)
}

func TestSessionEnqueuePlaylist(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	res := track.PlaylistResult{
		Name: "Mix",
		URI:  "https://example.com/mix",
		Tracks: []track.Track{
			testTrack("t1", "First", time.Minute),
			testTrack("t2", "Second", time.Minute),
			testTrack("t3", "Third", time.Minute),
		},
	}
	added, rejected, err := s.Enqueue(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.Empty(t, rejected)

	assert.Equal(t, "t1", s.CurrentTrack().ID)
	assert.Len(t, s.UpcomingTracks(), 2)
}

func TestSessionEnqueueFilterRejection(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	chain := queue.NewChain()
	chain.Add(&queue.DuplicateTrackFilter{})
	s, _ := newTestSession(t, n, chain)

	tr := testTrack("t1", "First", time.Minute)
	added, rejected, err := s.Enqueue(ctx, track.TrackResult{Track: tr})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Empty(t, rejected)

	added, rejected, err = s.Enqueue(ctx, track.TrackResult{Track: tr})
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	require.Len(t, rejected, 1)
	assert.Equal(t, "duplicate_track", rejected[0].Code)
	assert.Equal(t, "t1", rejected[0].Track.ID)
}

func TestSessionSkipNext(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	_, _, err := s.Enqueue(ctx, track.PlaylistResult{Tracks: []track.Track{
		testTrack("t1", "First", time.Minute),
		testTrack("t2", "Second", time.Minute),
	}})
	require.NoError(t, err)

	require.NoError(t, s.SkipNext(ctx))
	assert.Equal(t, "t2", s.CurrentTrack().ID)
	assert.Equal(t, 2, n.playCount())
	assert.False(t, s.Closed())
}

func TestSessionSkipNextOverridesLoopTrack(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	_, _, err := s.Enqueue(ctx, track.PlaylistResult{Tracks: []track.Track{
		testTrack("t1", "First", time.Minute),
		testTrack("t2", "Second", time.Minute),
	}})
	require.NoError(t, err)
	require.NoError(t, s.SetLoop(ctx, queue.LoopTrack))

	require.NoError(t, s.SkipNext(ctx))
	assert.Equal(t, "t2", s.CurrentTrack().ID)
}

func TestSessionSkipNextExhaustionClosesSession(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	ch := newFakeChannel("chan-1")
	s.SetNotificationChannel(ch)

	_, _, err := s.Enqueue(ctx, track.TrackResult{Track: testTrack("t1", "Only", time.Minute)})
	require.NoError(t, err)

	require.NoError(t, s.SkipNext(ctx))
	assert.True(t, s.Closed())
	assert.GreaterOrEqual(t, n.stops, 1)
	assert.GreaterOrEqual(t, n.dcs, 1)

	last := ch.lastSend()
	assert.Contains(t, last.Title, "exhausted")
}

func TestSessionSkipPrevious(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	_, _, err := s.Enqueue(ctx, track.PlaylistResult{Tracks: []track.Track{
		testTrack("t1", "First", time.Minute),
		testTrack("t2", "Second", time.Minute),
	}})
	require.NoError(t, err)

	// Nothing played before the first track.
	ok, err := s.SkipPrevious(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SkipNext(ctx))
	ok, err = s.SkipPrevious(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "t1", s.CurrentTrack().ID)

	// The displaced track goes back to the front of the line.
	up := s.UpcomingTracks()
	require.Len(t, up, 1)
	assert.Equal(t, "t2", up[0].ID)
}

func TestSessionHandleTrackEndAdvances(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	_, _, err := s.Enqueue(ctx, track.PlaylistResult{Tracks: []track.Track{
		testTrack("t1", "First", time.Minute),
		testTrack("t2", "Second", time.Minute),
	}})
	require.NoError(t, err)

	s.HandleTrackEnd(ctx)
	assert.Equal(t, "t2", s.CurrentTrack().ID)
	assert.False(t, s.Closed())
}

func TestSessionHandleTrackEndLoopTrackRepeats(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	_, _, err := s.Enqueue(ctx, track.TrackResult{Track: testTrack("t1", "Only", time.Minute)})
	require.NoError(t, err)
	require.NoError(t, s.SetLoop(ctx, queue.LoopTrack))

	s.HandleTrackEnd(ctx)
	assert.False(t, s.Closed())
	assert.Equal(t, "t1", s.CurrentTrack().ID)
	assert.Equal(t, 2, n.playCount())
}

func TestSessionHandleTrackEndExhaustionClosesSession(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, b := newTestSession(t, n, nil)

	var mu sync.Mutex
	var seen []events.Type
	b.Subscribe(events.StreamFunc(func(e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
		return nil
	}))

	_, _, err := s.Enqueue(ctx, track.TrackResult{Track: testTrack("t1", "Only", time.Minute)})
	require.NoError(t, err)

	s.HandleTrackEnd(ctx)
	assert.True(t, s.Closed())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, events.TrackEnded)
	assert.Contains(t, seen, events.QueueExhausted)
	assert.Contains(t, seen, events.SessionClosed)
}

func TestSessionHandleTrackLoadFailedAdvancesWithoutRetry(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	ch := newFakeChannel("chan-1")
	s.SetNotificationChannel(ch)

	_, _, err := s.Enqueue(ctx, track.PlaylistResult{Tracks: []track.Track{
		testTrack("t1", "Broken", time.Minute),
		testTrack("t2", "Second", time.Minute),
	}})
	require.NoError(t, err)

	s.HandleTrackLoadFailed(ctx, "t1")
	assert.Equal(t, "t2", s.CurrentTrack().ID)
	assert.False(t, s.Closed())

	// The failed track was reported once and never re-submitted.
	var playedBroken int
	n.mu.Lock()
	for _, p := range n.plays {
		if p.ID == "t1" {
			playedBroken++
		}
	}
	n.mu.Unlock()
	assert.Equal(t, 1, playedBroken)

	found := false
	ch.mu.Lock()
	for _, c := range ch.sends {
		if c.Title == DefaultMessages().TrackLoadFailed+": Broken" {
			found = true
		}
	}
	ch.mu.Unlock()
	assert.True(t, found, "load failure should be reported on the channel")
}

func TestSessionPlayFailureLeavesSessionAlive(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	n.playErr = errors.New("voice gateway unavailable")
	s, _ := newTestSession(t, n, nil)

	_, _, err := s.Enqueue(ctx, track.TrackResult{Track: testTrack("t1", "First", time.Minute)})
	assert.Error(t, err)
	assert.False(t, s.Closed())

	// The session accepts further commands after the failure.
	n.playErr = nil
	require.NoError(t, s.SkipNext(ctx))
}

func TestSessionPauseResume(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	_, _, err := s.Enqueue(ctx, track.TrackResult{Track: testTrack("t1", "First", time.Minute)})
	require.NoError(t, err)

	paused, err := s.TogglePause(ctx)
	require.NoError(t, err)
	assert.True(t, paused)
	assert.True(t, s.Paused())
	assert.Equal(t, 1, n.pauses)

	// Pausing again is a no-op.
	require.NoError(t, s.Pause(ctx))
	assert.Equal(t, 1, n.pauses)

	paused, err = s.TogglePause(ctx)
	require.NoError(t, err)
	assert.False(t, paused)
	assert.Equal(t, 1, n.resumes)
}

func TestSessionClearQueueKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	_, _, err := s.Enqueue(ctx, track.PlaylistResult{Tracks: []track.Track{
		testTrack("t1", "First", time.Minute),
		testTrack("t2", "Second", time.Minute),
		testTrack("t3", "Third", time.Minute),
	}})
	require.NoError(t, err)

	require.NoError(t, s.ClearQueue(ctx))
	assert.Equal(t, "t1", s.CurrentTrack().ID)
	assert.Empty(t, s.UpcomingTracks())
	assert.False(t, s.Closed())
}

func TestSessionClosedRejectsCommands(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	require.NoError(t, s.Stop(ctx))
	assert.True(t, s.Closed())

	_, _, err := s.Enqueue(ctx, track.TrackResult{Track: testTrack("t1", "First", time.Minute)})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.SkipNext(ctx), ErrClosed)
	_, err = s.SkipPrevious(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Stop(ctx), ErrClosed)
}

func TestSessionOpenBrowserSnapshot(t *testing.T) {
	ctx := context.Background()
	n := newFakeNode("node-a")
	s, _ := newTestSession(t, n, nil)

	_, _, err := s.Enqueue(ctx, track.PlaylistResult{Tracks: []track.Track{
		testTrack("t1", "First", time.Minute),
		testTrack("t2", "Second", time.Minute),
		testTrack("t3", "Third", time.Minute),
	}})
	require.NoError(t, err)

	br := s.OpenBrowser(nil)
	defer br.Close()

	page, err := br.First()
	require.NoError(t, err)
	assert.Len(t, page.Options, 2)

	// Queue mutations do not leak into the open snapshot until a refresh.
	require.NoError(t, s.SkipNext(ctx))
	page, err = br.First()
	require.NoError(t, err)
	assert.Len(t, page.Options, 2)

	page, err = s.RefreshBrowser(br)
	require.NoError(t, err)
	assert.Len(t, page.Options, 1)
}

func poolWithFakes(t *testing.T, labels ...string) (*node.Pool, map[string]*fakeNode) {
	t.Helper()

	fakes := make(map[string]*fakeNode, len(labels))
	dialer := func(ctx context.Context, cfg node.Config) (node.AudioNode, error) {
		n := newFakeNode(cfg.Label)
		fakes[cfg.Label] = n
		return n, nil
	}

	cfgs := make([]node.Config, 0, len(labels))
	for _, l := range labels {
		cfgs = append(cfgs, node.Config{Label: l, Host: "localhost", Port: 2333})
	}

	p := node.NewPool(dialer)
	require.NoError(t, p.Connect(context.Background(), cfgs))
	return p, fakes
}

func TestManagerGetOrCreate(t *testing.T) {
	ctx := context.Background()
	p, _ := poolWithFakes(t, "main")
	defer p.Close()

	m := NewManager(p, nil, nil, Config{})

	s1, err := m.GetOrCreate(ctx, "tenant-1")
	require.NoError(t, err)
	s2, err := m.GetOrCreate(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	other, err := m.GetOrCreate(ctx, "tenant-2")
	require.NoError(t, err)
	assert.NotSame(t, s1, other)
	assert.Equal(t, 2, m.Len())
}

func TestManagerRemovesSessionOnStop(t *testing.T) {
	ctx := context.Background()
	p, _ := poolWithFakes(t, "main")
	defer p.Close()

	m := NewManager(p, nil, nil, Config{})

	s, err := m.GetOrCreate(ctx, "tenant-1")
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx))

	// Registry cleanup runs off the session's lock.
	assert.Eventually(t, func() bool {
		return m.Get("tenant-1") == nil
	}, time.Second, 10*time.Millisecond)
}

func TestManagerRunRoutesNodeEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, fakes := poolWithFakes(t, "main")
	defer p.Close()

	m := NewManager(p, nil, nil, Config{})
	go m.Run(ctx)

	s, err := m.GetOrCreate(ctx, "tenant-1")
	require.NoError(t, err)

	_, _, err = s.Enqueue(ctx, track.PlaylistResult{Tracks: []track.Track{
		testTrack("t1", "First", time.Minute),
		testTrack("t2", "Second", time.Minute),
	}})
	require.NoError(t, err)

	fakes["main"].events <- node.Event{
		Type:     node.EventTrackFinished,
		TenantID: "tenant-1",
		TrackID:  "t1",
	}

	assert.Eventually(t, func() bool {
		cur := s.CurrentTrack()
		return cur != nil && cur.ID == "t2"
	}, time.Second, 10*time.Millisecond)
}

type fakeResolver struct {
	res track.Resolution
	err error
}

func (r *fakeResolver) Resolve(ctx context.Context, input string) (track.Resolution, error) {
	return r.res, r.err
}

func TestManagerRequestResolvesAndEnqueues(t *testing.T) {
	ctx := context.Background()
	p, fakes := poolWithFakes(t, "main")
	defer p.Close()

	r := &fakeResolver{res: track.TrackResult{Track: testTrack("t1", "First", time.Minute)}}
	m := NewManager(p, r, nil, Config{})

	added, rejected, err := m.Request(ctx, "tenant-1", "first song")
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Empty(t, rejected)

	require.NotNil(t, m.Get("tenant-1"))
	assert.Equal(t, 1, fakes["main"].playCount())
}

func TestManagerRequestResolutionFailure(t *testing.T) {
	ctx := context.Background()
	p, _ := poolWithFakes(t, "main")
	defer p.Close()

	r := &fakeResolver{err: errors.New("nothing matched")}
	m := NewManager(p, r, nil, Config{})

	_, _, err := m.Request(ctx, "tenant-1", "gibberish")
	require.Error(t, err)

	// A failed resolution must not leave an empty session behind.
	assert.Nil(t, m.Get("tenant-1"))
}

func TestManagerRequestWithoutResolver(t *testing.T) {
	p, _ := poolWithFakes(t, "main")
	defer p.Close()

	m := NewManager(p, nil, nil, Config{})
	_, _, err := m.Request(context.Background(), "tenant-1", "anything")
	assert.Error(t, err)
}

func TestManagerShutdownStopsAllSessions(t *testing.T) {
	ctx := context.Background()
	p, _ := poolWithFakes(t, "main")
	defer p.Close()

	m := NewManager(p, nil, nil, Config{})
	s1, err := m.GetOrCreate(ctx, "tenant-1")
	require.NoError(t, err)
	s2, err := m.GetOrCreate(ctx, "tenant-2")
	require.NoError(t, err)

	m.Shutdown(ctx)
	assert.True(t, s1.Closed())
	assert.True(t, s2.Closed())
}
