package session

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/trvinh/melodica/internal/app/browser"
	"github.com/trvinh/melodica/internal/app/controller"
	"github.com/trvinh/melodica/internal/app/events"
	"github.com/trvinh/melodica/internal/app/queue"
	"github.com/trvinh/melodica/internal/domain/track"
	"github.com/trvinh/melodica/internal/infra/node"
)

// Resolver turns user input into playable tracks.
type Resolver interface {
	Resolve(ctx context.Context, input string) (track.Resolution, error)
}

// Manager keeps at most one session per tenant. Sessions are created on
// a tenant's first playback request and remove themselves on teardown.
// Cross-session state ends at this registry: sessions never share
// mutable state with each other.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	pool        *node.Pool
	resolver    Resolver
	filters     *queue.Chain
	broadcaster *events.Broadcaster
	cfg         Config
}

// NewManager creates a session manager backed by the given node pool.
// The resolver may be nil when callers enqueue pre-resolved tracks; the
// filter chain may be nil to disable admission filtering.
func NewManager(pool *node.Pool, resolver Resolver, filters *queue.Chain, cfg Config) *Manager {
	if cfg.Messages == (Messages{}) {
		cfg.Messages = DefaultMessages()
	}
	if cfg.BrowserPageSize <= 0 {
		cfg.BrowserPageSize = browser.DefaultPageSize
	}
	if cfg.BrowserIdleTimeout <= 0 {
		cfg.BrowserIdleTimeout = browser.DefaultIdleTimeout
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = controller.DefaultStaleness
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		pool:        pool,
		resolver:    resolver,
		filters:     filters,
		broadcaster: events.NewBroadcaster(),
		cfg:         cfg,
	}
}

// Request resolves user input and enqueues the result on the tenant's
// session, creating the session when needed. This is the engine's main
// entry point for a playback request.
func (m *Manager) Request(ctx context.Context, tenantID, input string) (int, []Rejection, error) {
	if m.resolver == nil {
		return 0, nil, errors.New("no resolver configured")
	}

	res, err := m.resolver.Resolve(ctx, input)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "failed to resolve %q", input)
	}

	s, err := m.GetOrCreate(ctx, tenantID)
	if err != nil {
		return 0, nil, err
	}
	return s.Enqueue(ctx, res)
}

// Broadcaster returns the session event broadcaster.
func (m *Manager) Broadcaster() *events.Broadcaster {
	return m.broadcaster
}

// Get returns the tenant's session, or nil when none is active.
func (m *Manager) Get(tenantID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[tenantID]
}

// GetOrCreate returns the tenant's session, creating one with a node
// lease when this is the tenant's first playback request.
func (m *Manager) GetOrCreate(ctx context.Context, tenantID string) (*Session, error) {
	m.mu.RLock()
	if s, ok := m.sessions[tenantID]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[tenantID]; ok {
		return s, nil
	}

	n, err := m.pool.Lease()
	if err != nil {
		return nil, errors.Wrap(err, "failed to lease audio node")
	}

	s := newSession(tenantID, n, m.filters, m.broadcaster, m.cfg, func(closed *Session) {
		m.remove(closed)
		m.pool.Release(n)
	})
	m.sessions[tenantID] = s

	zlog.Info().Msgf("session created for tenant %s on node %s", tenantID, n.Label())
	return s, nil
}

// Run pumps node events to their sessions until ctx is done or the
// pool's event channel closes. Events for tenants without a live
// session are dropped; the node may still flush reports after a
// teardown.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-m.pool.Events():
			if !ok {
				return
			}
			s := m.Get(e.TenantID)
			if s == nil {
				zlog.Debug().Msgf("dropping node event %s for inactive tenant %s", e.Type, e.TenantID)
				continue
			}
			switch e.Type {
			case node.EventTrackFinished:
				s.HandleTrackEnd(ctx)
			case node.EventTrackLoadFailed:
				s.HandleTrackLoadFailed(ctx, e.TrackID)
			}
		}
	}
}

// Shutdown stops every active session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	active := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		active = append(active, s)
	}
	m.mu.RUnlock()

	for _, s := range active {
		if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrClosed) {
			zlog.Warn().Err(err).Msgf("session %s: shutdown stop failed", s.TenantID())
		}
	}
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Only remove if the registry still maps the tenant to this exact
	// session; a replacement may already have been created.
	if cur, ok := m.sessions[s.tenantID]; ok && cur == s {
		delete(m.sessions, s.tenantID)
	}
}
