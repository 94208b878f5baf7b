// Package controller maintains the single live "now playing" artifact
// for a session: at most one artifact per session, edited in place while
// fresh and replaced once stale or after a channel change.
package controller

import (
	"context"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// DefaultStaleness is the window after which an artifact is resent
// instead of edited.
const DefaultStaleness = 180 * time.Second

// Artifact is an immutable snapshot of a previously sent message.
// It is replaced wholesale on every refresh, never mutated.
type Artifact struct {
	ID        string
	ChannelID string
	CreatedAt time.Time
	Content   Content
}

// Channel is the notification surface an artifact lives on. All three
// operations may fail (deleted channel, revoked permissions, expired
// artifact) and such failures are recoverable: the controller goes
// silent rather than propagating them.
type Channel interface {
	ID() string
	Send(ctx context.Context, c Content) (Artifact, error)
	Edit(ctx context.Context, a Artifact, c Content) (Artifact, error)
	Delete(ctx context.Context, a Artifact) error
}

// Controller owns one session's artifact lifecycle. It carries no lock
// of its own: every method is called while holding the owning session's
// update lock.
type Controller struct {
	staleness time.Duration
	now       func() time.Time

	channel  Channel
	artifact *Artifact
}

// New creates a controller with the given staleness window.
func New(staleness time.Duration) *Controller {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Controller{
		staleness: staleness,
		now:       time.Now,
	}
}

// SetChannel replaces the active notification channel. Subsequent
// refreshes target it; the old artifact is replaced on the next refresh.
func (c *Controller) SetChannel(ch Channel) {
	c.channel = ch
}

// HasChannel reports whether a notification channel is set.
func (c *Controller) HasChannel() bool {
	return c.channel != nil
}

// Refresh brings the artifact in line with the given view. A fresh
// artifact on an unchanged channel is edited in place; otherwise the old
// artifact is deleted best-effort and a new one sent. On any surface
// failure both the artifact and the channel reference are cleared: the
// session keeps playing but goes silent until a new channel is set.
func (c *Controller) Refresh(ctx context.Context, v View) {
	if c.channel == nil {
		return
	}

	content := Render(v)

	edit := c.artifact != nil &&
		c.now().Sub(c.artifact.CreatedAt) <= c.staleness &&
		c.artifact.ChannelID == c.channel.ID()

	if edit {
		updated, err := c.channel.Edit(ctx, *c.artifact, content)
		if err != nil {
			c.goSilent(err, "edit")
			return
		}
		c.artifact = &updated
		return
	}

	if c.artifact != nil {
		if err := c.channel.Delete(ctx, *c.artifact); err != nil {
			zlog.Debug().Err(err).Msg("controller: stale artifact delete failed")
		}
		c.artifact = nil
	}

	sent, err := c.channel.Send(ctx, content)
	if err != nil {
		c.goSilent(err, "send")
		return
	}
	c.artifact = &sent
}

// Notify sends a one-off notice outside the artifact lifecycle, e.g.
// "queue exhausted" or "track failed to load". Failures clear the
// channel reference.
func (c *Controller) Notify(ctx context.Context, text string) {
	if c.channel == nil {
		return
	}
	if _, err := c.channel.Send(ctx, Notice(text)); err != nil {
		c.goSilent(err, "notify")
	}
}

// Shutdown renders the artifact into its terminal "stopped" form,
// best-effort, and drops all references. Called during session teardown;
// refreshes after this point are no-ops.
func (c *Controller) Shutdown(ctx context.Context) {
	if c.channel != nil && c.artifact != nil {
		if _, err := c.channel.Edit(ctx, *c.artifact, Stopped()); err != nil {
			zlog.Debug().Err(err).Msg("controller: stopped rendering failed")
		}
	}
	c.artifact = nil
	c.channel = nil
}

// Artifact returns the current artifact snapshot, or nil.
func (c *Controller) Artifact() *Artifact {
	return c.artifact
}

func (c *Controller) goSilent(err error, op string) {
	zlog.Warn().Err(err).Msgf("controller: %s failed, going silent", op)
	c.artifact = nil
	c.channel = nil
}

// NewArtifact builds an artifact snapshot for a just-delivered message.
// Channel implementations use it from Send.
func NewArtifact(channelID string, content Content, at time.Time) Artifact {
	return Artifact{
		ID:        uuid.New().String(),
		ChannelID: channelID,
		CreatedAt: at,
		Content:   content,
	}
}
