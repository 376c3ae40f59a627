// internal/service/viewer/client.go

package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"safeloc/internal/clock"
	"safeloc/internal/domain/event"
	"safeloc/internal/domain/share"
	"safeloc/internal/metrics"
)

// State is the viewer-side state of a shared session
type State string

const (
	StateLive    State = "live"
	StateEnded   State = "ended"
	StateExpired State = "expired"
	StateClosed  State = "closed"
)

// Terminal reports whether no further updates follow this state
func (s State) Terminal() bool {
	return s != StateLive
}

// View is what an anonymous viewer sees
type View struct {
	Session share.Session `json:"session"`
	State   State         `json:"state"`
}

// Source is the fanout surface the client reads from
type Source interface {
	Get(ctx context.Context, kind event.Kind, id string) (event.Record, error)
	Update(ctx context.Context, rec event.Record) (event.Record, error)
	Subscribe(scope event.Scope, onChange func(event.Change)) (event.Subscription, error)
}

// Client opens viewer subscriptions. Expiry is always judged against the
// client's own clock, whatever the store reports.
type Client struct {
	source  Source
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient creates a viewer client
func NewClient(source Source, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Client {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{source: source, clock: clk, metrics: m, logger: logger}
}

// Open validates the link and starts following the session. The
// subscription is opened before the read so no update is lost.
func (c *Client) Open(ctx context.Context, sessionID string) (*Watch, error) {
	w := &Watch{
		client:  c,
		updates: make(chan View, 1),
	}

	sub, err := c.source.Subscribe(event.Scope{Kind: event.KindShareSessions, RecordID: sessionID}, w.onChange)
	if err != nil {
		return nil, err
	}

	rec, err := c.source.Get(ctx, event.KindShareSessions, sessionID)
	if err != nil {
		sub.Release()
		if errors.Is(err, event.ErrNotFound) {
			return nil, share.ErrLinkNotFound
		}
		return nil, err
	}
	fetched, ok := rec.(share.Session)
	if !ok {
		sub.Release()
		return nil, fmt.Errorf("unexpected record type %T", rec)
	}

	w.mu.Lock()
	if w.current == nil || !fetched.UpdatedAt.Before(w.current.UpdatedAt) {
		w.current = &fetched
	}
	sess := *w.current
	now := c.clock.Now()

	switch {
	case !sess.IsActive:
		w.mu.Unlock()
		sub.Release()
		return nil, share.ErrLinkNotFound
	case sess.ExpiredAt(now):
		w.mu.Unlock()
		sub.Release()
		c.deactivate(ctx, sess)
		return nil, share.ErrLinkExpired
	}

	w.sub = sub
	w.state = StateLive
	w.ready = true
	w.timer = c.clock.AfterFunc(sess.ExpiresAt.Sub(now), w.expire)
	w.mu.Unlock()

	c.metrics.ViewerOpened()
	return w, nil
}

// deactivate marks a past-due session inactive on a best-effort basis
func (c *Client) deactivate(ctx context.Context, sess share.Session) {
	sess.IsActive = false
	sess.UpdatedAt = c.clock.Now().UTC()
	if _, err := c.source.Update(ctx, sess); err != nil && !errors.Is(err, event.ErrNotFound) {
		c.logger.Warn("failed to deactivate expired share session", "session", sess.ID, "error", err)
	}
}

// Watch follows one shared session until it ends, expires or is closed
type Watch struct {
	client *Client

	mu      sync.Mutex
	current *share.Session
	state   State
	ready   bool
	sub     event.Subscription
	timer   *clock.Timer
	updates chan View
}

// Updates delivers views after each accepted change. Only the latest
// view is buffered. The channel is closed after a terminal view.
func (w *Watch) Updates() <-chan View {
	return w.updates
}

// Current returns the latest view
func (w *Watch) Current() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

// Close stops following the session
func (w *Watch) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state.Terminal() {
		return nil
	}
	w.state = StateClosed
	return w.finishLocked()
}

func (w *Watch) onChange(c event.Change) {
	sess, ok := c.Record.(share.Session)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil && sess.UpdatedAt.Before(w.current.UpdatedAt) {
		return
	}
	if !w.ready {
		w.current = &sess
		return
	}
	if w.state.Terminal() {
		return
	}

	expiresChanged := !sess.ExpiresAt.Equal(w.current.ExpiresAt)
	w.current = &sess

	now := w.client.clock.Now()
	switch {
	case !sess.IsActive:
		w.state = StateEnded
	case sess.ExpiredAt(now):
		w.state = StateExpired
	case expiresChanged:
		w.timer.Stop()
		w.timer = w.client.clock.AfterFunc(sess.ExpiresAt.Sub(now), w.expire)
	}

	w.emitLocked()
	if w.state.Terminal() {
		w.finishLocked()
	}
}

func (w *Watch) expire() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state.Terminal() {
		return
	}
	w.state = StateExpired
	w.emitLocked()
	w.finishLocked()
}

func (w *Watch) viewLocked() View {
	var sess share.Session
	if w.current != nil {
		sess = *w.current
	}
	return View{Session: sess, State: w.state}
}

// emitLocked replaces any unread view with the latest one
func (w *Watch) emitLocked() {
	view := w.viewLocked()
	select {
	case w.updates <- view:
		return
	default:
	}
	select {
	case <-w.updates:
	default:
	}
	w.updates <- view
}

func (w *Watch) finishLocked() error {
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.updates)
	w.client.metrics.ViewerClosed()
	return w.sub.Release()
}
