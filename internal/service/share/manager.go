// internal/service/share/manager.go

package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"safeloc/internal/clock"
	"safeloc/internal/domain/event"
	"safeloc/internal/domain/geo"
	"safeloc/internal/domain/share"
	"safeloc/internal/metrics"
)

// RecordWriter is the store-and-fanout surface the manager writes through
type RecordWriter interface {
	Append(ctx context.Context, rec event.Record) (event.Record, error)
	Update(ctx context.Context, rec event.Record) (event.Record, error)
	Get(ctx context.Context, kind event.Kind, id string) (event.Record, error)
	List(ctx context.Context, q event.Query) ([]event.Record, error)
}

// ManagerConfig contains configuration for the share manager
type ManagerConfig struct {
	TTL             time.Duration
	RefreshInterval time.Duration
	LinkOrigin      string
}

// DefaultManagerConfig returns the default session lifetime and cadence
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		TTL:             24 * time.Hour,
		RefreshInterval: 30 * time.Second,
	}
}

// Manager implements the share.Manager interface
type Manager struct {
	writer    RecordWriter
	positions share.PositionSource
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
	config    ManagerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*tracked
	byOwner  map[string]string
	handlers []func(share.Session, share.Transition)
	closed   bool
}

var _ share.Manager = (*Manager)(nil)

// tracked is a live session. mu is held across every store write for
// the session, so a refresh tick and a stop never interleave.
type tracked struct {
	mu      sync.Mutex
	session share.Session
	timer   *clock.Timer
	done    bool
	// revoked is set when a refresh found the row deactivated elsewhere
	// and the stop has not been announced yet
	revoked bool
}

// NewManager creates a share manager
func NewManager(
	writer RecordWriter,
	positions share.PositionSource,
	clk clock.Clock,
	m *metrics.Metrics,
	logger *slog.Logger,
	config ManagerConfig,
) *Manager {
	defaults := DefaultManagerConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = defaults.RefreshInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		writer:    writer,
		positions: positions,
		clock:     clk,
		metrics:   m,
		logger:    logger,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*tracked),
		byOwner:   make(map[string]string),
	}
}

// Start reconciles with the store of record. Active sessions left by a
// previous process are expired if past due, otherwise their refresh
// loops resume.
func (m *Manager) Start(ctx context.Context) error {
	recs, err := m.writer.List(ctx, event.Query{Kind: event.KindShareSessions, ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("error loading active share sessions: %w", err)
	}

	now := m.clock.Now()
	resumed := 0
	for _, rec := range recs {
		sess, ok := rec.(share.Session)
		if !ok || !sess.IsActive {
			continue
		}

		if sess.ExpiredAt(now) {
			t := &tracked{session: sess}
			t.mu.Lock()
			transition, err := m.expireLocked(ctx, t, now)
			t.mu.Unlock()
			if err != nil {
				m.logger.Warn("failed to expire stale share session", "session", sess.ID, "error", err)
			} else if transition {
				m.notify(t.session, share.TransitionExpired)
			}
			continue
		}

		m.mu.Lock()
		if _, exists := m.byOwner[sess.OwnerID]; exists {
			m.mu.Unlock()
			m.logger.Warn("duplicate active share session ignored", "owner", sess.OwnerID, "session", sess.ID)
			continue
		}
		t := &tracked{session: sess}
		m.sessions[sess.ID] = t
		m.byOwner[sess.OwnerID] = sess.ID
		m.mu.Unlock()

		t.mu.Lock()
		m.scheduleLocked(t, now)
		t.mu.Unlock()

		resumed++
		m.notify(sess, share.TransitionStarted)
	}

	m.logger.Info("share manager started", "resumed", resumed)
	return nil
}

// StartSharing creates an active session at position, refreshes it once
// from the owner's current position and starts the refresh loop
func (m *Manager) StartSharing(ctx context.Context, ownerID string, position *geo.Position) (*share.Session, error) {
	if position == nil {
		return nil, share.ErrNoActiveOwnerPosition
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner_id: required", event.ErrWriteRejected)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("share manager stopped")
	}
	if _, exists := m.byOwner[ownerID]; exists {
		m.mu.Unlock()
		return nil, share.ErrAlreadySharing
	}
	// reserve the owner while the insert is in flight
	m.byOwner[ownerID] = ""
	m.mu.Unlock()

	now := m.clock.Now().UTC()
	pos := *position
	if pos.CapturedAt.IsZero() {
		pos.CapturedAt = now
	}

	rec, err := m.writer.Append(ctx, share.Session{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Position:  pos,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.config.TTL),
	})
	if err != nil {
		m.mu.Lock()
		delete(m.byOwner, ownerID)
		m.mu.Unlock()

		if errors.Is(err, event.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", share.ErrAlreadySharing, err)
		}
		return nil, fmt.Errorf("error creating share session: %w", err)
	}
	sess := rec.(share.Session)

	t := &tracked{session: sess}
	m.mu.Lock()
	m.sessions[sess.ID] = t
	m.byOwner[ownerID] = sess.ID
	m.mu.Unlock()

	m.metrics.ShareTransition(string(share.TransitionStarted))
	m.logger.Info("share session started", "session", sess.ID, "owner", ownerID, "expires_at", sess.ExpiresAt)
	m.notify(sess, share.TransitionStarted)

	t.mu.Lock()
	if !t.done {
		if err := m.refreshFromSourceLocked(ctx, t); err != nil {
			m.logger.Warn("initial share refresh failed", "session", sess.ID, "error", err)
		}
		if !t.done {
			m.scheduleLocked(t, m.clock.Now())
		}
	}
	current := t.session
	final, revoked := m.takeRevokedLocked(t)
	t.mu.Unlock()

	if revoked {
		m.revoked(final)
	}
	return &current, nil
}

// StopSharing revokes a session. Stopping an inactive session returns it
// unchanged. A store failure leaves the session active.
func (m *Manager) StopSharing(ctx context.Context, sessionID string) (*share.Session, error) {
	t := m.lookup(sessionID)
	if t == nil {
		return m.stopUntracked(ctx, sessionID)
	}

	t.mu.Lock()
	if t.done {
		current := t.session
		t.mu.Unlock()
		return &current, nil
	}

	now := m.clock.Now().UTC()
	stopped := t.session
	stopped.IsActive = false
	stopped.ExpiresAt = now
	stopped.UpdatedAt = now

	rec, err := m.writer.Update(ctx, stopped)
	if err != nil && !errors.Is(err, event.ErrNotFound) {
		t.mu.Unlock()
		return nil, fmt.Errorf("error stopping share session: %w", err)
	}
	if err == nil {
		stopped = rec.(share.Session)
	}
	m.finishLocked(t, stopped)
	t.mu.Unlock()

	m.metrics.ShareTransition(string(share.TransitionStopped))
	m.logger.Info("share session stopped", "session", sessionID, "owner", stopped.OwnerID)
	m.notify(stopped, share.TransitionStopped)
	return &stopped, nil
}

// stopUntracked handles sessions this process is not refreshing
func (m *Manager) stopUntracked(ctx context.Context, sessionID string) (*share.Session, error) {
	sess, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return sess, nil
	}

	now := m.clock.Now().UTC()
	stopped := *sess
	stopped.IsActive = false
	stopped.ExpiresAt = now
	stopped.UpdatedAt = now

	rec, err := m.writer.Update(ctx, stopped)
	if err != nil {
		return nil, fmt.Errorf("error stopping share session: %w", err)
	}
	stopped = rec.(share.Session)

	m.metrics.ShareTransition(string(share.TransitionStopped))
	m.notify(stopped, share.TransitionStopped)
	return &stopped, nil
}

// RefreshPosition writes position into an active session
func (m *Manager) RefreshPosition(ctx context.Context, sessionID string, position geo.Position) (*share.Session, error) {
	if err := position.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", event.ErrWriteRejected, err)
	}

	t := m.lookup(sessionID)
	if t == nil {
		return nil, fmt.Errorf("%w: no active share session %s", event.ErrNotFound, sessionID)
	}

	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: no active share session %s", event.ErrNotFound, sessionID)
	}

	now := m.clock.Now()
	if t.session.ExpiredAt(now) {
		expired, err := m.expireLocked(ctx, t, now)
		current := t.session
		t.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if expired {
			m.notify(current, share.TransitionExpired)
		}
		return nil, share.ErrLinkExpired
	}

	err := m.refreshLocked(ctx, t, position)
	current := t.session
	final, revoked := m.takeRevokedLocked(t)
	t.mu.Unlock()

	if revoked {
		m.revoked(final)
	}
	if err != nil {
		return nil, err
	}
	return &current, nil
}

// GetSession returns a session from the store of record
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*share.Session, error) {
	rec, err := m.writer.Get(ctx, event.KindShareSessions, sessionID)
	if err != nil {
		return nil, err
	}
	sess, ok := rec.(share.Session)
	if !ok {
		return nil, fmt.Errorf("unexpected record type %T", rec)
	}
	return &sess, nil
}

// ActiveSession returns the owner's active session, if any
func (m *Manager) ActiveSession(ownerID string) (*share.Session, bool) {
	m.mu.Lock()
	t := m.sessions[m.byOwner[ownerID]]
	m.mu.Unlock()

	if t == nil {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, false
	}
	current := t.session
	return &current, true
}

// ShareLink returns the public viewer URL for a session
func (m *Manager) ShareLink(sessionID string) string {
	return share.Link(m.config.LinkOrigin, sessionID)
}

// RegisterLifecycleHandler registers a callback for session transitions
func (m *Manager) RegisterLifecycleHandler(handler func(share.Session, share.Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = append(m.handlers, handler)
}

// Stop cancels every refresh loop and waits for in-flight ticks
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*tracked, 0, len(m.sessions))
	for _, t := range m.sessions {
		live = append(live, t)
	}
	m.mu.Unlock()

	for _, t := range live {
		t.mu.Lock()
		if t.timer != nil {
			t.timer.Stop()
		}
		t.mu.Unlock()
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick runs on the refresh timer
func (m *Manager) tick(sessionID string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	t := m.sessions[sessionID]
	m.mu.Unlock()
	defer m.wg.Done()

	if t == nil {
		return
	}

	t.mu.Lock()
	// a stop that won the race has already finished the session
	if t.done {
		t.mu.Unlock()
		return
	}

	now := m.clock.Now()
	if t.session.ExpiredAt(now) {
		expired, err := m.expireLocked(m.ctx, t, now)
		if err != nil {
			m.logger.Warn("share session expiry failed, retrying", "session", sessionID, "error", err)
			m.scheduleLocked(t, now)
		}
		current := t.session
		t.mu.Unlock()
		if expired {
			m.notify(current, share.TransitionExpired)
		}
		return
	}

	if err := m.refreshFromSourceLocked(m.ctx, t); err != nil {
		m.logger.Warn("share refresh failed", "session", sessionID, "error", err)
	}
	if !t.done {
		m.scheduleLocked(t, now)
	}
	final, revoked := m.takeRevokedLocked(t)
	t.mu.Unlock()

	if revoked {
		m.revoked(final)
	}
}

// scheduleLocked arms the next tick, no later than the expiry instant.
// A session already past expiry is retried a refresh interval later.
func (m *Manager) scheduleLocked(t *tracked, now time.Time) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	delay := m.config.RefreshInterval
	if untilExpiry := t.session.ExpiresAt.Sub(now); untilExpiry > 0 && untilExpiry < delay {
		delay = untilExpiry
	}

	id := t.session.ID
	t.timer = m.clock.AfterFunc(delay, func() { m.tick(id) })
}

// refreshFromSourceLocked writes the owner's current position if it
// differs from the session's
func (m *Manager) refreshFromSourceLocked(ctx context.Context, t *tracked) error {
	if m.positions == nil {
		return nil
	}
	pos, ok := m.positions.CurrentPosition(t.session.OwnerID)
	if !ok || pos.SameFix(t.session.Position) {
		return nil
	}
	return m.refreshLocked(ctx, t, pos)
}

func (m *Manager) refreshLocked(ctx context.Context, t *tracked, pos geo.Position) error {
	started := time.Now()

	updated := t.session
	updated.Position = pos
	updated.UpdatedAt = m.clock.Now().UTC()

	rec, err := m.writer.Update(ctx, updated)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			// the row was deactivated elsewhere
			final := t.session
			final.IsActive = false
			m.finishLocked(t, final)
			t.revoked = true
		}
		return fmt.Errorf("error refreshing share session: %w", err)
	}

	t.session = rec.(share.Session)
	m.metrics.ShareRefreshed(time.Since(started).Seconds())
	return nil
}

// expireLocked deactivates a session past its expiry. expiresAt is kept.
// It reports whether this call performed the transition.
func (m *Manager) expireLocked(ctx context.Context, t *tracked, now time.Time) (bool, error) {
	expired := t.session
	expired.IsActive = false
	expired.UpdatedAt = now.UTC()

	rec, err := m.writer.Update(ctx, expired)
	if err != nil && !errors.Is(err, event.ErrNotFound) {
		return false, fmt.Errorf("error expiring share session: %w", err)
	}
	if err == nil {
		expired = rec.(share.Session)
	}
	m.finishLocked(t, expired)

	m.metrics.ShareTransition(string(share.TransitionExpired))
	m.logger.Info("share session expired", "session", expired.ID, "owner", expired.OwnerID)
	return true, nil
}

// finishLocked marks the session inactive locally and drops it from the
// indexes
func (m *Manager) finishLocked(t *tracked, final share.Session) {
	t.done = true
	t.session = final
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}

	m.mu.Lock()
	delete(m.sessions, final.ID)
	if m.byOwner[final.OwnerID] == final.ID {
		delete(m.byOwner, final.OwnerID)
	}
	m.mu.Unlock()
}

// takeRevokedLocked returns the session when a refresh finished it and
// clears the flag, so the transition is announced once
func (m *Manager) takeRevokedLocked(t *tracked) (share.Session, bool) {
	if !t.revoked {
		return share.Session{}, false
	}
	t.revoked = false
	return t.session, true
}

// revoked announces a session that was deactivated outside this manager
func (m *Manager) revoked(sess share.Session) {
	m.metrics.ShareTransition(string(share.TransitionStopped))
	m.logger.Info("share session deactivated elsewhere", "session", sess.ID, "owner", sess.OwnerID)
	m.notify(sess, share.TransitionStopped)
}

func (m *Manager) lookup(sessionID string) *tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

func (m *Manager) notify(sess share.Session, transition share.Transition) {
	m.mu.Lock()
	handlers := make([]func(share.Session, share.Transition), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(sess, transition)
	}
}
