package session

import (
	"context"
	"sync"
	"time"

	"toolstream/internal/logging"
	"toolstream/internal/toolcall"
	"toolstream/internal/toolerr"
)

const (
	DefaultRetention     = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// Listener observes session lifecycle and deliveries. Calls are made outside
// the manager's locks and must not block for long.
type Listener interface {
	SessionOpened(s *Session)
	SessionClosed(s *Session)
	ResultDelivered(sessionID string, res toolcall.Result)
}

type Options struct {
	// IdleTimeout drains sessions with no activity for this long. Zero disables.
	IdleTimeout time.Duration
	// Retention keeps closed sessions addressable so late sends report SessionClosed.
	Retention     time.Duration
	SweepInterval time.Duration
	Listener      Listener
	Logger        logging.Logger
	Now           func() time.Time
}

// Manager is the session table. The table lock guards membership only;
// per-session state and stream writes have their own locks.
type Manager struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Open allocates a session that owns stream.
func (m *Manager) Open(stream Stream) *Session {
	now := m.opts.Now()
	s := &Session{
		id:         NewID(),
		createdAt:  now,
		stream:     stream,
		state:      StateOpen,
		lastActive: now,
		inflight:   make(map[string]struct{}),
		used:       make(map[string]struct{}),
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.opts.Logger.Info("session opened", "session_id", s.id)
	m.opts.Listener.SessionOpened(s)
	return s
}

// Get returns the session, including a closed one still within retention.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s := m.sessions[id]
	m.mu.RUnlock()
	if s == nil {
		return nil, toolerr.New(toolerr.KindSessionNotFound, "session %q not found", id)
	}
	return s, nil
}

// Acquire reserves an in-flight slot for requestID. Only Open sessions accept
// new requests; a request id is accepted at most once per session.
func (m *Manager) Acquire(id, requestID string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return toolerr.New(toolerr.KindSessionClosed, "session %q is %s", id, s.state)
	}
	if _, dup := s.used[requestID]; dup {
		return toolerr.New(toolerr.KindProtocolError, "request %q already used in this session", requestID)
	}
	s.used[requestID] = struct{}{}
	s.inflight[requestID] = struct{}{}
	s.lastActive = m.opts.Now()
	return nil
}

// Release frees the slot taken by Acquire. A draining session with nothing
// left in flight closes here.
func (m *Manager) Release(id, requestID string) {
	s, err := m.Get(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	delete(s.inflight, requestID)
	closeNow := s.state == StateDraining && len(s.inflight) == 0
	s.mu.Unlock()
	if closeNow {
		m.finish(s, "drained")
	}
}

// Send writes res to the session's stream. Draining sessions still receive
// results; closed ones fail with SessionClosed.
func (m *Manager) Send(ctx context.Context, id string, res toolcall.Result) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return toolerr.New(toolerr.KindSessionClosed, "session %q is closed", id)
	}
	s.lastActive = m.opts.Now()
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.State() == StateClosed {
		return toolerr.New(toolerr.KindSessionClosed, "session %q is closed", id)
	}
	if err := s.stream.WriteResult(ctx, res); err != nil {
		return err
	}
	m.opts.Listener.ResultDelivered(id, res)
	return nil
}

// Drain stops the session accepting requests. It closes immediately when
// nothing is in flight.
func (m *Manager) Drain(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDraining
	pending := len(s.inflight)
	s.mu.Unlock()

	m.opts.Logger.Info("session draining", "session_id", id, "pending", pending)
	if pending == 0 {
		m.finish(s, "drained")
	}
	return nil
}

// Close terminates the session and releases its stream. Closing twice is a no-op.
func (m *Manager) Close(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	m.finish(s, "closed")
	return nil
}

func (m *Manager) finish(s *Session, reason string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.closedAt = m.opts.Now()
	lost := len(s.inflight)
	s.mu.Unlock()

	s.writeMu.Lock()
	err := s.stream.Close()
	s.writeMu.Unlock()

	logger := m.opts.Logger.With("session_id", s.id)
	if err != nil {
		logger.Warn("close session stream failed", "err", err.Error())
	}
	if lost > 0 {
		logger.Warn("session closed with requests in flight", "pending", lost)
	}
	logger.Info("session closed", "reason", reason)
	m.opts.Listener.SessionClosed(s)
}

// Sweep drains idle sessions and forgets closed ones past retention.
func (m *Manager) Sweep(now time.Time) (drained, purged int) {
	var expired []string
	for _, s := range m.snapshot() {
		s.mu.Lock()
		state, lastActive, closedAt := s.state, s.lastActive, s.closedAt
		s.mu.Unlock()

		switch {
		case state == StateOpen && m.opts.IdleTimeout > 0 && now.Sub(lastActive) >= m.opts.IdleTimeout:
			m.opts.Logger.Info("session idle", "session_id", s.id, "idle", now.Sub(lastActive).String())
			_ = m.Drain(s.id)
			drained++
		case state == StateClosed && now.Sub(closedAt) >= m.opts.Retention:
			expired = append(expired, s.id)
		}
	}

	if len(expired) > 0 {
		m.mu.Lock()
		for _, id := range expired {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
	}
	return drained, len(expired)
}

// Run sweeps until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(m.opts.Now())
		}
	}
}

// DrainAll drains every open session so no new requests are accepted.
func (m *Manager) DrainAll() {
	for _, s := range m.snapshot() {
		_ = m.Drain(s.id)
	}
}

// CloseAll closes every session. Used at shutdown.
func (m *Manager) CloseAll() {
	for _, s := range m.snapshot() {
		m.finish(s, "shutdown")
	}
}

func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of sessions not yet closed.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.State() != StateClosed {
			n++
		}
	}
	return n
}

type nopListener struct{}

func (nopListener) SessionOpened(*Session)                  {}
func (nopListener) SessionClosed(*Session)                  {}
func (nopListener) ResultDelivered(string, toolcall.Result) {}
