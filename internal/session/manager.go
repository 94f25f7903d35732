package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/kilnai/kiln/internal/convo"
)

// Manager owns every live Session, keyed by its id (spec.md §4.7's
// "a server process holds one Session per open conversation"). It
// grounds its idle sweep on the donor gateway's cron.NewParser-based
// scheduling in internal/gateway/task_service.go, generalized here to
// cron.New()'s run-loop form since a fixed "@every 1m" interval (rather
// than a user-supplied expression) is all the sweep needs.
type Manager struct {
	eng         *Engine
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	cron *cron.Cron
}

// NewManager builds a Manager around eng. idleTimeout <= 0 disables the
// sweep (sessions are only ever removed by explicit Delete).
func NewManager(eng *Engine, idleTimeout time.Duration) *Manager {
	return &Manager{
		eng:         eng,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
	}
}

// Create starts a new Session over log for the given conversation id.
func (m *Manager) Create(conversationID string, log *convo.LogManager) *Session {
	s := &Session{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		log:            log,
		eng:            m.eng,
		state:          StateIdle,
		lastActivity:   time.Now().UTC(),
		clients:        make(map[string]chan Event),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if m.eng.Metrics != nil {
		m.eng.Metrics.ActiveSessions.Inc()
	}
	return s
}

// Get returns the session with the given id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete removes a session, e.g. once its conversation is closed.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	_, existed := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if existed && m.eng.Metrics != nil {
		m.eng.Metrics.ActiveSessions.Dec()
	}
}

// Count reports the number of currently tracked sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes every IDLE session that has been inactive for longer
// than idleTimeout. A session that is GENERATING or has tools pending
// is never swept regardless of age.
func (m *Manager) Sweep() {
	if m.idleTimeout <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-m.idleTimeout)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.state == StateIdle && s.lastActivity.Before(cutoff)
		s.mu.Unlock()
		if idle {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if m.eng.Metrics != nil {
		for range stale {
			m.eng.Metrics.ActiveSessions.Dec()
		}
	}
}

// StartSweep launches the periodic idle sweep and stops it once ctx is
// cancelled.
func (m *Manager) StartSweep(ctx context.Context) {
	if m.idleTimeout <= 0 {
		return
	}
	m.cron = cron.New()
	_, _ = m.cron.AddFunc("@every 1m", m.Sweep)
	m.cron.Start()

	go func() {
		<-ctx.Done()
		<-m.cron.Stop().Done()
	}()
}
