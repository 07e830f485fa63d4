package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nugget/hermitd/internal/llm"
)

// DefaultMaxSessions is the table capacity when none is configured.
const DefaultMaxSessions = 16

// ErrCapacityExceeded is returned by [Manager.Create] when every session
// slot is live.
var ErrCapacityExceeded = errors.New("session capacity exceeded")

// Manager owns the session table and its free-id pool. Ids come from
// [0, capacity); the pool is FIFO, so the lowest id that has been free the
// longest is handed out first. At all times Len()+Free() == Capacity().
type Manager struct {
	provider llm.Provider
	opts     Options
	capacity int
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[int]*Session
	free     []int
}

// NewManager creates a Manager with capacity slots, obtaining a Generator
// from provider for every new session.
func NewManager(provider llm.Provider, capacity int, opts Options, logger *slog.Logger) *Manager {
	if capacity <= 0 {
		capacity = DefaultMaxSessions
	}
	if logger == nil {
		logger = slog.Default()
	}

	free := make([]int, capacity)
	for i := range free {
		free[i] = i
	}

	return &Manager{
		provider: provider,
		opts:     opts,
		capacity: capacity,
		logger:   logger,
		sessions: make(map[int]*Session, capacity),
		free:     free,
	}
}

// Create allocates a session for user and returns its id. If the provider
// fails, the id goes back to the head of the pool.
func (m *Manager) Create(user string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.free) == 0 {
		return 0, ErrCapacityExceeded
	}
	id := m.free[0]
	m.free = m.free[1:]

	gen, err := m.provider.Generator()
	if err != nil {
		m.free = append([]int{id}, m.free...)
		return 0, fmt.Errorf("obtain generator: %w", err)
	}

	m.sessions[id] = newSession(id, user, gen, m.opts)
	m.logger.Debug("session created", "session_id", id, "user", user, "free", len(m.free))
	return id, nil
}

// Destroy removes session id and returns its id to the tail of the pool.
// It reports whether a live session was removed; a non-live id is a no-op.
func (m *Manager) Destroy(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	m.free = append(m.free, id)
	m.logger.Debug("session destroyed", "session_id", id, "free", len(m.free))
	return true
}

// Lookup returns the live session with the given id.
func (m *Manager) Lookup(id int) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Free returns the number of ids available for new sessions.
func (m *Manager) Free() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.free)
}

// Capacity returns the fixed table size.
func (m *Manager) Capacity() int {
	return m.capacity
}
