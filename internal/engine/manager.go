package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/utils"
)

// Manager keeps the open sessions by id. Sessions share the kiosk's camera
// and microphone, so opening one closes every other.
type Manager struct {
	deps Deps

	opening  sync.Mutex
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, sessions: make(map[string]*Session)}
}

func (m *Manager) Open(ctx context.Context, course models.Course, operatorID string) (*Session, error) {
	m.opening.Lock()
	defer m.opening.Unlock()

	m.CloseAll()
	s, err := open(ctx, m.deps, uuid.NewString(), course, operatorID, m.remove)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, utils.E(utils.CodeNotFound, "Manager.Get", "session not found", utils.ErrNotFound)
	}
	return s, nil
}

func (m *Manager) Close(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Close()
	return nil
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
