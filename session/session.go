// session/session.go
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/methodiva/littleLetters/network"
)

var ErrNotConnected = errors.New("device not connected")

// Session is one device's open event channel.
type Session struct {
	ID         string
	DeviceID   string
	GameID     string
	Conn       network.Connection
	CreatedAt  time.Time
	lastActive time.Time
	mutex      sync.RWMutex
}

func NewSession(id, deviceID, gameID string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		DeviceID:   deviceID,
		GameID:     gameID,
		Conn:       conn,
		CreatedAt:  now,
		lastActive: now,
	}
}

func (s *Session) Send(msgID uint16, data []byte) error {
	s.Touch()
	return s.Conn.Send(msgID, data)
}

func (s *Session) Touch() {
	s.mutex.Lock()
	s.lastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Manager keeps at most one session per device.
type Manager struct {
	sessions map[string]*Session // deviceID -> session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// Add registers s for its device and returns the session it replaced, if any.
// The caller closes the replaced session.
func (m *Manager) Add(s *Session) *Session {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	old := m.sessions[s.DeviceID]
	m.sessions[s.DeviceID] = s
	return old
}

// Remove unregisters s unless a newer session took its device over.
func (m *Manager) Remove(s *Session) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	current, exists := m.sessions[s.DeviceID]
	if !exists || current.ID != s.ID {
		return false
	}
	delete(m.sessions, s.DeviceID)
	return true
}

func (m *Manager) Get(deviceID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[deviceID]
	return session, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// SendTo pushes a packet to a device.
func (m *Manager) SendTo(deviceID string, msgID uint16, data []byte) error {
	s, ok := m.Get(deviceID)
	if !ok {
		return ErrNotConnected
	}
	return s.Send(msgID, data)
}

// CloseAll closes every session, for shutdown.
func (m *Manager) CloseAll() {
	m.mutex.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mutex.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
