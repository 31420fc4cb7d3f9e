package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session ended")
)

// Session is one open conversation. It remembers the last answered signal
// so the user's next message can be scored as the reply to it.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	AIName         string    `json:"ai_name,omitempty"`
	UserName       string    `json:"user_name,omitempty"`
	Status         Status    `json:"status"`
	Turns          int       `json:"turns"`
	LastSignalID   string    `json:"last_signal_id,omitempty"`
	LastResponseAt time.Time `json:"last_response_at,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Followup is the previous turn a new message replies to.
type Followup struct {
	SignalID       string
	ElapsedSeconds float64
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	now               func() time.Time
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID, aiName, userName string) *Session {
	now := m.now()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		AIName:         aiName,
		UserName:       userName,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// TakeFollowup returns the turn the next message in sessionID replies to and
// clears it, so each signal is scored at most once from the session.
func (m *Manager) TakeFollowup(sessionID string) (Followup, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Followup{}, false, ErrNotFound
	}
	if s.Status != StatusActive {
		return Followup{}, false, ErrEnded
	}
	now := m.now()
	s.LastActivityAt = now
	if s.LastSignalID == "" {
		return Followup{}, false, nil
	}
	f := Followup{
		SignalID:       s.LastSignalID,
		ElapsedSeconds: now.Sub(s.LastResponseAt).Seconds(),
	}
	s.LastSignalID = ""
	return f, true, nil
}

// RecordTurn stores the signal of the reply just sent.
func (m *Manager) RecordTurn(sessionID, signalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	s.Turns++
	s.LastSignalID = signalID
	s.LastResponseAt = now
	s.LastActivityAt = now
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.LastSignalID = ""
	s.LastActivityAt = m.now()
	return clone(s), nil
}

// EndUser ends every session of userID and returns how many were open.
func (m *Manager) EndUser(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.UserID != userID {
			continue
		}
		if s.Status == StatusActive {
			n++
		}
		delete(m.sessions, id)
	}
	return n
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// expireInactive ends idle sessions and forgets sessions that ended more
// than one timeout ago.
func (m *Manager) expireInactive() {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		idle := now.Sub(s.LastActivityAt)
		if s.Status != StatusActive {
			if idle >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if idle < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastSignalID = ""
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	cp := *s
	return &cp
}
