package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps every record in process. Used for local runs, tests and
// as the degraded-mode default.
type InMemoryStore struct {
	mu          sync.RWMutex
	memories    map[string][]ConversationMemory
	signals     map[string]Signal
	preferences map[string]Preference
	reports     map[string][]LearningReport
	now         func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		memories:    make(map[string][]ConversationMemory),
		signals:     make(map[string]Signal),
		preferences: make(map[string]Preference),
		reports:     make(map[string][]LearningReport),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) AppendMemory(_ context.Context, m ConversationMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stampMemory(&m, s.now())
	m.Themes = append([]string(nil), m.Themes...)
	s.memories[m.UserID] = append(s.memories[m.UserID], m)
	return nil
}

func (s *InMemoryStore) RecentMemories(_ context.Context, userID string, limit int) ([]ConversationMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.memories[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	out := append([]ConversationMemory(nil), arr...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) CreateSignal(_ context.Context, sig Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stampSignal(&sig, s.now())
	if _, ok := s.signals[sig.ID]; ok {
		return nil
	}
	s.signals[sig.ID] = sig
	return nil
}

func (s *InMemoryStore) GetSignal(_ context.Context, signalID string) (Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[signalID]
	if !ok {
		return Signal{}, ErrNotFound
	}
	return sig, nil
}

func (s *InMemoryStore) UpdateSignal(_ context.Context, signalID string, fn func(*Signal) error) (Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[signalID]
	if !ok {
		return Signal{}, ErrNotFound
	}
	if err := fn(&sig); err != nil {
		return Signal{}, err
	}
	sig.ID = signalID
	sig.UpdatedAt = s.now()
	s.signals[signalID] = sig
	return sig, nil
}

func (s *InMemoryStore) RecentSignals(_ context.Context, userID string, limit int) ([]Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Signal
	for _, sig := range s.signals {
		if sig.UserID == userID {
			out = append(out, sig)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) GetPreference(_ context.Context, id string) (Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[id]
	if !ok {
		return Preference{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemoryStore) PutPreference(_ context.Context, p Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = PreferenceID(p.UserID, p.Type, p.Value)
	}
	if prev, ok := s.preferences[p.ID]; ok && p.CreatedAt.IsZero() {
		p.CreatedAt = prev.CreatedAt
	}
	stampPreference(&p, s.now())
	s.preferences[p.ID] = p
	return nil
}

func (s *InMemoryStore) Preferences(_ context.Context, userID string) ([]Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Preference
	for _, p := range s.preferences {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) SignalsSince(_ context.Context, userID string, since time.Time) ([]Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Signal
	for _, sig := range s.signals {
		if sig.UserID == userID && !sig.CreatedAt.Before(since) {
			out = append(out, sig)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) ActiveUsers(_ context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, sig := range s.signals {
		if !seen[sig.UserID] && !sig.CreatedAt.Before(since) {
			seen[sig.UserID] = true
			out = append(out, sig.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryStore) SaveReport(_ context.Context, r LearningReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stampReport(&r, s.now())
	r.SuggestedAdaptations = append([]string(nil), r.SuggestedAdaptations...)
	s.reports[r.UserID] = append(s.reports[r.UserID], r)
	return nil
}

func (s *InMemoryStore) Reports(_ context.Context, userID string, limit int) ([]LearningReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]LearningReport(nil), s.reports[userID]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) EraseUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memories, userID)
	delete(s.reports, userID)
	for id, sig := range s.signals {
		if sig.UserID == userID {
			delete(s.signals, id)
		}
	}
	for id, p := range s.preferences {
		if p.UserID == userID {
			delete(s.preferences, id)
		}
	}
	return nil
}

func (s *InMemoryStore) Mode() string { return "memory" }

func (s *InMemoryStore) Close() error { return nil }
