package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"geoattend/internal/apperr"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	byClass  map[string][]string
	records  map[string][]Record
	present  map[pair]string
}

type pair struct {
	sessionID string
	studentID string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		byClass:  make(map[string][]string),
		records:  make(map[string][]Record),
		present:  make(map[pair]string),
	}
}

// CreateSession stores s unless another session of the class blocks a start at now.
func (m *MemoryStore) CreateSession(_ context.Context, s Session, now time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.byClass[s.ClassID] {
		if m.sessions[id].BlocksStart(now) {
			return Session{}, apperr.ErrSessionAlreadyOpen
		}
	}
	m.sessions[s.ID] = s
	m.byClass[s.ClassID] = append(m.byClass[s.ClassID], s.ID)
	return s, nil
}

// GetSession returns the session with id.
func (m *MemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, apperr.ErrSessionNotFound
	}
	return s, nil
}

// ListSessions returns the class sessions, latest start first.
func (m *MemoryStore) ListSessions(_ context.Context, classID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.byClass[classID]))
	for _, id := range m.byClass[classID] {
		out = append(out, m.sessions[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartsAt.After(out[j].StartsAt) })
	return out, nil
}

// CloseSession marks an open session closed at at.
func (m *MemoryStore) CloseSession(_ context.Context, id string, at time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, apperr.ErrSessionNotFound
	}
	if s.Status != SessionOpen {
		return Session{}, apperr.ErrAlreadyClosed
	}
	s.Status = SessionClosed
	s.ClosedAt = &at
	m.sessions[id] = s
	return s, nil
}

// ActiveSession returns the class session accepting check-ins at now.
func (m *MemoryStore) ActiveSession(_ context.Context, classID string, now time.Time) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.byClass[classID] {
		if s := m.sessions[id]; s.ActiveAt(now) {
			return s, true, nil
		}
	}
	return Session{}, false, nil
}

// HasPresent reports whether the student is already marked present.
func (m *MemoryStore) HasPresent(_ context.Context, sessionID, studentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.present[pair{sessionID, studentID}]
	return ok, nil
}

// InsertPresent stores rec as the single present record of its pair.
func (m *MemoryStore) InsertPresent(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[rec.SessionID]; !ok {
		return Record{}, apperr.ErrSessionNotFound
	}
	k := pair{rec.SessionID, rec.StudentID}
	if _, ok := m.present[k]; ok {
		return Record{}, apperr.ErrDuplicateSubmission
	}
	rec.Status = StatusPresent
	m.present[k] = rec.ID
	m.records[rec.SessionID] = append(m.records[rec.SessionID], rec)
	return rec, nil
}

// ListRecords returns the session records in insertion order.
func (m *MemoryStore) ListRecords(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records[sessionID]))
	copy(out, m.records[sessionID])
	return out, nil
}
