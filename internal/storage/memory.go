// Package storage keeps the live conversion sessions of the synchronous
// server in memory, together with the result of each session's last run.
package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/dharsanguruparan/PixelDrop/internal/batch"
	"github.com/dharsanguruparan/PixelDrop/internal/result"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrNoResult is returned when a session has not completed a run yet.
	ErrNoResult = errors.New("session has no result")
)

type record struct {
	session   *batch.Session
	result    *result.BatchResult
	createdAt time.Time
	updatedAt time.Time
}

// MemoryStore is a session registry guarded by an RWMutex: lookups from
// concurrent requests share the read lock.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*record
	now      func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*record),
		now:      time.Now,
	}
}

// Create registers a session, replacing any session with the same id.
func (m *MemoryStore) Create(s *batch.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	m.sessions[s.ID] = &record{session: s, createdAt: now, updatedAt: now}
}

// Get returns the live session. Sessions synchronize themselves, so the
// pointer is shared rather than copied.
func (m *MemoryStore) Get(id string) (*batch.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.session, nil
}

// SaveResult stores the result of the session's latest run.
func (m *MemoryStore) SaveResult(id string, res *result.BatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	rec.result = res
	rec.updatedAt = m.now().UTC()
	return nil
}

// Result returns the last stored result for the session.
func (m *MemoryStore) Result(id string) (*result.BatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.result == nil {
		return nil, ErrNoResult
	}
	return rec.result, nil
}

// Delete drops the session and its result.
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Expire removes sessions untouched for longer than idle and returns how
// many were dropped. Sessions with a run in flight are kept.
func (m *MemoryStore) Expire(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().UTC().Add(-idle)
	n := 0
	for id, rec := range m.sessions {
		if rec.updatedAt.Before(cutoff) && !rec.session.InFlight() {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Touch marks the session as recently used.
func (m *MemoryStore) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.sessions[id]; ok {
		rec.updatedAt = m.now().UTC()
	}
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
