// Package batch holds the pending entries of one conversion session and
// turns them into jobs when a run starts.
package batch

import (
	"errors"
	"sync"

	"github.com/dharsanguruparan/PixelDrop/internal/model"
)

var (
	// ErrEntryFrozen is returned when removing an entry that belongs to an
	// in-flight run.
	ErrEntryFrozen = errors.New("entry is part of a running batch")
	// ErrEmptyBatch is returned by BuildJobs when nothing is pending.
	ErrEmptyBatch = errors.New("batch has no entries")
	// ErrRunInFlight is returned by BuildJobs while a previous run is unfinished.
	ErrRunInFlight = errors.New("a batch run is already in flight")
)

// Session is the ordered set of entries a user has queued. Entries handed to
// a run move to a frozen set; further Add/Remove calls only touch the new
// pending set.
type Session struct {
	ID string

	mu       sync.RWMutex
	entries  []model.FileEntry
	format   model.Format
	frozen   map[string]struct{}
	inFlight bool
}

// NewSession builds an empty session. The selected format defaults to png.
func NewSession(id string) *Session {
	return &Session{
		ID:     id,
		format: model.FormatPNG,
		frozen: make(map[string]struct{}),
	}
}

// Add appends entry to the pending set.
func (s *Session) Add(entry model.FileEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

// Remove drops a pending entry. Unknown ids are ignored.
func (s *Session) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.frozen[id]; ok {
		return ErrEntryFrozen
	}
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// Snapshot returns the pending entries in insertion order. Payloads are
// shared, not copied.
func (s *Session) Snapshot() []model.FileEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FileEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of pending entries.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SelectFormat sets the target format used by the next run.
func (s *Session) SelectFormat(f model.Format) error {
	if !f.Valid() {
		return model.ErrUnknownFormat
	}
	s.mu.Lock()
	s.format = f
	s.mu.Unlock()
	return nil
}

// Format returns the selected target format.
func (s *Session) Format() model.Format {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.format
}

// BuildJobs snapshots the pending entries into one job per entry, all
// converting to target, and freezes those entries until FinishRun.
func (s *Session) BuildJobs(target model.Format) ([]*model.Job, error) {
	if !target.Valid() {
		return nil, model.ErrUnknownFormat
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return nil, ErrRunInFlight
	}
	if len(s.entries) == 0 {
		return nil, ErrEmptyBatch
	}
	jobs := make([]*model.Job, len(s.entries))
	for i, entry := range s.entries {
		jobs[i] = model.NewJob(i, entry, target)
		s.frozen[entry.ID] = struct{}{}
	}
	s.format = target
	s.entries = nil
	s.inFlight = true
	return jobs, nil
}

// InFlight reports whether a run built from this session is unfinished.
func (s *Session) InFlight() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight
}

// FinishRun releases the frozen entries of the last run. The entries are
// consumed by the run and do not return to the pending set.
func (s *Session) FinishRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = make(map[string]struct{})
	s.inFlight = false
}
