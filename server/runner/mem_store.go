package runner

import (
	"sync"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
)

// MemoryStore keeps run history in memory only.
type MemoryStore struct {
	maxCount int
	runs     []runRecord // most recent first
	mu       sync.Mutex
}

// NewMemoryStore creates an in-memory store keeping at most maxCount runs.
// A non-positive maxCount keeps everything.
func NewMemoryStore(maxCount int) *MemoryStore {
	return &MemoryStore{maxCount: maxCount}
}

// History returns all runs as summaries.
func (s *MemoryStore) History() []RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]RunSummary, len(s.runs))
	for i, run := range s.runs {
		result[i] = run.RunSummary
	}
	return result
}

// Logs returns the captured logs for a specific run.
func (s *MemoryStore) Logs(id string) []logging.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		if run.ID == id {
			return append([]logging.LogEntry(nil), run.Logs...)
		}
	}
	return nil
}

// Save stores a run in memory.
func (s *MemoryStore) Save(summary RunSummary, logs []logging.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append([]runRecord{{RunSummary: summary, Logs: logs}}, s.runs...)
	if s.maxCount > 0 && len(s.runs) > s.maxCount {
		s.runs = s.runs[:s.maxCount]
	}
	return nil
}
