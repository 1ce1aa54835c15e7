package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
)

// DiskStore persists run history to disk, one JSON file per run.
type DiskStore struct {
	dir      string
	logger   *slog.Logger
	maxCount int

	mu        sync.Mutex
	summaries []RunSummary                  // most recent first
	logs      map[string][]logging.LogEntry // by run ID
	files     map[string]string             // run ID -> file path
}

// NewDiskStore creates a disk-backed store keeping at most maxCount runs.
// The directory is created if it doesn't exist, and existing runs are loaded.
func NewDiskStore(dir string, maxCount int, logger *slog.Logger) (*DiskStore, error) {
	if maxCount <= 0 {
		return nil, fmt.Errorf("max count must be positive, got %d", maxCount)
	}
	s := &DiskStore{
		dir:      dir,
		logger:   logger.With("component", "run_store"),
		maxCount: maxCount,
		logs:     make(map[string][]logging.LogEntry),
		files:    make(map[string]string),
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	if err := s.Reload(); err != nil {
		s.logger.Warn("failed to load existing runs", "error", err)
	}
	return s, nil
}

// History returns all runs as summaries.
func (s *DiskStore) History() []RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]RunSummary, len(s.summaries))
	copy(result, s.summaries)
	return result
}

// Logs returns the captured logs for a specific run.
func (s *DiskStore) Logs(id string) []logging.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if logs, ok := s.logs[id]; ok {
		return append([]logging.LogEntry(nil), logs...)
	}
	return nil
}

// Save writes the run to disk and prunes files beyond maxCount.
func (s *DiskStore) Save(summary RunSummary, logs []logging.LogEntry) error {
	if summary.StartedAt == nil {
		return errors.New("cannot save run without start time")
	}
	if summary.ID == "" {
		return errors.New("cannot save run without ID")
	}

	data, err := json.MarshalIndent(runRecord{RunSummary: summary, Logs: logs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	path := filepath.Join(s.dir, fileName(summary))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}

	s.summaries = append([]RunSummary{summary}, s.summaries...)
	s.logs[summary.ID] = logs
	s.files[summary.ID] = path

	for len(s.summaries) > s.maxCount {
		oldest := s.summaries[len(s.summaries)-1]
		s.summaries = s.summaries[:len(s.summaries)-1]
		delete(s.logs, oldest.ID)
		if file, ok := s.files[oldest.ID]; ok {
			if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("failed to prune run file", "file", file, "error", err)
			}
			delete(s.files, oldest.ID)
		}
	}

	s.logger.Debug("saved run to disk", "path", path)
	return nil
}

// Reload re-loads all runs from disk.
func (s *DiskStore) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read state directory: %w", err)
	}

	type loaded struct {
		record runRecord
		path   string
	}
	var runs []loaded
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read run file", "file", path, "error", err)
			continue
		}

		var rec runRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("failed to parse run file", "file", path, "error", err)
			continue
		}
		if rec.ID == "" || rec.StartedAt == nil {
			s.logger.Warn("skipping incomplete run file", "file", path)
			continue
		}
		runs = append(runs, loaded{record: rec, path: path})
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].record.StartedAt.After(*runs[j].record.StartedAt)
	})
	if len(runs) > s.maxCount {
		runs = runs[:s.maxCount]
	}

	summaries := make([]RunSummary, len(runs))
	logs := make(map[string][]logging.LogEntry, len(runs))
	files := make(map[string]string, len(runs))
	for i, run := range runs {
		summaries[i] = run.record.RunSummary
		logs[run.record.ID] = run.record.Logs
		files[run.record.ID] = run.path
	}

	s.mu.Lock()
	s.summaries = summaries
	s.logs = logs
	s.files = files
	s.mu.Unlock()

	s.logger.Info("loaded run history from disk", "count", len(summaries))
	return nil
}

// fileName is the start time plus a short ID so concurrent runs never
// collide: 2006-01-02T15-04-05-1a2b3c4d.json
func fileName(s RunSummary) string {
	short := s.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return s.StartedAt.UTC().Format("2006-01-02T15-04-05") + "-" + short + ".json"
}
