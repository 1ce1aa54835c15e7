package runner

import "github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"

// StateStore manages persistence of run history.
type StateStore interface {
	// History returns finished runs, most recent first.
	History() []RunSummary
	// Logs returns the captured logs of a run, or nil if unknown.
	Logs(id string) []logging.LogEntry
	// Save records a finished run with its logs.
	Save(summary RunSummary, logs []logging.LogEntry) error
}
