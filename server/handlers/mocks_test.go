package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/orchestrator"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/retryqueue"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/cron"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/runner"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/tracker"
)

var testRegistry = platform.DefaultRegistry()

type mockRunner struct {
	got     []orchestrator.Request
	summary runner.RunSummary
	err     error
	status  runner.RunStatus
	history []runner.RunSummary
	logs    map[string][]logging.LogEntry
}

func (m *mockRunner) Run(req orchestrator.Request) (runner.RunSummary, error) {
	m.got = append(m.got, req)
	return m.summary, m.err
}

func (m *mockRunner) Status() runner.RunStatus          { return m.status }
func (m *mockRunner) History() []runner.RunSummary      { return m.history }
func (m *mockRunner) Logs(id string) []logging.LogEntry { return m.logs[id] }

type mockSchedule struct {
	jobs []cron.JobInfo
}

func (m *mockSchedule) Jobs() []cron.JobInfo { return m.jobs }

type mockTasks struct {
	task     *tracker.Task
	err      error
	messages []tracker.Message
	limit    int
}

func (m *mockTasks) GetTask(ctx context.Context, tenantID string, p platform.Platform) (*tracker.Task, error) {
	return m.task, m.err
}

func (m *mockTasks) GetMessages(ctx context.Context, tenantID string, p platform.Platform, limit int) ([]tracker.Message, error) {
	m.limit = limit
	if limit < len(m.messages) {
		return m.messages[:limit], nil
	}
	return m.messages, nil
}

type mockBusiness struct {
	data orchestrator.BusinessData
	err  error
}

func (m *mockBusiness) GetBusinessData(ctx context.Context, tenantID string, p platform.Platform) (orchestrator.BusinessData, error) {
	return m.data, m.err
}

type mockQueue struct {
	added      []retryqueue.Failure
	addResult  retryqueue.AddResult
	batch      int
	processRes retryqueue.ProcessResult
	processErr error
	removeErr  error
	removed    []string
	stats      retryqueue.Stats
}

func (m *mockQueue) AddToQueue(ctx context.Context, f retryqueue.Failure) (retryqueue.AddResult, error) {
	m.added = append(m.added, f)
	return m.addResult, nil
}

func (m *mockQueue) ProcessQueue(ctx context.Context, batchSize int) (retryqueue.ProcessResult, error) {
	m.batch = batchSize
	return m.processRes, m.processErr
}

func (m *mockQueue) RemoveFromQueue(ctx context.Context, businessEntityID string, p platform.Platform) error {
	m.removed = append(m.removed, businessEntityID+"/"+string(p))
	return m.removeErr
}

func (m *mockQueue) GetStats(ctx context.Context) (retryqueue.Stats, error) {
	return m.stats, nil
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}
