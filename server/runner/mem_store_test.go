package runner

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

func testSummary(id string, started time.Time) RunSummary {
	ended := started.Add(time.Minute)
	return RunSummary{
		ID:        id,
		Trigger:   TriggerManual,
		TenantID:  "tenant-1",
		Platform:  platform.GoogleMaps,
		State:     RunStateSucceeded,
		StartedAt: &started,
		EndedAt:   &ended,
	}
}

func TestMemoryStore_Save(t *testing.T) {
	store := NewMemoryStore(0)
	assert.Empty(t, store.History())

	summary := testSummary("run-1", time.Now())
	logs := []logging.LogEntry{{Level: "INFO", Message: "collection started"}}
	require.NoError(t, store.Save(summary, logs))

	history := store.History()
	require.Len(t, history, 1)
	assert.Equal(t, summary, history[0])
	assert.Equal(t, logs, store.Logs("run-1"))
	assert.Nil(t, store.Logs("unknown"))
}

func TestMemoryStore_MostRecentFirstAndBounded(t *testing.T) {
	store := NewMemoryStore(3)
	now := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(testSummary(fmt.Sprintf("run-%d", i), now.Add(time.Duration(i)*time.Hour)), nil))
	}

	history := store.History()
	require.Len(t, history, 3)
	assert.Equal(t, "run-4", history[0].ID)
	assert.Equal(t, "run-2", history[2].ID)
	assert.Nil(t, store.Logs("run-0"))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore(0)
	require.NoError(t, store.Save(testSummary("run-1", time.Now()), []logging.LogEntry{{Message: "a"}}))

	store.History()[0].Error = "mutated"
	store.Logs("run-1")[0].Message = "mutated"

	assert.Empty(t, store.History()[0].Error)
	assert.Equal(t, "a", store.Logs("run-1")[0].Message)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore(0)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Save(testSummary(fmt.Sprintf("run-%d", i), now), nil)
			_ = store.History()
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.History(), 20)
}
