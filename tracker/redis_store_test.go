package tracker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/keylock"
)

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore_TaskRoundTrip(t *testing.T) {
	mr, client := newRedisClient(t)
	store := NewRedisStore(client, WithKeyPrefix("wc"))
	ctx := context.Background()

	key := Key{TenantID: "t1", Platform: gmaps}
	_, err := store.GetTask(ctx, key)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	task := &Task{
		ID:         "task-1",
		TenantID:   "t1",
		Platform:   gmaps,
		Identifier: "place-1",
		Status:     StatusInProgress,
		TotalSteps: 3,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.PutTask(ctx, task))
	assert.True(t, mr.Exists("wc:task:t1:google_maps"))

	got, err := store.GetTask(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.Status, got.Status)
	assert.True(t, task.CreatedAt.Equal(got.CreatedAt))

	require.NoError(t, store.DeleteTask(ctx, key))
	_, err = store.GetTask(ctx, key)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRedisStore_MessagesCappedNewestFirst(t *testing.T) {
	mr, client := newRedisClient(t)
	store := NewRedisStore(client, WithMessageTTL(time.Hour))
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		msg := Message{ID: fmt.Sprint(i), TaskID: "task-1", Message: fmt.Sprintf("m%d", i)}
		require.NoError(t, store.AppendMessage(ctx, msg, 4))
	}

	msgs, err := store.Messages(ctx, "task-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "m6", msgs[0].Message)
	assert.Equal(t, "m3", msgs[3].Message)
	assert.Equal(t, time.Hour, mr.TTL("tracker:messages:task-1"))

	msgs, err = store.Messages(ctx, "task-1", 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	require.NoError(t, store.DeleteMessages(ctx, "task-1"))
	msgs, err = store.Messages(ctx, "task-1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestTracker_WithRedisStoreAndLock(t *testing.T) {
	_, client := newRedisClient(t)
	tr := newTestTracker(
		WithStore(NewRedisStore(client)),
		WithLocker(keylock.NewRedis(client, keylock.WithPollInterval(time.Millisecond))),
	)
	ctx := context.Background()

	_, err := tr.CreateTask(ctx, "t1", gmaps, "place-1")
	require.NoError(t, err)
	for _, step := range Steps() {
		_, err := tr.StartStep(ctx, "t1", gmaps, step, "start")
		require.NoError(t, err)
		_, err = tr.CompleteStep(ctx, "t1", gmaps, step, "done", nil)
		require.NoError(t, err)
	}

	task, err := tr.GetTask(ctx, "t1", gmaps)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 100, task.ProgressPercent)

	msgs, err := tr.GetMessages(ctx, "t1", gmaps, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 7)
	assert.Equal(t, StatusCompleted, msgs[0].Status)
}
