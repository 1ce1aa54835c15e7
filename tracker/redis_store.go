package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps tasks and messages in Redis so several processes can
// share tracker state. Tasks are JSON strings; messages are capped lists
// with the newest entry at the head.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	messageTTL time.Duration
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix sets the namespace for all keys. Default is "tracker".
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithMessageTTL expires message lists after d of inactivity. Zero disables expiry.
func WithMessageTTL(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		s.messageTTL = d
	}
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "tracker",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetTask loads the task for key.
func (s *RedisStore) GetTask(ctx context.Context, key Key) (*Task, error) {
	data, err := s.client.Get(ctx, s.taskKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", key, err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decoding task %s: %w", key, err)
	}
	return &task, nil
}

// PutTask writes the task.
func (s *RedisStore) PutTask(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", task.Key(), err)
	}
	if err := s.client.Set(ctx, s.taskKey(task.Key()), data, 0).Err(); err != nil {
		return fmt.Errorf("writing task %s: %w", task.Key(), err)
	}
	return nil
}

// DeleteTask removes the task for key.
func (s *RedisStore) DeleteTask(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.taskKey(key)).Err(); err != nil {
		return fmt.Errorf("deleting task %s: %w", key, err)
	}
	return nil
}

// AppendMessage pushes msg to the head of the task's list and trims it to limit.
func (s *RedisStore) AppendMessage(ctx context.Context, msg Message, limit int) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	k := s.messagesKey(msg.TaskID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, k, data)
	if limit > 0 {
		pipe.LTrim(ctx, k, 0, int64(limit-1))
	}
	if s.messageTTL > 0 {
		pipe.Expire(ctx, k, s.messageTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending message for task %s: %w", msg.TaskID, err)
	}
	return nil
}

// Messages returns up to limit messages, most recent first.
func (s *RedisStore) Messages(ctx context.Context, taskID string, limit int) ([]Message, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	raw, err := s.client.LRange(ctx, s.messagesKey(taskID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("reading messages for task %s: %w", taskID, err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			// skip corrupt entries rather than hiding the rest of the log
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// DeleteMessages removes the task's message list.
func (s *RedisStore) DeleteMessages(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, s.messagesKey(taskID)).Err(); err != nil {
		return fmt.Errorf("deleting messages for task %s: %w", taskID, err)
	}
	return nil
}

func (s *RedisStore) taskKey(key Key) string {
	return fmt.Sprintf("%s:task:%s:%s", s.prefix, key.TenantID, key.Platform)
}

func (s *RedisStore) messagesKey(taskID string) string {
	return fmt.Sprintf("%s:messages:%s", s.prefix, taskID)
}
