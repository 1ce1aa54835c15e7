package tracker

import (
	"context"
	"sync"
)

// MemoryStore keeps tasks and messages in process memory.
type MemoryStore struct {
	tasks    map[Key]*Task
	messages map[string][]Message // task ID -> oldest first
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[Key]*Task),
		messages: make(map[string][]Message),
	}
}

// GetTask returns a copy of the task for key.
func (s *MemoryStore) GetTask(ctx context.Context, key Key) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[key]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// PutTask stores a copy of the task.
func (s *MemoryStore) PutTask(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.Key()] = task.Clone()
	return nil
}

// DeleteTask removes the task for key.
func (s *MemoryStore) DeleteTask(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, key)
	return nil
}

// AppendMessage stores msg and drops the oldest messages beyond limit.
func (s *MemoryStore) AppendMessage(ctx context.Context, msg Message, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.messages[msg.TaskID], msg)
	if limit > 0 && len(msgs) > limit {
		msgs = append([]Message(nil), msgs[len(msgs)-limit:]...)
	}
	s.messages[msg.TaskID] = msgs
	return nil
}

// Messages returns up to limit messages, most recent first.
func (s *MemoryStore) Messages(ctx context.Context, taskID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[taskID]
	n := len(msgs)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]Message, 0, n)
	for i := len(msgs) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, msgs[i])
	}
	return result, nil
}

// DeleteMessages removes all messages for a task.
func (s *MemoryStore) DeleteMessages(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, taskID)
	return nil
}
