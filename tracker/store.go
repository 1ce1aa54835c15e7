package tracker

import "context"

// Store persists tasks and their messages.
//
// Implementations only need single-call atomicity; the Tracker serializes
// read-modify-write sequences per key through its keylock.Locker.
type Store interface {
	// GetTask returns the task for key, or ErrTaskNotFound.
	GetTask(ctx context.Context, key Key) (*Task, error)
	// PutTask creates or replaces the task for its key.
	PutTask(ctx context.Context, task *Task) error
	// DeleteTask removes the task for key. Deleting a missing task is not an error.
	DeleteTask(ctx context.Context, key Key) error
	// AppendMessage stores msg, keeping at most limit messages for its task.
	AppendMessage(ctx context.Context, msg Message, limit int) error
	// Messages returns up to limit messages for a task, most recent first.
	Messages(ctx context.Context, taskID string, limit int) ([]Message, error)
	// DeleteMessages removes all messages for a task.
	DeleteMessages(ctx context.Context, taskID string) error
}
