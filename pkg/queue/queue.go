package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrEmpty is returned by Backend.Pop when nothing arrived within the wait.
var ErrEmpty = errors.New("queue: empty")

// Publisher enqueues messages for registered jobs.
type Publisher interface {
	Enqueue(ctx context.Context, msgType string, payload any) error
}

// Config contains the configuration for the queue.
type Config struct {
	Workers    int
	RetryLimit int
	RetryDelay time.Duration
	KeyPrefix  string
	// PollWait bounds one blocking pop so workers notice shutdown.
	PollWait time.Duration
}

// Message is the envelope stored in the backend.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Backend is the storage the queue runs on: a list for ready messages and a
// sorted set for delayed retries.
type Backend interface {
	Push(ctx context.Context, list string, data []byte) error
	Pop(ctx context.Context, list string, wait time.Duration) ([]byte, error)
	Schedule(ctx context.Context, set string, data []byte, at time.Time) error
	// Promote moves entries of set due at or before now to list.
	Promote(ctx context.Context, set, list string, now time.Time) (int, error)
	Len(ctx context.Context, list string) (int64, error)
}
