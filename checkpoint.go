package ember

import "context"

// Checkpoint is a snapshot of a session's full message history.
type Checkpoint struct {
	SessionID    string    `json:"session_id"`
	CheckpointID string    `json:"checkpoint_id"`
	Messages     []Message `json:"messages"`
	CreatedAt    int64     `json:"created_at"`
}

// Checkpointer persists conversation snapshots per session. A session may
// accumulate many checkpoints; Get returns the latest. Checkpoints are
// at-least-saved: there is no exactly-once guarantee across restarts.
type Checkpointer interface {
	// Put saves a snapshot of messages and returns the new checkpoint id.
	Put(ctx context.Context, sessionID string, messages []Message) (string, error)
	// Get returns the latest checkpoint for the session, or nil.
	Get(ctx context.Context, sessionID string) (*Checkpoint, error)
	// List returns all checkpoints of the session, newest first.
	List(ctx context.Context, sessionID string) ([]Checkpoint, error)
	// DeleteSession removes every checkpoint of the session.
	DeleteSession(ctx context.Context, sessionID string) error
	// ListSessions returns all known session ids.
	ListSessions(ctx context.Context) ([]string, error)
}
