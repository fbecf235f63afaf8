// Package postgres implements ember.Store and ember.Checkpointer using
// PostgreSQL. Keyword search scoring runs in-process over the namespace's
// rows so ranking matches the other backends exactly.
//
// Both types accept an externally-owned *pgxpool.Pool via constructor
// injection; the caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/ember"
)

// Store implements ember.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the required tables.
func (s *Store) Init(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS store_items (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (namespace, key)
		)`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return &ember.ErrMemory{Op: "create store_items", Err: err}
	}
	return nil
}

func (s *Store) Put(ctx context.Context, namespace []string, key string, value json.RawMessage) error {
	now := ember.NowUnix()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO store_items (namespace, key, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		ember.NamespaceKey(namespace), key, string(value), now, now)
	if err != nil {
		return &ember.ErrMemory{Op: "put", Err: err}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, namespace []string, key string) (*ember.StoreItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT value, created_at, updated_at FROM store_items
		WHERE namespace = $1 AND key = $2`,
		ember.NamespaceKey(namespace), key)

	var value string
	var createdAt, updatedAt int64
	if err := row.Scan(&value, &createdAt, &updatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, &ember.ErrMemory{Op: "get", Err: err}
	}
	return &ember.StoreItem{
		Namespace: append([]string(nil), namespace...),
		Key:       key,
		Value:     json.RawMessage(value),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func (s *Store) Search(ctx context.Context, namespace []string, query string, limit int) ([]ember.StoreItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, value, created_at, updated_at FROM store_items
		WHERE namespace = $1 ORDER BY key`,
		ember.NamespaceKey(namespace))
	if err != nil {
		return nil, &ember.ErrMemory{Op: "search", Err: err}
	}
	defer rows.Close()

	var items []ember.StoreItem
	for rows.Next() {
		var key, value string
		var createdAt, updatedAt int64
		if err := rows.Scan(&key, &value, &createdAt, &updatedAt); err != nil {
			return nil, &ember.ErrMemory{Op: "search scan", Err: err}
		}
		items = append(items, ember.StoreItem{
			Namespace: append([]string(nil), namespace...),
			Key:       key,
			Value:     json.RawMessage(value),
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &ember.ErrMemory{Op: "search rows", Err: err}
	}
	return ember.RankByKeyword(items, query, limit), nil
}

func (s *Store) Delete(ctx context.Context, namespace []string, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM store_items WHERE namespace = $1 AND key = $2`,
		ember.NamespaceKey(namespace), key)
	if err != nil {
		return false, &ember.ErrMemory{Op: "delete", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListNamespaces(ctx context.Context, prefix []string) ([][]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT namespace FROM store_items ORDER BY namespace`)
	if err != nil {
		return nil, &ember.ErrMemory{Op: "list namespaces", Err: err}
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var nsKey string
		if err := rows.Scan(&nsKey); err != nil {
			return nil, &ember.ErrMemory{Op: "list namespaces scan", Err: err}
		}
		ns := ember.SplitNamespaceKey(nsKey)
		if ember.HasNamespacePrefix(ns, prefix) {
			out = append(out, ns)
		}
	}
	return out, rows.Err()
}

var _ ember.Store = (*Store)(nil)

// Checkpointer implements ember.Checkpointer backed by PostgreSQL.
type Checkpointer struct {
	pool *pgxpool.Pool
}

// NewCheckpointer creates a Checkpointer on an existing pool.
func NewCheckpointer(pool *pgxpool.Pool) *Checkpointer {
	return &Checkpointer{pool: pool}
}

// Init creates the required tables.
func (c *Checkpointer) Init(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			messages JSONB NOT NULL,
			created_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_session
			ON checkpoints (session_id, created_at)`
	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return &ember.ErrMemory{Op: "create checkpoints", Err: err}
	}
	return nil
}

func (c *Checkpointer) Put(ctx context.Context, sessionID string, messages []ember.Message) (string, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return "", &ember.ErrMemory{Op: "marshal checkpoint", Err: err}
	}
	id := ember.NewID()
	_, err = c.pool.Exec(ctx, `
		INSERT INTO checkpoints (checkpoint_id, session_id, messages, created_at)
		VALUES ($1, $2, $3, $4)`,
		id, sessionID, string(payload), ember.NowUnix())
	if err != nil {
		return "", &ember.ErrMemory{Op: "put checkpoint", Err: err}
	}
	return id, nil
}

func (c *Checkpointer) Get(ctx context.Context, sessionID string) (*ember.Checkpoint, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT checkpoint_id, messages, created_at FROM checkpoints
		WHERE session_id = $1
		ORDER BY created_at DESC, checkpoint_id DESC LIMIT 1`, sessionID)

	var id, payload string
	var createdAt int64
	if err := row.Scan(&id, &payload, &createdAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, &ember.ErrMemory{Op: "get checkpoint", Err: err}
	}
	return decodeCheckpoint(sessionID, id, payload, createdAt)
}

func (c *Checkpointer) List(ctx context.Context, sessionID string) ([]ember.Checkpoint, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT checkpoint_id, messages, created_at FROM checkpoints
		WHERE session_id = $1
		ORDER BY created_at DESC, checkpoint_id DESC`, sessionID)
	if err != nil {
		return nil, &ember.ErrMemory{Op: "list checkpoints", Err: err}
	}
	defer rows.Close()

	var out []ember.Checkpoint
	for rows.Next() {
		var id, payload string
		var createdAt int64
		if err := rows.Scan(&id, &payload, &createdAt); err != nil {
			return nil, &ember.ErrMemory{Op: "list checkpoints scan", Err: err}
		}
		cp, err := decodeCheckpoint(sessionID, id, payload, createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

func (c *Checkpointer) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := c.pool.Exec(ctx,
		`DELETE FROM checkpoints WHERE session_id = $1`, sessionID); err != nil {
		return &ember.ErrMemory{Op: "delete session", Err: err}
	}
	return nil
}

func (c *Checkpointer) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT DISTINCT session_id FROM checkpoints ORDER BY session_id`)
	if err != nil {
		return nil, &ember.ErrMemory{Op: "list sessions", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &ember.ErrMemory{Op: "list sessions scan", Err: err}
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var _ ember.Checkpointer = (*Checkpointer)(nil)

func decodeCheckpoint(sessionID, id, payload string, createdAt int64) (*ember.Checkpoint, error) {
	var messages []ember.Message
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		return nil, &ember.ErrMemory{Op: "unmarshal checkpoint " + id, Err: err}
	}
	return &ember.Checkpoint{
		SessionID:    sessionID,
		CheckpointID: id,
		Messages:     messages,
		CreatedAt:    createdAt,
	}, nil
}
