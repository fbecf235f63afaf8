// Package sqlite implements ember.Store and ember.Checkpointer using
// pure-Go SQLite. Zero CGO required. Keyword search scoring runs
// in-process over the namespace's rows, so ranking matches the other
// backends exactly.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nevindra/ember"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a DB.
type Option func(*DB)

// WithLogger sets a structured logger for store operations.
func WithLogger(l *slog.Logger) Option {
	return func(d *DB) {
		if l != nil {
			d.logger = l
		}
	}
}

// DB implements ember.Store and ember.Checkpointer on one SQLite file.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) a SQLite-backed store at dbPath. A single shared
// connection serializes all writers, eliminating SQLITE_BUSY errors from
// concurrent goroutines.
func New(dbPath string, opts ...Option) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, &ember.ErrMemory{Op: "open sqlite " + dbPath, Err: err}
	}
	db.SetMaxOpenConns(1)
	d := &DB{db: db, logger: slog.New(discardHandler{})}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Init creates the required tables.
func (d *DB) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS store_items (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			messages TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_session
			ON checkpoints (session_id, created_at)`,
	}
	for _, ddl := range tables {
		if _, err := d.db.ExecContext(ctx, ddl); err != nil {
			return &ember.ErrMemory{Op: "create table", Err: err}
		}
	}
	d.logger.Debug("sqlite: schema ready")
	return nil
}

// Close releases the underlying connection.
func (d *DB) Close() error { return d.db.Close() }

// --- ember.Store ---

func (d *DB) Put(ctx context.Context, namespace []string, key string, value json.RawMessage) error {
	now := ember.NowUnix()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO store_items (namespace, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		ember.NamespaceKey(namespace), key, string(value), now, now)
	if err != nil {
		return &ember.ErrMemory{Op: "put", Err: err}
	}
	return nil
}

func (d *DB) Get(ctx context.Context, namespace []string, key string) (*ember.StoreItem, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT value, created_at, updated_at FROM store_items
		WHERE namespace = ? AND key = ?`,
		ember.NamespaceKey(namespace), key)

	var value string
	var createdAt, updatedAt int64
	if err := row.Scan(&value, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
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

func (d *DB) Search(ctx context.Context, namespace []string, query string, limit int) ([]ember.StoreItem, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT key, value, created_at, updated_at FROM store_items
		WHERE namespace = ? ORDER BY key`,
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

func (d *DB) Delete(ctx context.Context, namespace []string, key string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM store_items WHERE namespace = ? AND key = ?`,
		ember.NamespaceKey(namespace), key)
	if err != nil {
		return false, &ember.ErrMemory{Op: "delete", Err: err}
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (d *DB) ListNamespaces(ctx context.Context, prefix []string) ([][]string, error) {
	rows, err := d.db.QueryContext(ctx,
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

var _ ember.Store = (*DB)(nil)

// --- ember.Checkpointer ---

func (d *DB) PutCheckpoint(ctx context.Context, sessionID string, messages []ember.Message) (string, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return "", &ember.ErrMemory{Op: "marshal checkpoint", Err: err}
	}
	id := ember.NewID()
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO checkpoints (checkpoint_id, session_id, messages, created_at)
		VALUES (?, ?, ?, ?)`,
		id, sessionID, string(payload), ember.NowUnix())
	if err != nil {
		return "", &ember.ErrMemory{Op: "put checkpoint", Err: err}
	}
	return id, nil
}

// Checkpointer adapts the DB to the ember.Checkpointer method set. The
// Store and Checkpointer share one file, mirroring how deployments run one
// embedded database per agent host.
type Checkpointer struct{ db *DB }

// AsCheckpointer returns the checkpoint view of this database.
func (d *DB) AsCheckpointer() *Checkpointer { return &Checkpointer{db: d} }

func (c *Checkpointer) Put(ctx context.Context, sessionID string, messages []ember.Message) (string, error) {
	return c.db.PutCheckpoint(ctx, sessionID, messages)
}

func (c *Checkpointer) Get(ctx context.Context, sessionID string) (*ember.Checkpoint, error) {
	row := c.db.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, messages, created_at FROM checkpoints
		WHERE session_id = ?
		ORDER BY created_at DESC, checkpoint_id DESC LIMIT 1`, sessionID)

	cp, err := scanCheckpoint(row, sessionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (c *Checkpointer) List(ctx context.Context, sessionID string) ([]ember.Checkpoint, error) {
	rows, err := c.db.db.QueryContext(ctx, `
		SELECT checkpoint_id, messages, created_at FROM checkpoints
		WHERE session_id = ?
		ORDER BY created_at DESC, checkpoint_id DESC`, sessionID)
	if err != nil {
		return nil, &ember.ErrMemory{Op: "list checkpoints", Err: err}
	}
	defer rows.Close()

	var out []ember.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows, sessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

func (c *Checkpointer) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := c.db.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
		return &ember.ErrMemory{Op: "delete session", Err: err}
	}
	return nil
}

func (c *Checkpointer) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := c.db.db.QueryContext(ctx,
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner, sessionID string) (*ember.Checkpoint, error) {
	var id, payload string
	var createdAt int64
	if err := row.Scan(&id, &payload, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, &ember.ErrMemory{Op: "scan checkpoint", Err: err}
	}
	var messages []ember.Message
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		return nil, &ember.ErrMemory{Op: fmt.Sprintf("unmarshal checkpoint %s", id), Err: err}
	}
	return &ember.Checkpoint{
		SessionID:    sessionID,
		CheckpointID: id,
		Messages:     messages,
		CreatedAt:    createdAt,
	}, nil
}
