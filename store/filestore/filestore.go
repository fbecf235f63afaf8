// Package filestore implements ember.Store and ember.Checkpointer backed
// by JSON files. Every write serializes the full in-memory map and renames
// it into place, so readers never observe a torn file. On startup an
// existing file is loaded; a corrupt file logs a warning and the store
// starts empty.
package filestore

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nevindra/ember"
)

// Option configures a Store or Checkpointer.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets a structured logger for load warnings and save errors.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(discardHandler{})}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// saveJSON writes v to path atomically: marshal to a temp file in the same
// directory, then rename over the target.
func saveJSON(path string, v any) error {
	// Compact encoding keeps stored json.RawMessage values byte-for-byte.
	data, err := json.Marshal(v)
	if err != nil {
		return &ember.ErrMemory{Op: "marshal " + path, Err: err}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ember.ErrMemory{Op: "mkdir " + dir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &ember.ErrMemory{Op: "create temp for " + path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &ember.ErrMemory{Op: "write " + tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &ember.ErrMemory{Op: "close " + tmpName, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &ember.ErrMemory{Op: "rename " + tmpName, Err: err}
	}
	return nil
}

// loadJSON reads path into v. A missing file leaves v untouched and
// returns false; a corrupt file logs a warning and returns false.
func loadJSON(path string, v any, logger *slog.Logger) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("load failed, starting empty", "path", path, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.Warn("parse failed, starting empty", "path", path, "error", err)
		return false
	}
	return true
}

// --- Store ---

// Store is a file-backed ember.Store. The on-disk format is a JSON object
// mapping "ns1/ns2/..." to an object mapping keys to StoreItem records.
type Store struct {
	mu     sync.RWMutex
	path   string
	data   map[string]map[string]ember.StoreItem
	logger *slog.Logger
}

// New creates a file-backed store at path, loading existing contents.
func New(path string, opts ...Option) *Store {
	o := buildOptions(opts)
	s := &Store{
		path:   path,
		data:   make(map[string]map[string]ember.StoreItem),
		logger: o.logger,
	}
	loadJSON(path, &s.data, s.logger)
	return s
}

// save persists the whole map. Caller holds the write lock.
func (s *Store) save() error {
	return saveJSON(s.path, s.data)
}

func (s *Store) Put(_ context.Context, namespace []string, key string, value json.RawMessage) error {
	nsKey := ember.NamespaceKey(namespace)
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[nsKey]
	if !ok {
		bucket = make(map[string]ember.StoreItem)
		s.data[nsKey] = bucket
	}
	now := ember.NowUnix()
	if existing, ok := bucket[key]; ok {
		existing.Value = append(json.RawMessage(nil), value...)
		existing.UpdatedAt = now
		bucket[key] = existing
	} else {
		bucket[key] = ember.StoreItem{
			Namespace: append([]string(nil), namespace...),
			Key:       key,
			Value:     append(json.RawMessage(nil), value...),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return s.save()
}

func (s *Store) Get(_ context.Context, namespace []string, key string) (*ember.StoreItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.data[ember.NamespaceKey(namespace)]
	if !ok {
		return nil, nil
	}
	item, ok := bucket[key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) Search(_ context.Context, namespace []string, query string, limit int) ([]ember.StoreItem, error) {
	s.mu.RLock()
	bucket := s.data[ember.NamespaceKey(namespace)]
	items := make([]ember.StoreItem, 0, len(bucket))
	for _, item := range bucket {
		items = append(items, item)
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return ember.RankByKeyword(items, query, limit), nil
}

func (s *Store) Delete(_ context.Context, namespace []string, key string) (bool, error) {
	nsKey := ember.NamespaceKey(namespace)
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.data[nsKey]
	if !ok {
		return false, nil
	}
	if _, ok := bucket[key]; !ok {
		return false, nil
	}
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(s.data, nsKey)
	}
	return true, s.save()
}

func (s *Store) ListNamespaces(_ context.Context, prefix []string) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out [][]string
	for nsKey := range s.data {
		ns := ember.SplitNamespaceKey(nsKey)
		if ember.HasNamespacePrefix(ns, prefix) {
			out = append(out, ns)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return ember.NamespaceKey(out[i]) < ember.NamespaceKey(out[j])
	})
	return out, nil
}

var _ ember.Store = (*Store)(nil)

// --- Checkpointer ---

// Checkpointer is a file-backed ember.Checkpointer. The on-disk format is
// a JSON object mapping session ids to ordered arrays of checkpoints.
type Checkpointer struct {
	mu     sync.RWMutex
	path   string
	data   map[string][]ember.Checkpoint
	logger *slog.Logger
}

// NewCheckpointer creates a file-backed checkpointer at path, loading
// existing contents.
func NewCheckpointer(path string, opts ...Option) *Checkpointer {
	o := buildOptions(opts)
	c := &Checkpointer{
		path:   path,
		data:   make(map[string][]ember.Checkpoint),
		logger: o.logger,
	}
	loadJSON(path, &c.data, c.logger)
	return c
}

func (c *Checkpointer) Put(_ context.Context, sessionID string, messages []ember.Message) (string, error) {
	cp := ember.Checkpoint{
		SessionID:    sessionID,
		CheckpointID: ember.NewID(),
		Messages:     append([]ember.Message(nil), messages...),
		CreatedAt:    ember.NowUnix(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[sessionID] = append(c.data[sessionID], cp)
	if err := saveJSON(c.path, c.data); err != nil {
		return "", err
	}
	return cp.CheckpointID, nil
}

func (c *Checkpointer) Get(_ context.Context, sessionID string) (*ember.Checkpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cps := c.data[sessionID]
	if len(cps) == 0 {
		return nil, nil
	}
	latest := cps[len(cps)-1]
	return &latest, nil
}

func (c *Checkpointer) List(_ context.Context, sessionID string) ([]ember.Checkpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cps := c.data[sessionID]
	out := make([]ember.Checkpoint, len(cps))
	for i, cp := range cps {
		out[len(cps)-1-i] = cp
	}
	return out, nil
}

func (c *Checkpointer) DeleteSession(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[sessionID]; !ok {
		return nil
	}
	delete(c.data, sessionID)
	return saveJSON(c.path, c.data)
}

func (c *Checkpointer) ListSessions(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.data))
	for id := range c.data {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

var _ ember.Checkpointer = (*Checkpointer)(nil)
