// Package memstore implements ember.Store and ember.Checkpointer in
// process memory. State is lost on restart; suitable for tests and
// short-lived agents.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/nevindra/ember"
)

// Store is an in-memory ember.Store.
type Store struct {
	mu sync.RWMutex
	// namespace key ("a/b") → item key → item
	data map[string]map[string]ember.StoreItem
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string]map[string]ember.StoreItem)}
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
		return nil
	}
	bucket[key] = ember.StoreItem{
		Namespace: append([]string(nil), namespace...),
		Key:       key,
		Value:     append(json.RawMessage(nil), value...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
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

	// Stable input order for deterministic ties.
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return ember.RankByKeyword(items, query, limit), nil
}

func (s *Store) Delete(_ context.Context, namespace []string, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nsKey := ember.NamespaceKey(namespace)
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
	return true, nil
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

// Checkpointer is an in-memory ember.Checkpointer.
type Checkpointer struct {
	mu   sync.RWMutex
	data map[string][]ember.Checkpoint // session id → snapshots, oldest first
}

// NewCheckpointer creates an empty in-memory checkpointer.
func NewCheckpointer() *Checkpointer {
	return &Checkpointer{data: make(map[string][]ember.Checkpoint)}
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
	// Newest first.
	for i, cp := range cps {
		out[len(cps)-1-i] = cp
	}
	return out, nil
}

func (c *Checkpointer) DeleteSession(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, sessionID)
	return nil
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
