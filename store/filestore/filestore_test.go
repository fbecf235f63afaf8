package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nevindra/ember"
)

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	first := New(path)
	if err := first.Put(ctx, []string{"alice"}, "pref", json.RawMessage(`{"theme":"dark"}`)); err != nil {
		t.Fatal(err)
	}

	second := New(path)
	item, err := second.Get(ctx, []string{"alice"}, "pref")
	if err != nil {
		t.Fatal(err)
	}
	if item == nil || string(item.Value) != `{"theme":"dark"}` {
		t.Fatalf("reloaded item = %+v", item)
	}
}

func TestStoreFileFormat(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	s := New(path)
	s.Put(ctx, []string{"a", "b"}, "key1", json.RawMessage(`5`))

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Format: {"a/b": {"key1": {record}}}
	var decoded map[string]map[string]ember.StoreItem
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("file not in the documented format: %v", err)
	}
	rec, ok := decoded["a/b"]["key1"]
	if !ok {
		t.Fatalf("record missing: %v", decoded)
	}
	if rec.Score != nil {
		t.Error("stored record has a non-null score")
	}
}

func TestStoreCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(path)
	item, err := s.Get(context.Background(), []string{"ns"}, "k")
	if err != nil || item != nil {
		t.Errorf("corrupt file did not start empty: %+v, %v", item, err)
	}
}

func TestStoreNoTempFilesLeftBehind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := New(filepath.Join(dir, "store.json"))
	for i := 0; i < 5; i++ {
		s.Put(ctx, []string{"ns"}, "k", json.RawMessage(`1`))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want only store.json", names)
	}
}

func TestStoreDeletePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	s := New(path)
	s.Put(ctx, []string{"ns"}, "k", json.RawMessage(`1`))
	if deleted, err := s.Delete(ctx, []string{"ns"}, "k"); err != nil || !deleted {
		t.Fatalf("delete = %v, %v", deleted, err)
	}

	reopened := New(path)
	if item, _ := reopened.Get(ctx, []string{"ns"}, "k"); item != nil {
		t.Error("delete not persisted")
	}
}

func TestCheckpointerPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.json")

	first := NewCheckpointer(path)
	id, err := first.Put(ctx, "sess", []ember.Message{
		ember.SystemMessage("sys"),
		ember.UserMessage("hello"),
	})
	if err != nil {
		t.Fatal(err)
	}

	second := NewCheckpointer(path)
	cp, err := second.Get(ctx, "sess")
	if err != nil {
		t.Fatal(err)
	}
	if cp == nil || cp.CheckpointID != id || len(cp.Messages) != 2 {
		t.Fatalf("reloaded checkpoint = %+v", cp)
	}
	if cp.Messages[1].Content != "hello" {
		t.Errorf("message content = %q", cp.Messages[1].Content)
	}
}

func TestCheckpointerFileFormat(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.json")

	c := NewCheckpointer(path)
	c.Put(ctx, "sess-1", []ember.Message{ember.UserMessage("x")})
	c.Put(ctx, "sess-1", []ember.Message{ember.UserMessage("x"), ember.AssistantMessage("y")})

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Format: {"sess-1": [checkpoint, checkpoint]}
	var decoded map[string][]ember.Checkpoint
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("file not in the documented format: %v", err)
	}
	if len(decoded["sess-1"]) != 2 {
		t.Errorf("checkpoint array = %d entries", len(decoded["sess-1"]))
	}
}

func TestCheckpointerCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	os.WriteFile(path, []byte("[broken"), 0o644)

	c := NewCheckpointer(path)
	cp, err := c.Get(context.Background(), "sess")
	if err != nil || cp != nil {
		t.Errorf("corrupt file did not start empty: %+v, %v", cp, err)
	}
}
