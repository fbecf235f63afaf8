package ember

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// StoreItem is a single record in a Store.
type StoreItem struct {
	Namespace []string        `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
	// Score is the keyword relevance, filled only on search results.
	Score *float64 `json:"score"`
}

// Store is namespaced key-value memory with keyword search. Namespaces are
// ordered string paths (e.g. ["alice","memories"]), joined with "/" for
// internal storage; implementations must keep distinct namespaces fully
// disjoint and serialize writes to the same key.
type Store interface {
	// Put writes or updates a record (upsert).
	Put(ctx context.Context, namespace []string, key string, value json.RawMessage) error
	// Get fetches by exact key; returns nil when absent.
	Get(ctx context.Context, namespace []string, key string) (*StoreItem, error)
	// Search returns up to limit items scored by keyword relevance,
	// descending. Items with zero relevance are omitted.
	Search(ctx context.Context, namespace []string, query string, limit int) ([]StoreItem, error)
	// Delete removes a key; reports whether it existed.
	Delete(ctx context.Context, namespace []string, key string) (bool, error)
	// ListNamespaces returns all namespaces matching the prefix
	// (nil prefix = all).
	ListNamespaces(ctx context.Context, prefix []string) ([][]string, error)
}

// NamespaceKey joins a namespace path with "/" for internal storage.
func NamespaceKey(namespace []string) string {
	return strings.Join(namespace, "/")
}

// SplitNamespaceKey reverses NamespaceKey.
func SplitNamespaceKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, "/")
}

// HasNamespacePrefix reports whether ns starts with prefix, element-wise.
func HasNamespacePrefix(ns, prefix []string) bool {
	if len(prefix) > len(ns) {
		return false
	}
	for i, p := range prefix {
		if ns[i] != p {
			return false
		}
	}
	return true
}

// --- Keyword search ---
//
// Shared by every Store backend so scoring stays consistent: tokenize the
// query, flatten the stored JSON value to text, score = matched tokens /
// total query tokens.

const tokenSeparators = " \t\n\r,.;:!?\"'()[]{}"

// QueryTokens tokenizes a search query: split on whitespace and common
// punctuation, drop tokens of length ≤ 1, lowercase.
func QueryTokens(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return strings.ContainsRune(tokenSeparators, r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, strings.ToLower(f))
		}
	}
	return tokens
}

// FlattenJSON renders a JSON value as searchable text: object keys and all
// scalar values, recursively, space-separated.
func FlattenJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	var b strings.Builder
	flattenValue(&b, v)
	return b.String()
}

func flattenValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		// Sort keys for deterministic output.
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte(' ')
			flattenValue(b, val[k])
		}
	case []any:
		for _, item := range val {
			flattenValue(b, item)
		}
	case string:
		b.WriteString(val)
		b.WriteByte(' ')
	case nil:
	default:
		// Numbers and booleans via the encoder's canonical form.
		enc, _ := json.Marshal(val)
		b.Write(enc)
		b.WriteByte(' ')
	}
}

// KeywordScore returns matched/total for the query tokens against text.
// Zero tokens score zero.
func KeywordScore(tokens []string, text string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, t := range tokens {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

// RankByKeyword scores items against query, keeps those with score > 0, and
// returns the top limit by descending score. Backends hand it their
// namespace's items; it fills each result's Score.
func RankByKeyword(items []StoreItem, query string, limit int) []StoreItem {
	tokens := QueryTokens(query)
	var scored []StoreItem
	for _, item := range items {
		score := KeywordScore(tokens, FlattenJSON(item.Value))
		if score > 0 {
			item.Score = &score
			scored = append(scored, item)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].Score > *scored[j].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
