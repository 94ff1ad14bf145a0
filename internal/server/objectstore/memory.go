package objectstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dmitrijs2005/passkeygate/internal/common"
)

// MemoryStore is an in-process Store. Listing order is lexicographic, the
// same order S3 uses.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return append([]byte(nil), b...), nil
}

// List pages over the ordered union of keys and folded folders. The cursor
// is the last entry returned, so concurrent writes never cause duplicates.
func (m *MemoryStore) List(ctx context.Context, in ListInput) (*ListOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	after := ""
	if in.Cursor != "" {
		raw, err := base64.RawURLEncoding.DecodeString(in.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: bad cursor", common.ErrorValidation)
		}
		after = string(raw)
	}

	type entry struct {
		name   string
		folder bool
	}

	m.mu.RLock()
	seen := make(map[string]struct{})
	entries := make([]entry, 0, len(m.objects))
	for key := range m.objects {
		if !strings.HasPrefix(key, in.Prefix) {
			continue
		}
		e := entry{name: key}
		if in.Delimiter != "" {
			rest := key[len(in.Prefix):]
			if i := strings.Index(rest, in.Delimiter); i >= 0 {
				e = entry{name: in.Prefix + rest[:i+len(in.Delimiter)], folder: true}
			}
		}
		if _, dup := seen[e.name]; dup {
			continue
		}
		seen[e.name] = struct{}{}
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	start := sort.Search(len(entries), func(i int) bool { return entries[i].name > after })
	limit := limitOrDefault(in.Limit)

	out := &ListOutput{Keys: []string{}, Folders: []string{}}
	end := start + limit
	if end > len(entries) {
		end = len(entries)
	}
	for _, e := range entries[start:end] {
		if e.folder {
			out.Folders = append(out.Folders, e.name)
		} else {
			out.Keys = append(out.Keys, e.name)
		}
	}

	if end < len(entries) {
		out.HasMore = true
		out.Cursor = base64.RawURLEncoding.EncodeToString([]byte(entries[end-1].name))
	}

	return out, nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
