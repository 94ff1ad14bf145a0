// Package objectstore is the key/blob service behind the log store and the
// enrolled dataset: put, get and prefix listing with optional folding on a
// delimiter. S3Store talks to any S3-compatible endpoint; MemoryStore keeps
// objects in process for interactive mode and tests.
package objectstore

import "context"

// DefaultListLimit bounds a single listing call when ListInput.Limit is unset.
const DefaultListLimit = 1000

// Store is a flat key/blob namespace.
type Store interface {
	// Put writes body under key, replacing any previous object.
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// Get returns the object stored under key or common.ErrorNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// List enumerates keys under a prefix, one page at a time.
	List(ctx context.Context, in ListInput) (*ListOutput, error)
}

// ListInput selects a page of keys. When Delimiter is set, keys sharing the
// next delimiter-terminated segment after Prefix are folded into Folders.
// Cursor is the opaque value from a previous ListOutput.
type ListInput struct {
	Prefix    string
	Delimiter string
	Limit     int
	Cursor    string
}

// ListOutput is one page of a listing. Cursor is empty when HasMore is false.
type ListOutput struct {
	Keys    []string
	Folders []string
	Cursor  string
	HasMore bool
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
