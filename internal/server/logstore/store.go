// Package logstore keeps write-once log entries as individual JSON objects
// under logs/{site}/{date}/{id}.json and lists them back per site and date.
package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/logging"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
	"github.com/dmitrijs2005/passkeygate/internal/server/objectstore"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	rootPrefix = "logs/"
	dateLayout = "2006-01-02"

	DefaultLimit = 50
	MaxLimit     = 1000

	// fanOut bounds concurrent object writes and reads of one call.
	fanOut = 16
)

// ListOptions selects a page of entries. Date is honored only with Site.
type ListOptions struct {
	Site   string
	Date   string
	Limit  int
	Cursor string
}

// ListResult is one page, newest first. Cursor is empty when HasMore is false.
type ListResult struct {
	Entries []models.LogEntry `json:"entries"`
	Cursor  string            `json:"cursor,omitempty"`
	HasMore bool              `json:"hasMore"`
}

type Store struct {
	objects objectstore.Store
	logger  logging.Logger
	newID   func() (string, error)
}

func New(objects objectstore.Store, logger logging.Logger) *Store {
	return &Store{
		objects: objects,
		logger:  logger.With("module", "logstore"),
		newID:   newEntryID,
	}
}

// newEntryID returns a UUIDv7: the millisecond timestamp prefix keeps ids
// time ordered, the random tail keeps them unique.
func newEntryID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Validate checks an entry before it is written.
func Validate(e models.LogEntry) error {
	switch {
	case e.Site == "":
		return fmt.Errorf("%w: site is required", common.ErrorValidation)
	case strings.Contains(e.Site, "/"):
		return fmt.Errorf("%w: site must not contain '/'", common.ErrorValidation)
	case !models.ValidLevel(e.Level):
		return fmt.Errorf("%w: unknown level %q", common.ErrorValidation, e.Level)
	case !ValidTimestamp(e.Timestamp):
		return fmt.Errorf("%w: timestamp %q is not ISO-8601", common.ErrorValidation, e.Timestamp)
	}
	return nil
}

// ValidTimestamp reports whether ts is a calendar date (2006-01-02) or a full
// RFC 3339 timestamp. Its first ten characters become the partition key.
func ValidTimestamp(ts string) bool {
	if len(ts) < len(dateLayout) {
		return false
	}
	if _, err := time.Parse(dateLayout, ts[:len(dateLayout)]); err != nil {
		return false
	}
	if len(ts) == len(dateLayout) {
		return true
	}
	_, err := time.Parse(time.RFC3339Nano, ts)
	return err == nil
}

func objectKey(e models.LogEntry) string {
	return rootPrefix + e.Site + "/" + e.Timestamp[:10] + "/" + e.ID + ".json"
}

// Append assigns an id to the entry and stores it.
func (s *Store) Append(ctx context.Context, e models.LogEntry) (models.LogEntry, error) {
	if err := Validate(e); err != nil {
		return models.LogEntry{}, err
	}

	id, err := s.newID()
	if err != nil {
		return models.LogEntry{}, fmt.Errorf("generate log id: %w", err)
	}
	e.ID = id

	body, err := json.Marshal(e)
	if err != nil {
		return models.LogEntry{}, fmt.Errorf("encode log entry: %w", err)
	}

	if err := s.objects.Put(ctx, objectKey(e), body, "application/json"); err != nil {
		return models.LogEntry{}, fmt.Errorf("put log entry: %w", err)
	}

	return e, nil
}

// AppendBatch appends every entry concurrently and waits for all of them.
// One failed entry does not stop the others; the stored entries are returned
// in input order together with the joined failures.
func (s *Store) AppendBatch(ctx context.Context, entries []models.LogEntry) ([]models.LogEntry, error) {
	stored := make([]models.LogEntry, len(entries))
	errs := make([]error, len(entries))
	ok := make([]bool, len(entries))

	var g errgroup.Group
	g.SetLimit(fanOut)
	for i := range entries {
		g.Go(func() error {
			e, err := s.Append(ctx, entries[i])
			if err != nil {
				errs[i] = fmt.Errorf("entry %d: %w", i, err)
				return nil
			}
			stored[i], ok[i] = e, true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.LogEntry, 0, len(entries))
	for i := range stored {
		if ok[i] {
			out = append(out, stored[i])
		}
	}
	return out, errors.Join(errs...)
}

func listPrefix(opts ListOptions) string {
	prefix := rootPrefix
	if opts.Site != "" {
		prefix += opts.Site + "/"
		if opts.Date != "" {
			prefix += opts.Date + "/"
		}
	}
	return prefix
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// List returns one page of entries. The limit bounds the objects listed, so
// a page holds fewer entries when some objects cannot be read or parsed.
func (s *Store) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if strings.Contains(opts.Site, "/") || strings.Contains(opts.Date, "/") {
		return nil, fmt.Errorf("%w: site and date must not contain '/'", common.ErrorValidation)
	}

	page, err := s.objects.List(ctx, objectstore.ListInput{
		Prefix: listPrefix(opts),
		Limit:  clampLimit(opts.Limit),
		Cursor: opts.Cursor,
	})
	if err != nil {
		return nil, fmt.Errorf("list log objects: %w", err)
	}

	fetched := make([]*models.LogEntry, len(page.Keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, key := range page.Keys {
		g.Go(func() error {
			fetched[i] = s.fetch(gctx, key)
			return nil
		})
	}
	_ = g.Wait()

	res := &ListResult{Entries: make([]models.LogEntry, 0, len(fetched)), HasMore: page.HasMore}
	if page.HasMore {
		res.Cursor = page.Cursor
	}
	for _, e := range fetched {
		if e != nil {
			res.Entries = append(res.Entries, *e)
		}
	}

	sortNewestFirst(res.Entries)
	return res, nil
}

// fetch reads one object; unreadable or malformed objects yield nil.
func (s *Store) fetch(ctx context.Context, key string) *models.LogEntry {
	raw, err := s.objects.Get(ctx, key)
	if err != nil {
		s.logger.Warn(ctx, "skipping unreadable log object", "key", key, "error", err)
		return nil
	}

	var e models.LogEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		s.logger.Warn(ctx, "skipping malformed log object", "key", key, "error", err)
		return nil
	}
	if e.ID == "" || e.Site == "" || e.Timestamp == "" {
		s.logger.Warn(ctx, "skipping incomplete log object", "key", key)
		return nil
	}
	return &e
}

func sortNewestFirst(entries []models.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp > entries[j].Timestamp
		}
		return entries[i].ID > entries[j].ID
	})
}

// ListSites returns every site that has at least one entry, sorted.
func (s *Store) ListSites(ctx context.Context) ([]string, error) {
	sites := []string{}
	cursor := ""
	for {
		page, err := s.objects.List(ctx, objectstore.ListInput{
			Prefix:    rootPrefix,
			Delimiter: "/",
			Cursor:    cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("list log sites: %w", err)
		}

		for _, folder := range page.Folders {
			site := strings.TrimSuffix(strings.TrimPrefix(folder, rootPrefix), "/")
			if site != "" {
				sites = append(sites, site)
			}
		}

		if !page.HasMore || page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	sort.Strings(sites)
	return sites, nil
}
