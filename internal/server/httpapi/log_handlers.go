package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/server/logstore"
	"github.com/dmitrijs2005/passkeygate/internal/server/metrics"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
	"github.com/dmitrijs2005/passkeygate/internal/timex"
	"golang.org/x/sync/errgroup"
)

// clientEvent is what the browser reports to /api/events.
type clientEvent struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	URL       string         `json:"url"`
	SessionID string         `json:"sessionId"`
	Device    any            `json:"device"`
	Data      map[string]any `json:"data"`
}

// ingestEntry is the body of /api/logs/ingest; the store assigns ids.
type ingestEntry struct {
	Site      string         `json:"site"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Path      string         `json:"path"`
	UserAgent string         `json:"userAgent"`
	IP        string         `json:"ip"`
	Metadata  map[string]any `json:"metadata"`
}

type countResponse struct {
	OK     bool `json:"ok"`
	Count  int  `json:"count"`
	Failed int  `json:"failed,omitempty"`
}

type logsResponse struct {
	Entries []models.LogEntry `json:"entries"`
	Sites   []string          `json:"sites"`
	Cursor  string            `json:"cursor,omitempty"`
	HasMore bool              `json:"hasMore"`
}

// decodeOneOrMany accepts either a JSON array of T or a single T.
func decodeOneOrMany[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
		}
		return out, nil
	}

	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	return []T{one}, nil
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	events, err := decodeOneOrMany[clientEvent](body)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	site := h.relyingParty(r).ID
	now := timex.FormatISO(h.now())
	entries := make([]models.LogEntry, 0, len(events))
	for _, ev := range events {
		// client clocks and formats are untrusted; the date partitions storage
		ts := ev.Timestamp
		if !logstore.ValidTimestamp(ts) {
			ts = now
		}

		meta := map[string]any{"source": "client"}
		if ev.SessionID != "" {
			meta["sessionId"] = ev.SessionID
		}
		if ev.Device != nil {
			meta["device"] = ev.Device
		}
		for k, v := range ev.Data {
			meta[k] = v
		}

		entries = append(entries, models.LogEntry{
			Site:      site,
			Level:     models.LevelInfo,
			Message:   ev.Event,
			Timestamp: ts,
			Path:      ev.URL,
			UserAgent: r.UserAgent(),
			Metadata:  meta,
		})
	}

	stored, err := h.logs.AppendBatch(r.Context(), entries)
	metrics.RecordAppends(len(stored), len(entries)-len(stored))
	if err != nil {
		h.logger.Error(r.Context(), "event batch partially failed", "site", site, "stored", len(stored), "total", len(entries), "error", err)
		h.writeJSON(w, r, http.StatusBadGateway, countResponse{OK: false, Count: len(stored), Failed: len(entries) - len(stored)})
		return
	}

	h.writeJSON(w, r, http.StatusOK, countResponse{OK: true, Count: len(stored)})
}

func (h *Handler) authorizeIngest(r *http.Request) bool {
	if h.logAPIKey == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, common.BearerPrefix) {
		return false
	}
	return common.ConstantTimeEqual(strings.TrimPrefix(header, common.BearerPrefix), h.logAPIKey)
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeIngest(r) {
		h.writeError(w, r, http.StatusUnauthorized, "invalid api key")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	in, err := decodeOneOrMany[ingestEntry](body)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	now := timex.FormatISO(h.now())
	entries := make([]models.LogEntry, 0, len(in))
	for i, e := range in {
		if e.Site == "" || e.Message == "" {
			h.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("entry %d: site and message are required", i))
			return
		}
		entry := models.LogEntry{
			Site:      e.Site,
			Level:     e.Level,
			Message:   e.Message,
			Timestamp: e.Timestamp,
			Path:      e.Path,
			UserAgent: e.UserAgent,
			IP:        e.IP,
			Metadata:  e.Metadata,
		}
		if entry.Level == "" {
			entry.Level = models.LevelInfo
		}
		if entry.Timestamp == "" {
			entry.Timestamp = now
		}
		if err := logstore.Validate(entry); err != nil {
			h.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("entry %d: %v", i, err))
			return
		}
		entries = append(entries, entry)
	}

	stored, err := h.logs.AppendBatch(r.Context(), entries)
	metrics.RecordAppends(len(stored), len(entries)-len(stored))
	if err != nil {
		h.logger.Error(r.Context(), "ingest batch partially failed", "stored", len(stored), "total", len(entries), "error", err)
		h.writeJSON(w, r, http.StatusBadGateway, countResponse{OK: false, Count: len(stored), Failed: len(entries) - len(stored)})
		return
	}

	h.writeJSON(w, r, http.StatusOK, countResponse{OK: true, Count: len(stored)})
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := logstore.ListOptions{
		Site:   q.Get("site"),
		Date:   q.Get("date"),
		Cursor: q.Get("cursor"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}

	var (
		page  *logstore.ListResult
		sites []string
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		page, err = h.logs.List(ctx, opts)
		return err
	})
	g.Go(func() error {
		var err error
		sites, err = h.logs.ListSites(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, common.ErrorValidation) {
			h.handleError(w, r, err)
			return
		}
		h.logger.Error(r.Context(), "listing logs failed", "error", err)
		h.writeError(w, r, http.StatusBadGateway, "log store unavailable")
		return
	}

	entries := page.Entries
	if entries == nil {
		entries = []models.LogEntry{}
	}
	h.writeJSON(w, r, http.StatusOK, logsResponse{
		Entries: entries,
		Sites:   sites,
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	})
}
