// Package audit records security-relevant actions as log entries.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/passkeygate/internal/logging"
	"github.com/dmitrijs2005/passkeygate/internal/server/metrics"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
	"github.com/dmitrijs2005/passkeygate/internal/timex"
)

// Appender is the part of the log store the audit logger writes through.
type Appender interface {
	Append(ctx context.Context, e models.LogEntry) (models.LogEntry, error)
}

// Extra carries the optional request details of an audit entry.
type Extra struct {
	Path      string
	UserAgent string
	IP        string
	Metadata  map[string]any
}

// Logger writes audit entries. In interactive mode entries only go to the
// console; otherwise they are appended to the log store. A failed append is
// reported to the diagnostic logger and never to the caller.
type Logger struct {
	store       Appender
	console     logging.Logger
	interactive bool
	timeout     time.Duration
	now         func() time.Time
}

func New(store Appender, console logging.Logger, interactive bool, timeout time.Duration) *Logger {
	return &Logger{
		store:       store,
		console:     console.With("module", "audit"),
		interactive: interactive,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Log records one entry. It returns once the write finished or timed out,
// whether or not the caller's context was canceled in the meantime.
func (l *Logger) Log(ctx context.Context, site, level, message string, extra Extra) {
	if l.interactive {
		l.console.Info(ctx, fmt.Sprintf("[%s] %s: %s", strings.ToUpper(level), site, message))
		return
	}

	e := models.LogEntry{
		Site:      site,
		Level:     level,
		Message:   message,
		Timestamp: timex.FormatISO(l.now()),
		Path:      extra.Path,
		UserAgent: extra.UserAgent,
		IP:        extra.IP,
		Metadata:  extra.Metadata,
	}

	wctx := context.WithoutCancel(ctx)
	if l.timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(wctx, l.timeout)
		defer cancel()
	}

	if _, err := l.store.Append(wctx, e); err != nil {
		metrics.RecordAuditFailure()
		l.console.Error(ctx, "failed to persist audit entry", "site", site, "message", message, "error", err)
	}
}
