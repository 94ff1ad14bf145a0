package models

// Log levels accepted by the log store.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ValidLevel reports whether level is one of the four accepted levels.
func ValidLevel(level string) bool {
	switch level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// LogEntry is a single write-once audit or event record. Timestamp is
// ISO-8601; its first ten characters are the partition date.
type LogEntry struct {
	ID        string         `json:"id"`
	Site      string         `json:"site"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Path      string         `json:"path,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
