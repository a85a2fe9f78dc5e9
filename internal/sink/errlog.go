package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"etenders/internal/apperr"
	"etenders/pkg/utils"
)

// MaxPayloadWidth bounds the payload kept per error log entry, in display columns.
const MaxPayloadWidth = 500

// ErrorEntry is one line of the error log.
type ErrorEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	Component  string    `json:"component"`
	Category   string    `json:"category,omitempty"`
	Error      string    `json:"error"`
	ResourceID string    `json:"resource_id"`
	Payload    string    `json:"payload,omitempty"`
}

// ErrorLog appends failures as JSON lines for offline triage.
// A nil *ErrorLog or an empty path drops entries.
type ErrorLog struct {
	path  string
	runID string
	now   func() time.Time
	mu    sync.Mutex
}

// NewErrorLog creates an error log at path for the run runID.
func NewErrorLog(path, runID string) *ErrorLog {
	return &ErrorLog{
		path:  path,
		runID: runID,
		now:   time.Now,
	}
}

// Path returns the log file path.
func (l *ErrorLog) Path() string {
	if l == nil {
		return ""
	}

	return l.path
}

// Append writes one entry and syncs it to disk before returning.
func (l *ErrorLog) Append(component, resourceID string, cause error, payload any) error {
	if l == nil || l.path == "" {
		return nil
	}

	entry := ErrorEntry{
		Timestamp:  l.now().UTC(),
		RunID:      l.runID,
		Component:  component,
		Category:   string(apperr.CategoryOf(cause)),
		ResourceID: resourceID,
		Payload:    utils.TruncateWidth(payloadText(payload), MaxPayloadWidth),
	}

	if cause != nil {
		entry.Error = cause.Error()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode error entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create error log directory: %w", err)
		}
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open error log: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append error entry: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync error log: %w", err)
	}

	return nil
}

func payloadText(payload any) string {
	switch p := payload.(type) {
	case nil:
		return ""
	case string:
		return p
	case []byte:
		return string(p)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%+v", payload)
	}

	return string(data)
}
