package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"etenders/internal/models"
)

// TimestampLayout stamps output file names.
const TimestampLayout = "20060102_150405"

// FilePath returns <dir>/<format>/<table>_<timestamp>.<format>.
func FilePath(dir, format string, kind models.Kind, ts time.Time) string {
	return filepath.Join(dir, format, fmt.Sprintf("%s_%s.%s", kind, ts.Format(TimestampLayout), format))
}

// CreateFile creates the output file for kind, creating directories as needed.
func CreateFile(dir, format string, kind models.Kind, ts time.Time) (*os.File, error) {
	path := FilePath(dir, format, kind, ts)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	return f, nil
}
