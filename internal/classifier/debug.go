package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"etenders/pkg/utils"
)

const debugPreviewChars = 1000

type debugArtifact struct {
	Error          string `json:"error"`
	Attempt        string `json:"attempt"`
	RawResponse    string `json:"raw_response"`
	CleanedJSON    string `json:"cleaned_json"`
	PDFTextPreview string `json:"pdf_text_preview"`
	Line           int    `json:"line,omitempty"`
	Column         int    `json:"column,omitempty"`
}

// writeDebugArtifact saves an unparseable reply for offline inspection and
// returns the file path.
func writeDebugArtifact(dir string, now time.Time, diag *Diagnostic, raw, input string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create debug dir: %w", err)
	}

	artifact := debugArtifact{
		Error:          diag.Error(),
		Attempt:        diag.Attempt,
		RawResponse:    raw,
		CleanedJSON:    diag.Cleaned,
		PDFTextPreview: utils.TruncateRunes(input, debugPreviewChars),
		Line:           diag.Line,
		Column:         diag.Column,
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal debug artifact: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("debug_llm_response_%s.json", now.Format("20060102_150405.000000")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write debug artifact: %w", err)
	}

	return path, nil
}
