package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Recovery attempt names, in ladder order.
const (
	AttemptStripFence  = "strip_fence"
	AttemptQuoteRepair = "quote_repair"
	AttemptFallback    = "fallback"
)

var (
	errNotObject = errors.New("top-level value is not a JSON object")
	errNoObject  = errors.New("no JSON object found")

	fenceJSONStart = regexp.MustCompile("^```json\\s*\\n")
	fenceEnd       = regexp.MustCompile("\\n```\\s*$")
	fenceStart     = regexp.MustCompile("^```\\s*\\n")
	objectSpan     = regexp.MustCompile(`(?s)\{.*\}`)
)

// Diagnostic describes why a reply could not be parsed.
type Diagnostic struct {
	Attempt string
	Message string
	Cleaned string
	Line    int
	Column  int
}

// Error implements error.
func (d *Diagnostic) Error() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s at line %d, column %d", d.Message, d.Line, d.Column)
	}

	return d.Message
}

// Recovered is a reply that parsed as a JSON object.
type Recovered struct {
	Document json.RawMessage
	Attempt  string
	// Failures lists the attempts that failed before Attempt succeeded.
	Failures []*Diagnostic
}

// attempt turns the previous stage's text into a parse candidate.
type attempt struct {
	name      string
	transform func(string) (string, error)
}

var ladder = []attempt{
	{AttemptStripFence, StripFence},
	{AttemptQuoteRepair, repairQuotes},
}

// Recover runs the ladder over a raw reply: strip a code fence and parse,
// then swap single quotes for double quotes, cut the widest {...} span and
// parse again. It stops at the first success. On failure the first
// diagnostic is returned, it carries the original parse error.
func Recover(text string) (*Recovered, *Diagnostic) {
	var failures []*Diagnostic

	candidate := text

	for _, step := range ladder {
		next, err := step.transform(candidate)
		if err != nil {
			failures = append(failures, &Diagnostic{Attempt: step.name, Message: err.Error(), Cleaned: candidate})

			continue
		}

		candidate = next

		doc, diag := parseObject(candidate)
		if diag == nil {
			return &Recovered{Document: doc, Attempt: step.name, Failures: failures}, nil
		}

		diag.Attempt = step.name
		failures = append(failures, diag)
	}

	return nil, failures[0]
}

// StripFence removes one leading and trailing fenced code block marker.
func StripFence(text string) (string, error) {
	out := fenceJSONStart.ReplaceAllString(text, "")
	out = fenceEnd.ReplaceAllString(out, "")
	out = fenceStart.ReplaceAllString(out, "")

	return strings.TrimSpace(out), nil
}

func repairQuotes(text string) (string, error) {
	fixed := strings.ReplaceAll(text, "'", `"`)

	span := objectSpan.FindString(fixed)
	if span == "" {
		return "", errNoObject
	}

	return span, nil
}

func parseObject(text string) (json.RawMessage, *Diagnostic) {
	data := []byte(text)

	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, syntaxDiagnostic(text, err)
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &Diagnostic{Message: errNotObject.Error(), Cleaned: text}
	}

	return raw, nil
}

func syntaxDiagnostic(text string, err error) *Diagnostic {
	diag := &Diagnostic{Message: err.Error(), Cleaned: text}

	var syntax *json.SyntaxError
	if errors.As(err, &syntax) {
		diag.Line, diag.Column = position(text, syntax.Offset)
	}

	return diag
}

// position converts a byte offset into a 1-based line and column.
func position(text string, offset int64) (int, int) {
	if offset > int64(len(text)) {
		offset = int64(len(text))
	}

	prefix := text[:offset]
	line := strings.Count(prefix, "\n") + 1
	col := int(offset) - strings.LastIndexByte(prefix, '\n')

	return line, col
}
