package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSectionsNotObject is returned when a section map is not a JSON object.
var ErrSectionsNotObject = errors.New("section map must be a JSON object")

// Section is one heading of an organized document and the text under it.
type Section struct {
	Heading string
	Text    string
}

// Sections is a heading to text map that keeps document order.
// It encodes as a JSON object.
type Sections []Section

// Get returns the text under heading.
func (s Sections) Get(heading string) (string, bool) {
	for _, sec := range s {
		if sec.Heading == heading {
			return sec.Text, true
		}
	}

	return "", false
}

// Set replaces the text of an existing heading or appends a new one.
func (s *Sections) Set(heading, text string) {
	for i := range *s {
		if (*s)[i].Heading == heading {
			(*s)[i].Text = text

			return
		}
	}

	*s = append(*s, Section{Heading: heading, Text: text})
}

// MarshalJSON writes the sections as an object in heading order.
func (s Sections) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, sec := range s {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(sec.Heading)
		if err != nil {
			return nil, err
		}

		val, err := json.Marshal(sec.Text)
		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keeping key order. Non-string values are kept
// as compact JSON text so nothing the service returned is lost.
func (s *Sections) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if tok == nil {
		*s = nil

		return nil
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrSectionsNotObject
	}

	var out Sections

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}

		heading, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("%w: unexpected key %v", ErrSectionsNotObject, keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		out.Set(heading, rawText(raw))
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = out

	return nil
}

// rawText renders a JSON value as plain text.
func rawText(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}

	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ""
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}

	return compact.String()
}
