package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Separator joins nested keys in flattened column names.
const Separator = "_"

var errNotObject = errors.New("record does not encode to a JSON object")

// Field is one flattened column.
type Field struct {
	Key   string
	Value string
}

// Flatten encodes v as JSON and flattens it into ordered columns. Nested
// objects become prefix_key columns, arrays are kept as compact JSON text,
// null becomes an empty value and strings lose their quotes.
func Flatten(v any) ([]Field, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, errNotObject
	}

	var fields []Field
	if err := flattenObject("", data, &fields); err != nil {
		return nil, err
	}

	return fields, nil
}

func flattenObject(prefix string, data []byte, fields *[]Field) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}

		key, _ := tok.(string)
		if prefix != "" {
			key = prefix + Separator + key
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("failed to read value of %s: %w", key, err)
		}

		if err := flattenValue(key, raw, fields); err != nil {
			return err
		}
	}

	return nil
}

func flattenValue(key string, raw json.RawMessage, fields *[]Field) error {
	raw = bytes.TrimSpace(raw)

	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		*fields = append(*fields, Field{Key: key})
	case raw[0] == '{':
		return flattenObject(key, raw, fields)
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}

		*fields = append(*fields, Field{Key: key, Value: s})
	case raw[0] == '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return fmt.Errorf("failed to compact %s: %w", key, err)
		}

		*fields = append(*fields, Field{Key: key, Value: buf.String()})
	default:
		*fields = append(*fields, Field{Key: key, Value: string(raw)})
	}

	return nil
}
