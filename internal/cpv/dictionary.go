// Package cpv loads the CPV reference dictionary and finds classification
// codes in tender text.
package cpv

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/kaptinlin/jsonschema"
)

//go:embed dictionary.schema.json
var dictionarySchema []byte

// Dictionary loading errors.
var (
	ErrInvalidDictionary = errors.New("invalid reference dictionary")
)

// Entry is one code and its description as stored in the dictionary file.
type Entry struct {
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description" yaml:"description"`
}

// Dictionary maps 8-digit codes to descriptions. It is never modified after
// construction and is safe for concurrent reads.
type Dictionary struct {
	entries map[string]string
	codes   []string
}

// NewDictionary builds a dictionary from entries. Check digits are stripped
// and the first description of a duplicated code wins.
func NewDictionary(entries []Entry) *Dictionary {
	d := &Dictionary{entries: make(map[string]string, len(entries))}

	for _, e := range entries {
		code := BaseCode(e.Code)
		if _, dup := d.entries[code]; dup {
			continue
		}

		d.entries[code] = strings.TrimSpace(e.Description)
		d.codes = append(d.codes, code)
	}

	return d
}

// LoadDictionary reads a JSON or YAML dictionary file.
func LoadDictionary(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference dictionary: %w", err)
	}

	dict, err := ParseDictionary(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return dict, nil
}

// ParseDictionary decodes and validates dictionary content.
func ParseDictionary(data []byte) (*Dictionary, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDictionary, err)
	}

	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDictionary, err)
	}

	if err := validate(asJSON); err != nil {
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(asJSON, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDictionary, err)
	}

	return NewDictionary(entries), nil
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.NewCompiler().Compile(dictionarySchema)
})

func validate(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile dictionary schema: %w", err)
	}

	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}

	return fmt.Errorf("%w: schema validation failed: %v", ErrInvalidDictionary, result.Errors)
}

// Lookup returns the description of code.
func (d *Dictionary) Lookup(code string) (string, bool) {
	desc, ok := d.entries[code]

	return desc, ok
}

// Contains reports whether code is in the dictionary.
func (d *Dictionary) Contains(code string) bool {
	_, ok := d.entries[code]

	return ok
}

// Len returns the number of distinct codes.
func (d *Dictionary) Len() int {
	return len(d.codes)
}

// Codes returns the codes in file order.
func (d *Dictionary) Codes() []string {
	return append([]string(nil), d.codes...)
}

// BaseCode drops a trailing "-N" check digit.
func BaseCode(code string) string {
	code = strings.TrimSpace(code)
	if i := strings.IndexByte(code, '-'); i >= 0 {
		return code[:i]
	}

	return code
}
