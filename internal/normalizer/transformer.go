package normalizer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"etenders/internal/apperr"
)

// Coercion errors. They are always wrapped as coercion failures.
var (
	ErrEmptyValue     = errors.New("empty value")
	ErrNotInteger     = errors.New("not an integer")
	ErrNotDecimal     = errors.New("not a decimal amount")
	ErrUnknownDateFmt = errors.New("no known date layout matched")
)

// ISOLayout is the layout of parsed dates. It carries no zone.
const ISOLayout = "2006-01-02T15:04:05"

// DefaultDateLayouts are tried in order; the first that consumes the whole value wins.
var DefaultDateLayouts = []string{
	"2-Jan-2006",
	"2-Jan-2006 15:04",
	"2-Jan-2006 15:04:05",
	time.UnixDate,
	"2/1/2006 15:04",
	"2/1/2006",
}

// Transformer coerces scraped text into typed values.
type Transformer struct {
	dateLayouts []string
}

// NewTransformer creates a new transformer instance.
func NewTransformer() *Transformer {
	return NewTransformerWithLayouts(DefaultDateLayouts)
}

// NewTransformerWithLayouts uses a custom ordered date layout list.
func NewTransformerWithLayouts(layouts []string) *Transformer {
	return &Transformer{dateLayouts: layouts}
}

// ParseInt parses a whole number such as a resource id or cycle.
func (t *Transformer) ParseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, coercion(ErrEmptyValue, s)
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, coercion(ErrNotInteger, s)
	}

	return n, nil
}

// ParseCurrency strips thousands separators, whitespace and currency symbols
// and parses what remains as a decimal amount.
func (t *Transformer) ParseCurrency(s string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) {
			return -1
		}

		return r
	}, s)

	if cleaned == "" {
		return 0, coercion(ErrEmptyValue, s)
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, coercion(ErrNotDecimal, s)
	}

	return v, nil
}

// ParseDate returns the value in ISOLayout when a known layout matches.
// Otherwise the trimmed original text is returned together with a coercion error,
// so callers keep something to show.
func (t *Transformer) ParseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}

	for _, layout := range t.dateLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.Format(ISOLayout), nil
		}
	}

	return s, coercion(ErrUnknownDateFmt, s)
}

func coercion(err error, value string) error {
	return apperr.Wrap(fmt.Errorf("%w: %q", err, value), apperr.CategoryCoercion, false)
}
