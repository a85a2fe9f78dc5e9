package normalizer

import (
	"errors"
	"testing"

	"etenders/internal/apperr"
)

func TestNewTransformer(t *testing.T) {
	tr := NewTransformer()
	if tr == nil {
		t.Fatal("NewTransformer returned nil")
	}
}

func TestTransformer_ParseCurrency(t *testing.T) {
	tr := NewTransformer()

	tests := []struct {
		input   string
		want    float64
		wantErr error
	}{
		{"€50,000", 50000.0, nil},
		{"€1,234,567.89", 1234567.89, nil},
		{" 250000 ", 250000.0, nil},
		{"£ 1,000.50", 1000.50, nil},
		{"$7", 7, nil},
		{"", 0, ErrEmptyValue},
		{"€", 0, ErrEmptyValue},
		{"N/A", 0, ErrNotDecimal},
		{"NaN", 0, ErrNotDecimal},
		{"Inf", 0, ErrNotDecimal},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := tr.ParseCurrency(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseCurrency(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}

				if !apperr.Is(err, apperr.CategoryCoercion) {
					t.Errorf("expected coercion category, got %q", apperr.CategoryOf(err))
				}

				return
			}

			if err != nil {
				t.Fatalf("ParseCurrency(%q) unexpected error: %v", tt.input, err)
			}

			if got != tt.want {
				t.Errorf("ParseCurrency(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTransformer_ParseInt(t *testing.T) {
	tr := NewTransformer()

	if got, err := tr.ParseInt(" 6543210 "); err != nil || got != 6543210 {
		t.Errorf("ParseInt = %d, %v", got, err)
	}

	if _, err := tr.ParseInt("abc"); !errors.Is(err, ErrNotInteger) {
		t.Errorf("expected ErrNotInteger, got %v", err)
	}

	if _, err := tr.ParseInt(""); !errors.Is(err, ErrEmptyValue) {
		t.Errorf("expected ErrEmptyValue, got %v", err)
	}
}

func TestTransformer_ParseDate(t *testing.T) {
	tr := NewTransformer()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"day month year", "01-Dec-2025", "2025-12-01T00:00:00", false},
		{"single digit day", "5-Jan-2026", "2026-01-05T00:00:00", false},
		{"with time", "15-Dec-2025 17:00", "2025-12-15T17:00:00", false},
		{"slash with time", "03/11/2025 09:30", "2025-11-03T09:30:00", false},
		{"slash", "03/11/2025", "2025-11-03T00:00:00", false},
		{"unix date", "Mon Dec 01 12:30:00 GMT 2025", "2025-12-01T12:30:00", false},
		{"empty", "", "", false},
		{"unknown kept", "next Tuesday", "next Tuesday", true},
		{"iso passes through", "2025-12-01T00:00:00", "2025-12-01T00:00:00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.ParseDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}

			if got != tt.want {
				t.Errorf("ParseDate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTransformer_ParseDate_Idempotent(t *testing.T) {
	tr := NewTransformer()

	for _, in := range []string{"01-Dec-2025", "15-Dec-2025 17:00", "garbage"} {
		first, _ := tr.ParseDate(in)
		second, _ := tr.ParseDate(first)

		if first != second {
			t.Errorf("ParseDate not idempotent for %q: %q then %q", in, first, second)
		}
	}
}

func TestNewTransformerWithLayouts(t *testing.T) {
	tr := NewTransformerWithLayouts([]string{"2006.01.02"})

	got, err := tr.ParseDate("2025.12.01")
	if err != nil || got != "2025-12-01T00:00:00" {
		t.Errorf("ParseDate with custom layout = %q, %v", got, err)
	}
}
