// Package normalizer coerces scraped tender rows into typed records.
package normalizer

import (
	"fmt"
	"strings"

	"etenders/internal/models"
)

// Processor turns a RawRecord into a NormalizedRecord.
type Processor struct {
	transformer *Transformer
}

// NewProcessor creates a new processor instance.
func NewProcessor() *Processor {
	return NewProcessorWithTransformer(NewTransformer())
}

// NewProcessorWithTransformer creates a processor with a custom transformer.
func NewProcessorWithTransformer(t *Transformer) *Processor {
	return &Processor{transformer: t}
}

// Process never fails. Fields that cannot be coerced are left absent (numbers)
// or unparsed (dates); the returned errors describe each degraded field.
func (p *Processor) Process(raw models.RawRecord) (models.NormalizedRecord, []error) {
	var issues []error

	rec := models.NormalizedRecord{RawRecord: raw}

	if id, err := p.transformer.ParseInt(raw.ResourceID); err == nil {
		rec.ResourceID = &id
	} else {
		issues = append(issues, fmt.Errorf("resource_id: %w", err))
	}

	if v, err := p.transformer.ParseCurrency(raw.EstimatedValue); err == nil {
		rec.EstimatedValueNumeric = &v
	} else if strings.TrimSpace(raw.EstimatedValue) != "" {
		issues = append(issues, fmt.Errorf("estimated_value: %w", err))
	}

	if c, err := p.transformer.ParseInt(raw.Cycle); err == nil {
		rec.CycleNumeric = &c
	} else if strings.TrimSpace(raw.Cycle) != "" {
		issues = append(issues, fmt.Errorf("cycle: %w", err))
	}

	dates := []struct {
		name string
		in   string
		out  *string
	}{
		{"date_published", raw.DatePublished, &rec.DatePublishedParsed},
		{"submission_deadline", raw.SubmissionDeadline, &rec.SubmissionDeadlineParsed},
		{"award_date", raw.AwardDate, &rec.AwardDateParsed},
	}

	for _, d := range dates {
		parsed, err := p.transformer.ParseDate(d.in)
		*d.out = parsed

		if err != nil {
			issues = append(issues, fmt.Errorf("%s: %w", d.name, err))
		}
	}

	rec.HasPDFURL = strings.TrimSpace(raw.NoticePDFURL) != ""
	rec.HasEstimatedValue = rec.EstimatedValueNumeric != nil
	rec.IsOpen = strings.EqualFold(strings.TrimSpace(raw.Status), "open")

	return rec, issues
}
