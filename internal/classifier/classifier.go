package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"etenders/internal/apperr"
	"etenders/internal/logger"
	"etenders/internal/models"
	"etenders/pkg/utils"
)

// Observer is notified of the recovery attempt that produced each result.
type Observer interface {
	ObserveRecovery(attempt string)
}

// Options configure a Classifier.
type Options struct {
	DebugDir string
	MaxChars int
	Debug    bool
}

// Result is the organized form of one document.
type Result struct {
	Metadata   models.Metadata
	Sections   models.Sections
	ParseError string
	Quality    models.Quality
	Attempt    string
}

// Classifier organizes notice text into metadata and sections.
type Classifier struct {
	service  Service
	logger   *logger.Logger
	observer Observer
	now      func() time.Time
	opts     Options
}

// DefaultMaxChars bounds the text sent per call.
const DefaultMaxChars = 15000

// New creates a classifier.
func New(service Service, opts Options, log *logger.Logger) *Classifier {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}

	return &Classifier{
		service: service,
		logger:  log,
		now:     time.Now,
		opts:    opts,
	}
}

// WithObserver sets the recovery observer.
func (c *Classifier) WithObserver(o Observer) *Classifier {
	c.observer = o

	return c
}

type envelope struct {
	Metadata   json.RawMessage `json:"metadata"`
	PDFContent json.RawMessage `json:"pdf_content"`
}

// Classify sends text, truncated to the character budget, to the service.
// Only an unavailable service is returned as an error. Every other failure
// yields a fallback result carrying the raw text and the parse error.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	text = utils.TruncateRunes(text, c.opts.MaxChars)

	reply, err := c.service.Generate(ctx, Request{Prompt: OrganizePrompt(text), Format: FormatJSON})
	if err != nil {
		if apperr.Is(err, apperr.CategoryServiceUnavailable) {
			return Result{}, err
		}

		c.logger.Error("classification reply unusable", "error", err)

		return c.fallback(text, err.Error()), nil
	}

	recovered, diag := Recover(reply)
	if diag != nil {
		c.logger.Error("classification reply is not valid JSON",
			"line", diag.Line, "column", diag.Column, "error", diag.Message)
		c.logger.Debug("unparseable reply", "cleaned", utils.TruncateWidth(diag.Cleaned, 500))

		if c.opts.Debug {
			path, werr := writeDebugArtifact(c.opts.DebugDir, c.now(), diag, reply, text)
			if werr != nil {
				c.logger.Warn("failed to save debug artifact", "error", werr)
			} else {
				c.logger.Info("debug artifact saved", "path", path)
			}
		}

		return c.fallback(text, diag.Error()), nil
	}

	if len(recovered.Failures) > 0 {
		c.logger.Warn("classification reply recovered",
			"attempt", recovered.Attempt, "first_error", recovered.Failures[0].Error())
	}

	c.observe(recovered.Attempt)

	return c.organize(recovered, text), nil
}

func (c *Classifier) organize(recovered *Recovered, text string) Result {
	res := Result{Quality: models.QualityOrganized, Attempt: recovered.Attempt}

	var env envelope
	if err := json.Unmarshal(recovered.Document, &env); err != nil {
		c.logger.Warn("classification reply has unexpected shape", "error", err)
	}

	if len(env.Metadata) > 0 && !isNull(env.Metadata) {
		if err := json.Unmarshal(env.Metadata, &res.Metadata); err != nil {
			c.logger.Warn("classification metadata ignored", "error", err)
		}
	}

	if len(env.PDFContent) > 0 && !isNull(env.PDFContent) {
		if err := json.Unmarshal(env.PDFContent, &res.Sections); err != nil {
			var single string
			if json.Unmarshal(env.PDFContent, &single) == nil && single != "" {
				res.Sections = models.Sections{{Heading: models.FullTextHeading, Text: single}}
				res.Quality = models.QualitySynthesized
			}
		}
	}

	if len(res.Sections) == 0 {
		res.Sections = models.Sections{{Heading: models.FullTextHeading, Text: text}}
		res.Quality = models.QualitySynthesized
	}

	return res
}

func (c *Classifier) fallback(text, parseErr string) Result {
	c.observe(AttemptFallback)

	return Result{
		Sections: models.Sections{
			{Heading: models.FullTextHeading, Text: text},
			{Heading: models.ParseErrorHeading, Text: parseErr},
		},
		ParseError: parseErr,
		Quality:    models.QualityFallback,
		Attempt:    AttemptFallback,
	}
}

func (c *Classifier) observe(attempt string) {
	if c.observer != nil {
		c.observer.ObserveRecovery(attempt)
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Enrichment builds the enrichment record for a classified document.
func (r Result) Enrichment(resourceID int64, pdfURL string) models.EnrichmentRecord {
	return models.EnrichmentRecord{
		ResourceID: resourceID,
		PDFURL:     pdfURL,
		Parsed:     true,
		Metadata:   r.Metadata,
		Sections:   r.Sections,
		ParseError: r.ParseError,
		Quality:    r.Quality,
	}
}

// String summarizes the result for logs.
func (r Result) String() string {
	return fmt.Sprintf("quality=%s attempt=%s sections=%d", r.Quality, r.Attempt, len(r.Sections))
}
