// Package bid produces bid/no-bid recommendations for enriched tenders.
package bid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"etenders/internal/classifier"
	"etenders/internal/logger"
	"etenders/internal/models"
)

// Confidence values for the textual grades the service reports.
const (
	ConfidenceHigh   = 0.9
	ConfidenceMedium = 0.6
	ConfidenceLow    = 0.3
)

// ErrMissingIdentifier is returned for tenders without a numeric id.
var ErrMissingIdentifier = errors.New("tender has no resource id")

// Analyzer asks the text generation service whether a tender is worth bidding on.
type Analyzer struct {
	service classifier.Service
	logger  *logger.Logger
	now     func() time.Time
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(service classifier.Service, log *logger.Logger) *Analyzer {
	return &Analyzer{
		service: service,
		logger:  log,
		now:     time.Now,
	}
}

type reply struct {
	ShouldBid       json.RawMessage `json:"should_bid"`
	Confidence      json.RawMessage `json:"confidence"`
	Reasoning       string          `json:"reasoning"`
	RelevantFactors json.RawMessage `json:"relevant_factors"`
	EstimatedFit    json.RawMessage `json:"estimated_fit"`
}

// Analyze returns a recommendation. Service or parse failures never
// propagate: they produce a negative, low confidence analysis flagged as an error.
func (a *Analyzer) Analyze(ctx context.Context, tender models.NormalizedRecord,
	enrichment *models.EnrichmentRecord, codes *models.ClassificationCodeRecord,
) (models.BidAnalysis, error) {
	id, ok := tender.Identifier()
	if !ok {
		return models.BidAnalysis{}, ErrMissingIdentifier
	}

	text, err := a.service.Generate(ctx, classifier.Request{
		Prompt: Prompt(tender, enrichment, codes),
		Format: classifier.FormatJSON,
	})
	if err != nil {
		a.logger.Error("bid analysis failed", "resource_id", id, "error", err)

		return a.failed(id, err.Error()), nil
	}

	recovered, diag := classifier.Recover(text)
	if diag != nil {
		a.logger.Error("bid analysis reply is not valid JSON",
			"resource_id", id, "line", diag.Line, "column", diag.Column, "error", diag.Message)

		return a.failed(id, diag.Error()), nil
	}

	var r reply
	if err := json.Unmarshal(recovered.Document, &r); err != nil {
		return a.failed(id, err.Error()), nil
	}

	analysis := models.BidAnalysis{
		ResourceID:      id,
		ShouldBid:       parseBool(r.ShouldBid),
		Confidence:      parseConfidence(r.Confidence),
		Reasoning:       r.Reasoning,
		RelevantFactors: parseFactors(r.RelevantFactors),
		EstimatedFit:    parseFit(r.EstimatedFit),
		AnalyzedAt:      a.now().UTC(),
	}

	a.logger.Info("bid analysis complete", "resource_id", id,
		"should_bid", analysis.ShouldBid, "confidence", analysis.Confidence)

	return analysis, nil
}

func (a *Analyzer) failed(id int64, reason string) models.BidAnalysis {
	return models.BidAnalysis{
		ResourceID:      id,
		ShouldBid:       false,
		Confidence:      ConfidenceLow,
		Reasoning:       fmt.Sprintf("Analysis failed: %s", reason),
		RelevantFactors: []string{},
		EstimatedFit:    0,
		AnalyzedAt:      a.now().UTC(),
		Error:           true,
	}
}

func parseBool(raw json.RawMessage) bool {
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		v, err := strconv.ParseBool(strings.TrimSpace(s))

		return err == nil && v
	}

	return false
}

// parseConfidence maps high/medium/low to a number. Numeric replies are
// accepted on either a 0-1 or a 0-100 scale.
func parseConfidence(raw json.RawMessage) float64 {
	if f, ok := parseNumber(raw); ok {
		return scale(f)
	}

	var s string
	_ = json.Unmarshal(raw, &s)

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh
	case "medium":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// parseFit scales a 0-100 fit to 0-1 and clamps it. The prompt asks for
// 0-100, so 1 means one percent.
func parseFit(raw json.RawMessage) float64 {
	f, ok := parseNumber(raw)
	if !ok {
		return 0
	}

	return clamp(f / 100)
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f, true
	}

	var s string
	if json.Unmarshal(raw, &s) != nil {
		return 0, false
	}

	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}

// scale reads a numeric confidence given either as 0-1 or as a percentage.
func scale(f float64) float64 {
	if f > 1 {
		f /= 100
	}

	return clamp(f)
}

func clamp(f float64) float64 {
	return min(max(f, 0), 1)
}

func parseFactors(raw json.RawMessage) []string {
	var list []string
	if json.Unmarshal(raw, &list) == nil && list != nil {
		return list
	}

	var single string
	if json.Unmarshal(raw, &single) == nil && single != "" {
		return []string{single}
	}

	return []string{}
}
