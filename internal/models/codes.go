package models

import "time"

// CodeMatch is one classification code found for a tender.
type CodeMatch struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Source      string `json:"source"`
	Validated   bool   `json:"validated"`
}

// ClassificationCodeRecord lists the codes found for a tender, deduplicated
// by code in the order they were first seen.
type ClassificationCodeRecord struct {
	ResourceID      int64       `json:"resource_id"`
	CPVCount        int         `json:"cpv_count"`
	CPVCodes        []string    `json:"cpv_codes"`
	CPVDetails      []CodeMatch `json:"cpv_details"`
	HasValidatedCPV bool        `json:"has_validated_cpv"`
}

// NewClassificationCodeRecord derives the summary fields from matches.
func NewClassificationCodeRecord(resourceID int64, matches []CodeMatch) ClassificationCodeRecord {
	rec := ClassificationCodeRecord{
		ResourceID: resourceID,
		CPVCount:   len(matches),
		CPVCodes:   make([]string, 0, len(matches)),
		CPVDetails: matches,
	}

	if rec.CPVDetails == nil {
		rec.CPVDetails = []CodeMatch{}
	}

	for _, m := range matches {
		rec.CPVCodes = append(rec.CPVCodes, m.Code)
		if m.Validated {
			rec.HasValidatedCPV = true
		}
	}

	return rec
}

// Kind implements Record.
func (c ClassificationCodeRecord) Kind() Kind { return KindCodes }

// Identifier implements Record.
func (c ClassificationCodeRecord) Identifier() (int64, bool) { return c.ResourceID, true }

// BidAnalysis is a bid/no-bid recommendation for one tender.
type BidAnalysis struct {
	ResourceID      int64     `json:"resource_id"`
	ShouldBid       bool      `json:"should_bid"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning"`
	RelevantFactors []string  `json:"relevant_factors"`
	EstimatedFit    float64   `json:"estimated_fit"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
	Error           bool      `json:"error,omitempty"`
}

// Kind implements Record.
func (b BidAnalysis) Kind() Kind { return KindBid }

// Identifier implements Record.
func (b BidAnalysis) Identifier() (int64, bool) { return b.ResourceID, true }
