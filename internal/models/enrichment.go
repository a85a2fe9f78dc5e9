package models

import (
	"encoding/json"
	"strconv"
)

// Section headings used when the document could not be organized.
const (
	FullTextHeading   = "full_text"
	ParseErrorHeading = "parse_error"
)

// Quality grades how an enrichment's section map was produced.
type Quality string

// Enrichment quality grades.
const (
	QualityOrganized   Quality = "organized"
	QualitySynthesized Quality = "synthesized"
	QualityFallback    Quality = "fallback"
)

// FlexString accepts any JSON scalar and keeps it as text.
// Objects and arrays are kept as compact JSON.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	*f = FlexString(rawText(data))

	return nil
}

// String returns the text value.
func (f FlexString) String() string { return string(f) }

// Lot is one lot of a tender as reported by the document.
type Lot struct {
	LotID          FlexString `json:"lot_id"`
	Title          FlexString `json:"title"`
	EstimatedValue FlexString `json:"estimated_value"`
}

// Metadata holds the fields the classification service extracts from a notice.
type Metadata struct {
	ProcedureID        FlexString `json:"procedure_id,omitempty"`
	Title              FlexString `json:"title,omitempty"`
	BuyerName          FlexString `json:"buyer_name,omitempty"`
	BuyerCountry       FlexString `json:"buyer_country,omitempty"`
	EstimatedValue     FlexString `json:"estimated_value,omitempty"`
	StartDate          FlexString `json:"start_date,omitempty"`
	DurationMonths     FlexString `json:"duration_months,omitempty"`
	SubmissionDeadline FlexString `json:"submission_deadline,omitempty"`
	MainClassification FlexString `json:"main_classification,omitempty"`
	Lots               []Lot      `json:"lots,omitempty"`
}

// EnrichmentRecord is the organized content of a tender's notice document.
// Sections holds either the organized map or the single fallback section
// (full_text plus parse_error), never both.
type EnrichmentRecord struct {
	ResourceID int64  `json:"resource_id"`
	PDFURL     string `json:"pdf_url"`
	Parsed     bool   `json:"pdf_parsed"`

	Metadata

	Sections      Sections `json:"pdf_content"`
	ParseError    string   `json:"parse_error,omitempty"`
	Quality       Quality  `json:"quality"`
	ContentDigest string   `json:"content_digest,omitempty"`
}

// Kind implements Record.
func (e EnrichmentRecord) Kind() Kind { return KindEnrichment }

// Identifier implements Record.
func (e EnrichmentRecord) Identifier() (int64, bool) { return e.ResourceID, true }

// IsFallback reports whether the record carries raw text instead of organized sections.
func (e EnrichmentRecord) IsFallback() bool { return e.Quality == QualityFallback }

// SectionsJSON returns the section map as a JSON object.
func (e EnrichmentRecord) SectionsJSON() ([]byte, error) {
	if e.Sections == nil {
		return []byte("{}"), nil
	}

	return json.Marshal(e.Sections)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
