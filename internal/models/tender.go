// Package models defines the records that flow through the tender pipeline.
package models

// Kind names the output table a record belongs to.
type Kind string

// Output tables.
const (
	KindTender     Kind = "tenders"
	KindEnrichment Kind = "pdfs"
	KindCodes      Kind = "cpvs"
	KindBid        Kind = "bid_analysis"
)

// Record is implemented by every record a sink can persist.
type Record interface {
	Kind() Kind
	// Identifier returns the resource id and false when it is absent.
	Identifier() (int64, bool)
}

// RawRecord is one row of the public tender listing, exactly as scraped.
type RawRecord struct {
	RowNumber            string `json:"row_number"`
	Title                string `json:"title"`
	DetailURL            string `json:"detail_url"`
	ResourceID           string `json:"resource_id"`
	ContractingAuthority string `json:"contracting_authority"`
	Info                 string `json:"info"`
	DatePublished        string `json:"date_published"`
	SubmissionDeadline   string `json:"submission_deadline"`
	Procedure            string `json:"procedure"`
	Status               string `json:"status"`
	NoticePDFURL         string `json:"notice_pdf_url"`
	AwardDate            string `json:"award_date"`
	EstimatedValue       string `json:"estimated_value"`
	Cycle                string `json:"cycle"`
}

// NormalizedRecord is a RawRecord plus coerced fields.
// Numeric fields are nil when the raw text could not be coerced.
// Parsed dates hold an ISO timestamp, or the original text when no known layout matched.
type NormalizedRecord struct {
	RawRecord

	ResourceID               *int64   `json:"resource_id"`
	DatePublishedParsed      string   `json:"date_published_parsed"`
	SubmissionDeadlineParsed string   `json:"submission_deadline_parsed"`
	AwardDateParsed          string   `json:"award_date_parsed"`
	EstimatedValueNumeric    *float64 `json:"estimated_value_numeric"`
	CycleNumeric             *int64   `json:"cycle_numeric"`
	HasPDFURL                bool     `json:"has_pdf_url"`
	HasEstimatedValue        bool     `json:"has_estimated_value"`
	IsOpen                   bool     `json:"is_open"`
}

// Kind implements Record.
func (n NormalizedRecord) Kind() Kind { return KindTender }

// Identifier implements Record.
func (n NormalizedRecord) Identifier() (int64, bool) {
	if n.ResourceID == nil {
		return 0, false
	}

	return *n.ResourceID, true
}

// IDString renders the identifier for logs, falling back to the scraped text.
func (n NormalizedRecord) IDString() string {
	if n.ResourceID != nil {
		return formatID(*n.ResourceID)
	}

	if n.RawRecord.ResourceID != "" {
		return n.RawRecord.ResourceID
	}

	return "unknown"
}
