package classifier

import "strings"

const organizePrompt = `Analyze this tender notice and extract two things:

1. METADATA - Extract these specific fields:
{
  "procedure_id": "",
  "title": "",
  "buyer_name": "",
  "buyer_country": "",
  "estimated_value": "",
  "start_date": "",
  "duration_months": "",
  "submission_deadline": "",
  "main_classification": "",
  "lots": [{"lot_id": "", "title": "", "estimated_value": ""}]
}

2. PDF_CONTENT - Organize ALL the text by its headings or sections. Keys are
heading names (for example "Section_I_Contracting_Authority", "Award_Criteria"),
values are the full text under that heading. When the notice has no clear
headings use logical names such as "Overview", "Requirements", "Submission_Details".

Return only JSON of this shape:
{
  "metadata": { ... fields above ... },
  "pdf_content": {
    "heading_name": "full text under this heading"
  }
}

Notice text:
`

// OrganizePrompt builds the sectioning prompt for already truncated text.
func OrganizePrompt(text string) string {
	var b strings.Builder

	b.Grow(len(organizePrompt) + len(text))
	b.WriteString(organizePrompt)
	b.WriteString(text)

	return b.String()
}
