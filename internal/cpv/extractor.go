package cpv

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"etenders/internal/models"
)

// Source tags.
const (
	SourceClassification = "pdf_main_classification"
	SourceSectionPrefix  = "pdf_section:"
	SourceTitle          = "title"
	SourceInfo           = "info"
	SourceAuthority      = "contracting_authority"
)

var codePattern = regexp.MustCompile(`\b(\d{8})\b`)

// Input is the text a tender exposes for code extraction.
type Input struct {
	Title          string
	Info           string
	Authority      string
	Classification string
	Sections       models.Sections
}

// Extractor finds codes in tender text.
type Extractor struct {
	dict *Dictionary
}

// NewExtractor creates an extractor backed by dict.
func NewExtractor(dict *Dictionary) *Extractor {
	return &Extractor{dict: dict}
}

// Extract scans the classification field, then each section in order, then
// title, info and authority. Classification hits are always kept; other hits
// only when the dictionary knows the code. The first source of a code wins.
func (e *Extractor) Extract(in Input) []models.CodeMatch {
	seen := make(map[string]bool)

	var matches []models.CodeMatch

	add := func(m models.CodeMatch) {
		if seen[m.Code] {
			return
		}

		seen[m.Code] = true
		matches = append(matches, m)
	}

	classification := strings.TrimSpace(in.Classification)
	for _, code := range findCodes(classification) {
		desc, ok := e.dict.Lookup(code)
		if !ok {
			desc = classification
		}

		add(models.CodeMatch{
			Code:        code,
			Description: desc,
			Source:      SourceClassification,
			Validated:   ok,
		})
	}

	type source struct {
		tag  string
		text string
	}

	sources := make([]source, 0, len(in.Sections)+3)
	for _, sec := range in.Sections {
		sources = append(sources, source{SourceSectionPrefix + sec.Heading, sec.Text})
	}

	sources = append(sources,
		source{SourceTitle, in.Title},
		source{SourceInfo, in.Info},
		source{SourceAuthority, in.Authority},
	)

	for _, src := range sources {
		for _, code := range findCodes(src.text) {
			desc, ok := e.dict.Lookup(code)
			if !ok {
				continue
			}

			add(models.CodeMatch{
				Code:        code,
				Description: desc,
				Source:      src.tag,
				Validated:   true,
			})
		}
	}

	return matches
}

func findCodes(text string) []string {
	if text == "" {
		return nil
	}

	found := codePattern.FindAllStringSubmatch(norm.NFKC.String(text), -1)
	codes := make([]string, 0, len(found))

	for _, m := range found {
		codes = append(codes, m[1])
	}

	return codes
}
