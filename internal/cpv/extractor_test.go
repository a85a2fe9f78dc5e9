package cpv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etenders/internal/models"
)

func testDictionary() *Dictionary {
	return NewDictionary([]Entry{
		{Code: "72212731-7", Description: "File security software development services"},
		{Code: "72000000-5", Description: "IT services: consulting, software development, Internet and support"},
		{Code: "48000000-8", Description: "Software package and information systems"},
	})
}

func TestExtract_DeduplicatesClassificationFirst(t *testing.T) {
	ex := NewExtractor(testDictionary())

	got := ex.Extract(Input{
		Classification: "72212731 File security software development services",
		Title:          "Security software 72212731",
		Info:           "Budget ref 99999999",
	})

	require.Len(t, got, 1)
	assert.Equal(t, models.CodeMatch{
		Code:        "72212731",
		Description: "File security software development services",
		Source:      SourceClassification,
		Validated:   true,
	}, got[0])
}

func TestExtract_ClassificationKeptWhenUnknown(t *testing.T) {
	ex := NewExtractor(testDictionary())

	got := ex.Extract(Input{Classification: " 79342000 Marketing services; 72000000 "})

	require.Len(t, got, 2)
	assert.Equal(t, "79342000", got[0].Code)
	assert.False(t, got[0].Validated)
	assert.Equal(t, "79342000 Marketing services; 72000000", got[0].Description)
	assert.Equal(t, "72000000", got[1].Code)
	assert.True(t, got[1].Validated)
}

func TestExtract_SourcePriority(t *testing.T) {
	ex := NewExtractor(testDictionary())

	sections := models.Sections{
		{Heading: "Scope", Text: "Covers CPV 48000000-8 and 12345678."},
		{Heading: "Lots", Text: "Lot 1: 72000000"},
	}

	got := ex.Extract(Input{
		Title:     "Data platform 72000000",
		Info:      "See 48000000",
		Authority: "Dept 72212731",
		Sections:  sections,
	})

	require.Len(t, got, 3)
	assert.Equal(t, "48000000", got[0].Code)
	assert.Equal(t, SourceSectionPrefix+"Scope", got[0].Source)
	assert.Equal(t, "72000000", got[1].Code)
	assert.Equal(t, SourceSectionPrefix+"Lots", got[1].Source)
	assert.Equal(t, "72212731", got[2].Code)
	assert.Equal(t, SourceAuthority, got[2].Source)
}

func TestExtract_IgnoresLongerDigitRuns(t *testing.T) {
	ex := NewExtractor(testDictionary())

	got := ex.Extract(Input{Title: "Ref 172000000 and 7200000"})
	assert.Empty(t, got)
}

func TestExtract_NormalizesFullWidthDigits(t *testing.T) {
	ex := NewExtractor(testDictionary())

	got := ex.Extract(Input{Info: "Code ７２００００００ applies"})

	require.Len(t, got, 1)
	assert.Equal(t, "72000000", got[0].Code)
	assert.Equal(t, SourceInfo, got[0].Source)
}

func TestExtract_Empty(t *testing.T) {
	ex := NewExtractor(testDictionary())

	assert.Empty(t, ex.Extract(Input{}))
}
