package sink

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etenders/internal/logger"
	"etenders/internal/models"
)

type nopCloser struct {
	*bytes.Buffer
	closed bool
}

func (n *nopCloser) Close() error {
	n.closed = true

	return nil
}

func newBuffer() *nopCloser {
	return &nopCloser{Buffer: &bytes.Buffer{}}
}

func TestFlatten(t *testing.T) {
	rec := models.EnrichmentRecord{
		ResourceID: 7,
		PDFURL:     "https://x/7.pdf",
		Parsed:     true,
		Metadata: models.Metadata{
			Title: "Cloud",
			Lots:  []models.Lot{{LotID: "1"}},
		},
		Sections: models.Sections{{Heading: "Scope", Text: "All of it"}},
		Quality:  models.QualityOrganized,
	}

	fields, err := Flatten(rec)
	require.NoError(t, err)

	got := map[string]string{}
	keys := make([]string, 0, len(fields))

	for _, f := range fields {
		got[f.Key] = f.Value
		keys = append(keys, f.Key)
	}

	assert.Equal(t, "7", got["resource_id"])
	assert.Equal(t, "true", got["pdf_parsed"])
	assert.Equal(t, "Cloud", got["title"])
	assert.JSONEq(t, `[{"lot_id":"1","title":"","estimated_value":""}]`, got["lots"])
	assert.Equal(t, "All of it", got["pdf_content_Scope"])
	assert.Equal(t, []string{"resource_id", "pdf_url", "pdf_parsed"}, keys[:3])
}

func TestFlatten_NullsAndNumbers(t *testing.T) {
	fields, err := Flatten(tenderRecord(0))
	require.NoError(t, err)

	got := map[string]string{}
	for _, f := range fields {
		got[f.Key] = f.Value
	}

	assert.Contains(t, got, "estimated_value_numeric")
	assert.Empty(t, got["estimated_value_numeric"])
	assert.Empty(t, got["resource_id"])
	assert.Equal(t, "false", got["is_open"])

	_, err = Flatten([]int{1})
	assert.ErrorIs(t, err, errNotObject)
}

func TestCSVEncoder_HeaderAndDrift(t *testing.T) {
	buf := newBuffer()
	enc := NewCSVEncoder(buf, logger.Discard())

	first := models.EnrichmentRecord{ResourceID: 1, Sections: models.Sections{{Heading: "A", Text: "one"}}}
	second := models.EnrichmentRecord{ResourceID: 2, Sections: models.Sections{{Heading: "B", Text: "two"}}}

	require.NoError(t, enc.Encode(first))
	require.NoError(t, enc.Encode(second))
	require.NoError(t, enc.Close())
	assert.True(t, buf.closed)

	rows, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	header := rows[0]
	assert.Equal(t, len(header), enc.Columns())
	assert.Contains(t, header, "pdf_content_A")
	assert.NotContains(t, header, "pdf_content_B")
	assert.Equal(t, 1, enc.DriftedColumns())

	col := -1

	for i, h := range header {
		if h == "pdf_content_A" {
			col = i
		}
	}

	assert.Equal(t, "one", rows[1][col])
	assert.Empty(t, rows[2][col])
}

// flakyFile fails its first write.
type flakyFile struct {
	*nopCloser
	failures int
}

func (f *flakyFile) Write(p []byte) (int, error) {
	if f.failures > 0 {
		f.failures--

		return 0, errors.New("no space left on device")
	}

	return f.nopCloser.Write(p)
}

func TestCSVEncoder_HeaderRetriedAfterFailedWrite(t *testing.T) {
	out := &flakyFile{nopCloser: newBuffer(), failures: 1}
	enc := NewCSVEncoder(out, logger.Discard())

	first := models.NewClassificationCodeRecord(1, []models.CodeMatch{{Code: "72000000"}})
	second := models.NewClassificationCodeRecord(2, []models.CodeMatch{{Code: "48000000"}})

	require.Error(t, enc.Encode(first))
	assert.Zero(t, enc.Columns())

	require.NoError(t, enc.Encode(second))

	rows, err := csv.NewReader(bytes.NewReader(out.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "resource_id", rows[0][0])
	assert.Equal(t, "2", rows[1][0])
}

func TestCSVEncoder_Sequences(t *testing.T) {
	buf := newBuffer()
	enc := NewCSVEncoder(buf, logger.Discard())

	rec := models.NewClassificationCodeRecord(9, []models.CodeMatch{{Code: "72000000", Source: "title", Validated: true}})
	require.NoError(t, enc.Encode(rec))
	require.NoError(t, enc.Close())

	rows, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, []string{"resource_id", "cpv_count", "cpv_codes", "cpv_details", "has_validated_cpv"}, rows[0])
	assert.Equal(t, `["72000000"]`, rows[1][2])
	assert.Equal(t, "true", rows[1][4])
}

func TestJSONArrayEncoder(t *testing.T) {
	buf := newBuffer()
	enc, err := NewJSONArrayEncoder(buf)
	require.NoError(t, err)

	at := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, enc.Encode(models.BidAnalysis{ResourceID: 1, ShouldBid: true, AnalyzedAt: at}))
	require.NoError(t, enc.Encode(models.BidAnalysis{ResourceID: 2, AnalyzedAt: at}))

	assert.Equal(t, byte('['), buf.Bytes()[0])

	require.NoError(t, enc.Close())

	var out []models.BidAnalysis
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 2)
	assert.True(t, out[0].ShouldBid)
	assert.Equal(t, int64(2), out[1].ResourceID)
}

func TestJSONArrayEncoder_Empty(t *testing.T) {
	buf := newBuffer()
	enc, err := NewJSONArrayEncoder(buf)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	var out []any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Empty(t, out)
}
