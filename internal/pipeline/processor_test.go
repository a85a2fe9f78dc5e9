package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etenders/internal/apperr"
	"etenders/internal/classifier"
	"etenders/internal/cpv"
	"etenders/internal/logger"
	"etenders/internal/metrics"
	"etenders/internal/models"
)

type fakeDocuments struct {
	text string
	err  error
	urls []string
}

func (f *fakeDocuments) Text(_ context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)

	return f.text, f.err
}

type fakeService struct {
	reply string
	err   error
	calls int
}

func (f *fakeService) Generate(context.Context, classifier.Request) (string, error) {
	f.calls++

	return f.reply, f.err
}

type panickingExtractor struct{}

func (panickingExtractor) Extract(cpv.Input) []models.CodeMatch { panic("index out of range") }

type fakeBids struct {
	calls int
}

func (f *fakeBids) Analyze(_ context.Context, tender models.NormalizedRecord,
	_ *models.EnrichmentRecord, codes *models.ClassificationCodeRecord,
) (models.BidAnalysis, error) {
	f.calls++
	id, _ := tender.Identifier()

	return models.BidAnalysis{ResourceID: id, ShouldBid: codes != nil && codes.HasValidatedCPV, Confidence: 0.9}, nil
}

const organizedReply = `{
  "metadata": {"title": "Cloud Hosting", "main_classification": "72212731 Software services"},
  "pdf_content": {"Section_I": "Department of Finance", "Scope": "Hosting 72000000 and 99999999"}
}`

func testExtractor() *cpv.Extractor {
	return cpv.NewExtractor(cpv.NewDictionary([]cpv.Entry{
		{Code: "72000000-5", Description: "IT services"},
		{Code: "72212731-7", Description: "File management software development services"},
	}))
}

func rawTender(pdfURL, title string) models.RawRecord {
	return models.RawRecord{
		ResourceID:           "6543210",
		Title:                title,
		ContractingAuthority: "Department of Finance",
		Info:                 "Notice 12345678",
		DatePublished:        "01-Dec-2025",
		Status:               "Open",
		NoticePDFURL:         pdfURL,
		EstimatedValue:       "€250,000",
	}
}

type harness struct {
	docs    *fakeDocuments
	service *fakeService
	bids    *fakeBids
	metrics *metrics.Metrics
}

func newProcessor(h *harness, opts Options) *Processor {
	if h.docs == nil {
		h.docs = &fakeDocuments{text: "Tender notice text"}
	}

	if h.service == nil {
		h.service = &fakeService{reply: organizedReply}
	}

	h.bids = &fakeBids{}
	h.metrics = metrics.New()

	return NewProcessor(Deps{
		Documents:  h.docs,
		Classifier: classifier.New(h.service, classifier.Options{}, logger.Discard()).WithObserver(h.metrics),
		Extractor:  testExtractor(),
		Bids:       h.bids,
		Metrics:    h.metrics,
	}, opts, logger.Discard())
}

var allStages = Options{ProcessDocuments: true, CheckCodes: true, AnalyzeBids: true}

func TestProcess_FullPath(t *testing.T) {
	h := &harness{}
	out := newProcessor(h, allStages).Process(context.Background(), rawTender("https://x/notice.pdf", "Cloud Hosting"))

	assert.Equal(t, []State{StateNormalized, StateEnriching, StateCodeChecking, StateAnalyzingBid, StateEmitted}, out.Trace)

	require.NotNil(t, out.Enrichment)
	assert.True(t, out.Enrichment.Parsed)
	assert.Equal(t, models.QualityOrganized, out.Enrichment.Quality)
	assert.Equal(t, int64(6543210), out.Enrichment.ResourceID)
	assert.Len(t, out.Enrichment.ContentDigest, 64)
	assert.Equal(t, []string{"https://x/notice.pdf"}, h.docs.urls)

	require.NotNil(t, out.Codes)
	assert.Equal(t, []string{"72212731", "72000000"}, out.Codes.CPVCodes)
	assert.Equal(t, cpv.SourceClassification, out.Codes.CPVDetails[0].Source)
	assert.Equal(t, cpv.SourceSectionPrefix+"Scope", out.Codes.CPVDetails[1].Source)
	assert.True(t, out.Codes.HasValidatedCPV)

	require.NotNil(t, out.Bid)
	assert.True(t, out.Bid.ShouldBid)

	recs := out.Records()
	require.Len(t, recs, 4)
	assert.Equal(t, models.KindTender, recs[0].Kind())
}

func TestProcess_NoDocumentURL(t *testing.T) {
	h := &harness{}
	out := newProcessor(h, allStages).Process(context.Background(), rawTender("", "Provision of IT services 72000000"))

	assert.False(t, out.Tender.HasPDFURL)
	assert.Nil(t, out.Enrichment)
	assert.Empty(t, h.docs.urls)
	assert.Equal(t, 0, h.service.calls)
	assert.Equal(t, []State{StateNormalized, StateSkipEnrichment, StateCodeChecking, StateAnalyzingBid, StateEmitted}, out.Trace)

	require.NotNil(t, out.Codes)
	assert.Equal(t, []string{"72000000"}, out.Codes.CPVCodes)
	assert.Equal(t, cpv.SourceTitle, out.Codes.CPVDetails[0].Source)
}

func TestProcess_NoCodesMeansNoCodeRecord(t *testing.T) {
	out := newProcessor(&harness{}, Options{CheckCodes: true}).Process(context.Background(), rawTender("", "Office furniture"))

	assert.Nil(t, out.Codes)
	assert.Nil(t, out.Bid)
	assert.Equal(t, []State{StateNormalized, StateSkipEnrichment, StateCodeChecking, StateEmitted}, out.Trace)
}

func TestProcess_DocumentUnavailableDegrades(t *testing.T) {
	h := &harness{docs: &fakeDocuments{err: apperr.Wrap(errors.New("404"), apperr.CategoryDocumentUnavailable, false)}}
	out := newProcessor(h, allStages).Process(context.Background(), rawTender("https://x/gone.pdf", "IT services 72000000"))

	assert.Nil(t, out.Enrichment)
	assert.Contains(t, out.Trace, StateSkipEnrichment)
	assert.Equal(t, StateEmitted, out.Trace[len(out.Trace)-1])
	require.NotNil(t, out.Codes)
	assert.Equal(t, 0, h.service.calls)
	assertIssue(t, out, apperr.CategoryDocumentUnavailable)
}

func TestProcess_ServiceUnavailableSkipsEnrichment(t *testing.T) {
	h := &harness{service: &fakeService{err: apperr.Wrap(errors.New("connection refused"), apperr.CategoryServiceUnavailable, true)}}
	out := newProcessor(h, allStages).Process(context.Background(), rawTender("https://x/notice.pdf", "Cloud"))

	assert.Nil(t, out.Enrichment)
	assert.Equal(t, []State{StateNormalized, StateEnriching, StateSkipEnrichment, StateCodeChecking, StateAnalyzingBid, StateEmitted}, out.Trace)
	assertIssue(t, out, apperr.CategoryServiceUnavailable)
}

func TestProcess_GarbageReplyFallsBack(t *testing.T) {
	h := &harness{service: &fakeService{reply: "Sorry, I can't do that"}}
	out := newProcessor(h, allStages).Process(context.Background(), rawTender("https://x/notice.pdf", "Cloud"))

	require.NotNil(t, out.Enrichment)
	assert.True(t, out.Enrichment.Parsed)
	assert.True(t, out.Enrichment.IsFallback())
	assert.NotEmpty(t, out.Enrichment.ParseError)

	text, ok := out.Enrichment.Sections.Get(models.FullTextHeading)
	assert.True(t, ok)
	assert.Equal(t, "Tender notice text", text)
}

func TestProcess_ExtractorPanicDegradesToNoCodes(t *testing.T) {
	p := NewProcessor(Deps{Extractor: panickingExtractor{}}, Options{CheckCodes: true}, logger.Discard())
	out := p.Process(context.Background(), rawTender("", "IT services 72000000"))

	assert.Nil(t, out.Codes)
	assert.Equal(t, StateEmitted, out.Trace[len(out.Trace)-1])
	require.NotEmpty(t, out.Issues)
	assert.ErrorIs(t, out.Issues[len(out.Issues)-1], ErrStagePanic)
}

func TestProcess_StagesDisabled(t *testing.T) {
	h := &harness{}
	out := newProcessor(h, Options{}).Process(context.Background(), rawTender("https://x/notice.pdf", "IT 72000000"))

	assert.Equal(t, []State{StateNormalized, StateSkipEnrichment, StateSkipCodeChecking, StateEmitted}, out.Trace)
	assert.Len(t, out.Records(), 1)
	assert.Empty(t, h.docs.urls)
	assert.Equal(t, 0, h.bids.calls)
}

func TestProcess_MissingIdentifierStillEmitsTender(t *testing.T) {
	h := &harness{}
	raw := rawTender("https://x/notice.pdf", "IT services 72000000")
	raw.ResourceID = "n/a"

	out := newProcessor(h, allStages).Process(context.Background(), raw)

	assert.Nil(t, out.Tender.ResourceID)
	assert.Nil(t, out.Enrichment)
	assert.Nil(t, out.Codes)
	assert.Nil(t, out.Bid)
	assert.Empty(t, h.docs.urls)
	assert.Len(t, out.Records(), 1)
}

func assertIssue(t *testing.T, out Output, category apperr.Category) {
	t.Helper()

	for _, issue := range out.Issues {
		if apperr.Is(issue, category) {
			return
		}
	}

	t.Errorf("no %s issue in %v", category, out.Issues)
}
