// Package pipeline turns scraped listing rows into the derived records of a
// run and routes them to the sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"etenders/internal/apperr"
	"etenders/internal/classifier"
	"etenders/internal/cpv"
	"etenders/internal/logger"
	"etenders/internal/metrics"
	"etenders/internal/models"
	"etenders/internal/normalizer"
	"etenders/internal/sink"
	"etenders/pkg/digest"
)

// State is a step of one record's trip through the processor.
type State string

// Record states, in the order they can occur.
const (
	StateNormalized       State = "normalized"
	StateEnriching        State = "enriching"
	StateSkipEnrichment   State = "skip_enrichment"
	StateCodeChecking     State = "code_checking"
	StateSkipCodeChecking State = "skip_code_checking"
	StateAnalyzingBid     State = "analyzing_bid"
	StateEmitted          State = "emitted"
)

// Stage names used in metrics and the error log.
const (
	StageNormalize = "normalize"
	StageEnrich    = "enrichment"
	StageCodes     = "codes"
	StageBid       = "bid"
)

// ErrStagePanic wraps a panic recovered inside a stage.
var ErrStagePanic = errors.New("stage panicked")

// DocumentSource returns the text of a notice document.
type DocumentSource interface {
	Text(ctx context.Context, url string) (string, error)
}

// Classifier organizes document text.
type Classifier interface {
	Classify(ctx context.Context, text string) (classifier.Result, error)
}

// CodeExtractor finds classification codes.
type CodeExtractor interface {
	Extract(in cpv.Input) []models.CodeMatch
}

// BidAnalyzer recommends whether to bid.
type BidAnalyzer interface {
	Analyze(ctx context.Context, tender models.NormalizedRecord,
		enrichment *models.EnrichmentRecord, codes *models.ClassificationCodeRecord) (models.BidAnalysis, error)
}

// Options are the run's feature toggles. They are fixed for the whole run.
type Options struct {
	ProcessDocuments bool
	CheckCodes       bool
	AnalyzeBids      bool
	Debug            bool
}

// Deps are the processor's collaborators. Nil stage dependencies disable the stage.
type Deps struct {
	Documents  DocumentSource
	Classifier Classifier
	Extractor  CodeExtractor
	Bids       BidAnalyzer
	Metrics    *metrics.Metrics
	ErrorLog   *sink.ErrorLog
}

// Output is everything derived from one raw record. Tender is always set.
type Output struct {
	Tender     models.NormalizedRecord
	Enrichment *models.EnrichmentRecord
	Codes      *models.ClassificationCodeRecord
	Bid        *models.BidAnalysis
	Trace      []State
	Issues     []error
}

// Records lists the derived records, core record first.
func (o Output) Records() []models.Record {
	recs := []models.Record{o.Tender}

	if o.Enrichment != nil {
		recs = append(recs, *o.Enrichment)
	}

	if o.Codes != nil {
		recs = append(recs, *o.Codes)
	}

	if o.Bid != nil {
		recs = append(recs, *o.Bid)
	}

	return recs
}

// Processor runs one record through normalize, enrich, code check and bid.
type Processor struct {
	normalizer *normalizer.Processor
	deps       Deps
	opts       Options
	logger     *logger.Logger
}

// NewProcessor creates a processor.
func NewProcessor(deps Deps, opts Options, log *logger.Logger) *Processor {
	return &Processor{
		normalizer: normalizer.NewProcessor(),
		deps:       deps,
		opts:       opts,
		logger:     log,
	}
}

// Process never fails. Stage failures degrade the output and are recorded
// in Issues, the log and the error log.
func (p *Processor) Process(ctx context.Context, raw models.RawRecord) Output {
	start := time.Now()

	tender, issues := p.normalizer.Process(raw)
	out := Output{Tender: tender, Issues: issues, Trace: []State{StateNormalized}}

	p.deps.Metrics.ObserveStage(StageNormalize, time.Since(start))

	if len(issues) > 0 {
		p.deps.Metrics.RecordStage(StageNormalize, metrics.OutcomeDegraded)

		for _, issue := range issues {
			p.logger.Debug("field not coerced", "resource_id", tender.IDString(), "issue", issue)
		}
	} else {
		p.deps.Metrics.RecordStage(StageNormalize, metrics.OutcomeOK)
	}

	id, hasID := tender.Identifier()

	if p.shouldEnrich(tender, hasID) {
		out.Trace = append(out.Trace, StateEnriching)

		enrichment, err := p.enrich(ctx, id, tender.NoticePDFURL)
		if err != nil {
			out.Trace = append(out.Trace, StateSkipEnrichment)
			out.Issues = append(out.Issues, err)
			p.recordFailure(StageEnrich, tender, err)
		} else {
			out.Enrichment = enrichment
		}
	} else {
		out.Trace = append(out.Trace, StateSkipEnrichment)
		p.deps.Metrics.RecordStage(StageEnrich, metrics.OutcomeSkipped)
	}

	if p.opts.CheckCodes && p.deps.Extractor != nil {
		out.Trace = append(out.Trace, StateCodeChecking)

		matches, err := p.extract(tender, out.Enrichment)
		if err != nil {
			out.Issues = append(out.Issues, err)
			p.recordFailure(StageCodes, tender, err)
		}

		if hasID && len(matches) > 0 {
			codes := models.NewClassificationCodeRecord(id, matches)
			out.Codes = &codes
		}
	} else {
		out.Trace = append(out.Trace, StateSkipCodeChecking)
		p.deps.Metrics.RecordStage(StageCodes, metrics.OutcomeSkipped)
	}

	if p.opts.AnalyzeBids && p.deps.Bids != nil && hasID {
		out.Trace = append(out.Trace, StateAnalyzingBid)

		analysis, err := p.analyze(ctx, tender, out.Enrichment, out.Codes)
		if err != nil {
			out.Issues = append(out.Issues, err)
			p.recordFailure(StageBid, tender, err)
		} else {
			out.Bid = &analysis
		}
	}

	out.Trace = append(out.Trace, StateEmitted)

	return out
}

// shouldEnrich follows has_document and the feature flag. It also skips
// records without a numeric id on purpose: an enrichment record is keyed by
// that id and could never be stored.
func (p *Processor) shouldEnrich(tender models.NormalizedRecord, hasID bool) bool {
	if !p.opts.ProcessDocuments || !tender.HasPDFURL {
		return false
	}

	if p.deps.Documents == nil || p.deps.Classifier == nil {
		return false
	}

	if !hasID {
		p.logger.Warn("skipping document without a numeric resource id", "resource_id", tender.IDString())

		return false
	}

	return true
}

func (p *Processor) enrich(ctx context.Context, id int64, url string) (rec *models.EnrichmentRecord, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = apperr.Wrap(fmt.Errorf("%w: %v", ErrStagePanic, r), apperr.CategoryUnrecoverableParse, false)
		}

		p.deps.Metrics.ObserveStage(StageEnrich, time.Since(start))
	}()

	text, err := p.deps.Documents.Text(ctx, url)
	if err != nil {
		return nil, err
	}

	result, err := p.deps.Classifier.Classify(ctx, text)
	if err != nil {
		return nil, err
	}

	enrichment := result.Enrichment(id, url)

	sum, err := digest.Value(enrichment.Sections)
	if err != nil {
		p.logger.Warn("failed to digest sections", "resource_id", id, "error", err)
	} else {
		enrichment.ContentDigest = sum
	}

	outcome := metrics.OutcomeOK
	if enrichment.IsFallback() {
		outcome = metrics.OutcomeDegraded

		if msg, ok := enrichment.Sections.Get(models.ParseErrorHeading); ok {
			p.logger.Warn("document kept as raw text", "resource_id", id, "parse_error", msg)
		}
	}

	p.deps.Metrics.RecordStage(StageEnrich, outcome)
	p.logger.Info("document enriched", "resource_id", id, "result", result.String())

	return &enrichment, nil
}

func (p *Processor) extract(tender models.NormalizedRecord, enrichment *models.EnrichmentRecord) (matches []models.CodeMatch, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			matches = nil
			err = fmt.Errorf("%w: %v", ErrStagePanic, r)
		}

		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeDegraded
		}

		p.deps.Metrics.RecordStage(StageCodes, outcome)
		p.deps.Metrics.ObserveStage(StageCodes, time.Since(start))
	}()

	in := cpv.Input{
		Title:     tender.Title,
		Info:      tender.Info,
		Authority: tender.ContractingAuthority,
	}

	if enrichment != nil {
		in.Classification = enrichment.MainClassification.String()
		in.Sections = enrichment.Sections
	}

	return p.deps.Extractor.Extract(in), nil
}

func (p *Processor) analyze(ctx context.Context, tender models.NormalizedRecord,
	enrichment *models.EnrichmentRecord, codes *models.ClassificationCodeRecord,
) (analysis models.BidAnalysis, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStagePanic, r)
		}

		outcome := metrics.OutcomeOK
		if err != nil || analysis.Error {
			outcome = metrics.OutcomeDegraded
		}

		p.deps.Metrics.RecordStage(StageBid, outcome)
		p.deps.Metrics.ObserveStage(StageBid, time.Since(start))
	}()

	return p.deps.Bids.Analyze(ctx, tender, enrichment, codes)
}

func (p *Processor) recordFailure(stage string, tender models.NormalizedRecord, err error) {
	category := apperr.CategoryOf(err)

	p.logger.Error("stage degraded", "stage", stage, "resource_id", tender.IDString(),
		"category", category, "error", err)

	if stage == StageEnrich {
		p.deps.Metrics.RecordStage(stage, metrics.OutcomeFailed)
	}

	if logErr := p.deps.ErrorLog.Append(stage, tender.IDString(), err, tender.RawRecord); logErr != nil {
		p.logger.Warn("failed to append to error log", "error", logErr)
	}
}
