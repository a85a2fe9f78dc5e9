package pipeline

import (
	"context"
	"fmt"
	"iter"
	"time"

	"etenders/internal/formatter"
	"etenders/internal/logger"
	"etenders/internal/models"
	"etenders/internal/sink"
)

// RecordWriter persists derived records. *sink.Set implements it.
type RecordWriter interface {
	Write(rec models.Record) bool
	Stats() []sink.Stats
	Close() error
}

// Summary reports the outcome of a run.
type Summary struct {
	Records      int
	ScrapeErrors int
	Enriched     int
	Fallbacks    int
	CodeRecords  int
	Bids         int
	Recommended  int
	Sinks        []sink.Stats
	Duration     time.Duration
}

// Table renders the per-sink counters as an aligned table.
func (s Summary) Table() string {
	rows := make([]formatter.SummaryRow, 0, len(s.Sinks))
	for _, st := range s.Sinks {
		rows = append(rows, formatter.SummaryRow{
			Name:      st.Name,
			Attempted: st.Attempted,
			Written:   st.Written,
			Failed:    st.Failed,
		})
	}

	return formatter.Summary(rows)
}

// Failed returns the number of failed sink writes.
func (s Summary) Failed() int {
	n := 0
	for _, st := range s.Sinks {
		n += st.Failed
	}

	return n
}

// Runner consumes the scraped sequence one record at a time.
type Runner struct {
	processor     *Processor
	sinks         RecordWriter
	errlog        *sink.ErrorLog
	logger        *logger.Logger
	progressEvery int
}

// NewRunner creates a runner. progressEvery <= 0 disables progress lines.
func NewRunner(processor *Processor, sinks RecordWriter, errlog *sink.ErrorLog, log *logger.Logger, progressEvery int) *Runner {
	return &Runner{
		processor:     processor,
		sinks:         sinks,
		errlog:        errlog,
		logger:        log,
		progressEvery: progressEvery,
	}
}

// Run processes records in order and writes each record's outputs before
// moving on. Scraper errors are logged and skipped. Cancelling ctx stops
// the run between records. The sinks are always closed.
func (r *Runner) Run(ctx context.Context, records iter.Seq2[models.RawRecord, error]) (Summary, error) {
	var summary Summary

	start := time.Now()

	var runErr error

	for raw, err := range records {
		if ctxErr := ctx.Err(); ctxErr != nil {
			runErr = ctxErr

			break
		}

		if err != nil {
			summary.ScrapeErrors++
			r.logger.Error("listing error", "error", err)

			if logErr := r.errlog.Append("scraper", "", err, nil); logErr != nil {
				r.logger.Warn("failed to append to error log", "error", logErr)
			}

			continue
		}

		out := r.processor.Process(ctx, raw)
		r.tally(&summary, out)

		for _, rec := range out.Records() {
			r.sinks.Write(rec)
		}

		if r.progressEvery > 0 && summary.Records%r.progressEvery == 0 {
			r.logger.Info(fmt.Sprintf("Progress: %d records processed", summary.Records))
		}
	}

	if err := r.sinks.Close(); err != nil {
		r.logger.Error("failed to close sinks", "error", err)

		if runErr == nil {
			runErr = err
		}
	}

	summary.Sinks = r.sinks.Stats()
	summary.Duration = time.Since(start)

	if runErr != nil {
		return summary, fmt.Errorf("run stopped after %d records: %w", summary.Records, runErr)
	}

	return summary, nil
}

func (r *Runner) tally(s *Summary, out Output) {
	s.Records++

	if out.Enrichment != nil {
		s.Enriched++

		if out.Enrichment.IsFallback() {
			s.Fallbacks++
		}
	}

	if out.Codes != nil {
		s.CodeRecords++
	}

	if out.Bid != nil {
		s.Bids++

		if out.Bid.ShouldBid {
			s.Recommended++
		}
	}
}
