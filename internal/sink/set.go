package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"etenders/internal/logger"
	"etenders/internal/models"
)

// Output formats.
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatPostgres = "postgres"
)

// ErrUnknownFormat is returned by Open for unsupported formats.
var ErrUnknownFormat = errors.New("unknown output format")

// Kinds is the table order used for output and reports.
var Kinds = []models.Kind{models.KindTender, models.KindEnrichment, models.KindCodes, models.KindBid}

// Set routes records to the writer of their kind.
type Set struct {
	writers []*Writer
	byKind  map[models.Kind]*Writer
	closers []func() error
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{byKind: make(map[models.Kind]*Writer)}
}

// Add registers w for kind.
func (s *Set) Add(kind models.Kind, w *Writer) {
	s.writers = append(s.writers, w)
	s.byKind[kind] = w
}

// OnClose registers fn to run after every writer is closed.
func (s *Set) OnClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Write sends rec to its writer. A kind without a writer counts as a failure.
func (s *Set) Write(rec models.Record) bool {
	w, ok := s.byKind[rec.Kind()]
	if !ok {
		return false
	}

	return w.Write(rec)
}

// Stats returns per-writer counters in registration order.
func (s *Set) Stats() []Stats {
	out := make([]Stats, 0, len(s.writers))
	for _, w := range s.writers {
		out = append(out, w.Stats())
	}

	return out
}

// Close closes every writer, then runs the close hooks.
func (s *Set) Close() error {
	var errs []error

	for _, w := range s.writers {
		errs = append(errs, w.Close())
	}

	for _, fn := range s.closers {
		errs = append(errs, fn())
	}

	return errors.Join(errs...)
}

// Options select and configure the output of a run.
type Options struct {
	Format    string
	OutputDir string
	DSN       string
	BatchSize int
	Timeout   time.Duration
	Kinds     []models.Kind
	ErrorLog  *ErrorLog
	Recorder  Recorder
	Logger    *logger.Logger
	StartedAt time.Time
}

// Open creates a writer per kind for the chosen format. For postgres the
// connection is established first and a failure aborts before any write.
func Open(ctx context.Context, opts Options) (*Set, error) {
	if len(opts.Kinds) == 0 {
		opts.Kinds = Kinds
	}

	set := NewSet()

	var store *PostgresStore

	if opts.Format == FormatPostgres {
		var err error

		store, err = OpenPostgres(ctx, opts.DSN, opts.BatchSize, opts.Timeout, opts.Logger)
		if err != nil {
			return nil, err
		}

		set.OnClose(store.Close)
	}

	for _, kind := range opts.Kinds {
		enc, err := newEncoder(opts, kind, store)
		if err != nil {
			_ = set.Close()

			return nil, err
		}

		set.Add(kind, NewWriter(string(kind), enc, opts.ErrorLog, opts.Logger).WithRecorder(opts.Recorder))
	}

	return set, nil
}

func newEncoder(opts Options, kind models.Kind, store *PostgresStore) (Encoder, error) {
	switch opts.Format {
	case FormatPostgres:
		return NewPostgresEncoder(store), nil
	case FormatCSV:
		f, err := CreateFile(opts.OutputDir, FormatCSV, kind, opts.StartedAt)
		if err != nil {
			return nil, err
		}

		return NewCSVEncoder(f, opts.Logger.With("sink", string(kind))), nil
	case FormatJSON:
		f, err := CreateFile(opts.OutputDir, FormatJSON, kind, opts.StartedAt)
		if err != nil {
			return nil, err
		}

		enc, err := NewJSONArrayEncoder(f)
		if err != nil {
			_ = f.Close()

			return nil, err
		}

		return enc, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
}
