// Package sink persists pipeline records. A Writer wraps a format specific
// Encoder with identifier validation, per-record fault isolation, counters
// and the persistent error log.
package sink

import (
	"errors"
	"fmt"
	"sync"

	"etenders/internal/apperr"
	"etenders/internal/logger"
	"etenders/internal/models"
	"etenders/internal/normalizer"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("writer is closed")

// Encoder serializes records in one output format.
type Encoder interface {
	Encode(rec models.Record) error
	Close() error
}

// columnCounter is implemented by encoders with a fixed column set.
type columnCounter interface {
	Columns() int
}

// ownerBinder is implemented by encoders that may lose records after
// reporting them written.
type ownerBinder interface {
	bindOwner(r Revoker)
}

// Recorder receives one event per write.
type Recorder interface {
	RecordSink(sink string, ok bool)
}

// Stats are the running counters of one writer.
type Stats struct {
	Name      string
	Attempted int
	Written   int
	Failed    int
	Columns   int
}

// Writer persists records of one kind.
type Writer struct {
	name      string
	encoder   Encoder
	validator *normalizer.Validator
	errlog    *ErrorLog
	logger    *logger.Logger
	recorder  Recorder

	mu     sync.Mutex
	closed bool

	// statsMu is separate from mu so a store can revoke records while
	// this writer is inside Write or Close.
	statsMu sync.Mutex
	stats   Stats
}

// NewWriter creates a writer around enc.
func NewWriter(name string, enc Encoder, errlog *ErrorLog, log *logger.Logger) *Writer {
	w := &Writer{
		name:      name,
		encoder:   enc,
		validator: normalizer.NewValidator(),
		errlog:    errlog,
		logger:    log.With("sink", name),
		stats:     Stats{Name: name},
	}

	if b, ok := enc.(ownerBinder); ok {
		b.bindOwner(w)
	}

	return w
}

// WithRecorder sets the per-write event recorder.
func (w *Writer) WithRecorder(r Recorder) *Writer {
	w.recorder = r

	return w
}

// Name returns the writer's table name.
func (w *Writer) Name() string { return w.name }

// Write persists rec and reports success. It never panics: every failure
// is counted, logged with the record's id and sent to the error log.
func (w *Writer) Write(rec models.Record) (ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count(func(s *Stats) { s.Attempted++ })

	defer func() {
		if r := recover(); r != nil {
			w.fail(rec, fmt.Errorf("encoder panic: %v", r))

			ok = false
		}

		if w.recorder != nil {
			w.recorder.RecordSink(w.name, ok)
		}
	}()

	if w.closed {
		w.fail(rec, ErrWriterClosed)

		return false
	}

	if err := w.validator.Validate(rec); err != nil {
		w.fail(rec, err)

		return false
	}

	if err := w.encoder.Encode(rec); err != nil {
		w.fail(rec, err)

		return false
	}

	w.count(func(s *Stats) { s.Written++ })

	return true
}

// Revoke turns an earlier successful write of rec into a failure.
func (w *Writer) Revoke(rec models.Record, err error) {
	w.count(func(s *Stats) {
		s.Written--
		s.Failed++
	})

	w.report(rec, err)
}

func (w *Writer) count(fn func(s *Stats)) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	fn(&w.stats)
}

func (w *Writer) fail(rec models.Record, err error) {
	w.count(func(s *Stats) { s.Failed++ })
	w.report(rec, err)
}

func (w *Writer) report(rec models.Record, err error) {
	if apperr.CategoryOf(err) == "" {
		err = apperr.Wrap(err, apperr.CategorySinkWriteFailure, false)
	}

	id := recordID(rec)

	w.logger.Error("failed to write record", "resource_id", id, "error", err)

	if logErr := w.errlog.Append(w.name, id, err, rec); logErr != nil {
		w.logger.Warn("failed to append to error log", "error", logErr)
	}
}

// Stats returns a snapshot of the counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.statsMu.Lock()
	s := w.stats
	w.statsMu.Unlock()

	if cc, ok := w.encoder.(columnCounter); ok {
		s.Columns = cc.Columns()
	}

	return s
}

// Close finalizes the output. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	if err := w.encoder.Close(); err != nil {
		return fmt.Errorf("failed to close %s sink: %w", w.name, err)
	}

	w.statsMu.Lock()
	s := w.stats
	w.statsMu.Unlock()

	w.logger.Info("sink closed", "attempted", s.Attempted, "written", s.Written, "failed", s.Failed)

	return nil
}

func recordID(rec models.Record) string {
	if n, ok := rec.(models.NormalizedRecord); ok {
		return n.IDString()
	}

	if id, ok := rec.Identifier(); ok {
		return fmt.Sprintf("%d", id)
	}

	return "unknown"
}
