package sink

import (
	"encoding/csv"
	"fmt"
	"io"

	"etenders/internal/logger"
	"etenders/internal/models"
)

// CSVEncoder writes flattened records as CSV. The first record fixes the
// header; columns first seen later are dropped with a schema drift warning.
type CSVEncoder struct {
	out    io.WriteCloser
	w      *csv.Writer
	logger *logger.Logger
	header []string
	index  map[string]int
	drift  map[string]bool
}

// NewCSVEncoder creates an encoder writing to out.
func NewCSVEncoder(out io.WriteCloser, log *logger.Logger) *CSVEncoder {
	return &CSVEncoder{
		out:    out,
		w:      csv.NewWriter(out),
		logger: log,
		drift:  make(map[string]bool),
	}
}

// Encode implements Encoder.
func (e *CSVEncoder) Encode(rec models.Record) error {
	fields, err := Flatten(rec)
	if err != nil {
		return err
	}

	if e.header == nil {
		header := make([]string, len(fields))
		index := make(map[string]int, len(fields))

		for i, f := range fields {
			header[i] = f.Key
			index[f.Key] = i
		}

		if err := e.writeRow(header); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}

		e.header, e.index = header, index
	}

	row := make([]string, len(e.header))

	for _, f := range fields {
		i, ok := e.index[f.Key]
		if !ok {
			if !e.drift[f.Key] {
				e.drift[f.Key] = true
				e.logger.Warn("schema drift: column not in header, value dropped", "column", f.Key)
			}

			continue
		}

		row[i] = f.Value
	}

	if err := e.writeRow(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}

	return nil
}

// writeRow writes and flushes one row. A failed flush leaves the csv.Writer
// with a sticky error, so it is replaced and the next row can try again.
func (e *CSVEncoder) writeRow(row []string) error {
	err := e.w.Write(row)
	if err == nil {
		e.w.Flush()
		err = e.w.Error()
	}

	if err != nil {
		e.w = csv.NewWriter(e.out)

		return err
	}

	return nil
}

// Columns returns the header width, 0 before the first record.
func (e *CSVEncoder) Columns() int { return len(e.header) }

// DriftedColumns returns the number of distinct columns dropped so far.
func (e *CSVEncoder) DriftedColumns() int { return len(e.drift) }

// Close implements Encoder.
func (e *CSVEncoder) Close() error {
	e.w.Flush()

	if err := e.w.Error(); err != nil {
		_ = e.out.Close()

		return err
	}

	return e.out.Close()
}
