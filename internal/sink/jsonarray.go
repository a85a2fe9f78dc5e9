package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"etenders/internal/models"
)

// JSONArrayEncoder streams records into a single JSON array, one record per
// line, so the result set is never held in memory.
type JSONArrayEncoder struct {
	out   io.WriteCloser
	buf   *bufio.Writer
	count int
}

// NewJSONArrayEncoder writes the opening bracket and returns the encoder.
func NewJSONArrayEncoder(out io.WriteCloser) (*JSONArrayEncoder, error) {
	e := &JSONArrayEncoder{out: out, buf: bufio.NewWriter(out)}

	if _, err := e.buf.WriteString("["); err != nil {
		return nil, fmt.Errorf("failed to start JSON array: %w", err)
	}

	if err := e.buf.Flush(); err != nil {
		return nil, fmt.Errorf("failed to start JSON array: %w", err)
	}

	return e, nil
}

// Encode implements Encoder. Nothing is written when rec fails to encode.
func (e *JSONArrayEncoder) Encode(rec models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	sep := ",\n  "
	if e.count == 0 {
		sep = "\n  "
	}

	if _, err := e.buf.WriteString(sep); err != nil {
		return err
	}

	if _, err := e.buf.Write(data); err != nil {
		return err
	}

	if err := e.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush JSON record: %w", err)
	}

	e.count++

	return nil
}

// Close writes the closing bracket.
func (e *JSONArrayEncoder) Close() error {
	if _, err := e.buf.WriteString("\n]\n"); err != nil {
		_ = e.out.Close()

		return err
	}

	if err := e.buf.Flush(); err != nil {
		_ = e.out.Close()

		return err
	}

	return e.out.Close()
}
