package crawler

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"

	"etenders/internal/apperr"
)

// PDF errors.
var (
	ErrNotPDF        = errors.New("content is not a PDF document")
	ErrPDFExtraction = errors.New("failed to extract PDF text")
	ErrEmptyDocument = errors.New("document has no extractable text")
)

var pdfMagic = []byte("%PDF-")

// PDFExtractor pulls plain text out of PDF bytes.
type PDFExtractor struct{}

// NewPDFExtractor creates a new extractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract returns the document's plain text. Malformed documents are
// reported as errors, never as panics.
func (e *PDFExtractor) Extract(data []byte) (text string, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic) {
		return "", apperr.Wrap(ErrNotPDF, apperr.CategoryDocumentUnavailable, false)
	}

	defer func() {
		if r := recover(); r != nil {
			err = apperr.Wrap(fmt.Errorf("%w: %v", ErrPDFExtraction, r), apperr.CategoryDocumentUnavailable, false)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", apperr.Wrap(fmt.Errorf("%w: %w", ErrPDFExtraction, err), apperr.CategoryDocumentUnavailable, false)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", apperr.Wrap(fmt.Errorf("%w: %w", ErrPDFExtraction, err), apperr.CategoryDocumentUnavailable, false)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", apperr.Wrap(fmt.Errorf("%w: %w", ErrPDFExtraction, err), apperr.CategoryDocumentUnavailable, false)
	}

	return buf.String(), nil
}
