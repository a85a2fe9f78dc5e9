package crawler

import (
	"context"
	"fmt"
	"strings"

	"etenders/internal/apperr"
)

// TextExtractor turns document bytes into text.
type TextExtractor interface {
	Extract(data []byte) (string, error)
}

// DocumentClient fetches notice documents and extracts their text.
type DocumentClient struct {
	fetcher   *Fetcher
	extractor TextExtractor
}

// NewDocumentClient creates a client with default dependencies.
func NewDocumentClient() *DocumentClient {
	return NewDocumentClientWithDeps(NewFetcher().WithAccept("application/pdf,*/*;q=0.8"), NewPDFExtractor())
}

// NewDocumentClientWithDeps creates a client with injected dependencies.
func NewDocumentClientWithDeps(fetcher *Fetcher, extractor TextExtractor) *DocumentClient {
	return &DocumentClient{
		fetcher:   fetcher,
		extractor: extractor,
	}
}

// Text downloads url and returns its text content.
func (c *DocumentClient) Text(ctx context.Context, url string) (string, error) {
	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch document: %w", err)
	}

	text, err := c.extractor.Extract(data)
	if err != nil {
		return "", fmt.Errorf("failed to extract document: %w", err)
	}

	if strings.TrimSpace(text) == "" {
		return "", apperr.Wrap(ErrEmptyDocument, apperr.CategoryDocumentUnavailable, false)
	}

	return text, nil
}
