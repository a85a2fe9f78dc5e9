package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"etenders/internal/logger"
	"etenders/internal/models"
	"etenders/pkg/utils"
)

// Listing errors.
var ErrListingTableMissing = errors.New("listing table not found")

const (
	listingTableSelector = "table#T01"
	minListingCells      = 9
)

// Lister walks the public tender listing page by page.
type Lister struct {
	fetcher   *Fetcher
	logger    *logger.Logger
	urls      *utils.HTTPHelper
	text      *utils.StringHelper
	baseURL   string
	pageDelay time.Duration
}

// NewLister creates a lister for the site at baseURL.
func NewLister(fetcher *Fetcher, baseURL string, pageDelay time.Duration, log *logger.Logger) *Lister {
	return &Lister{
		fetcher:   fetcher,
		logger:    log,
		urls:      utils.NewHTTPHelper(),
		text:      utils.NewStringHelper(),
		baseURL:   strings.TrimRight(baseURL, "/"),
		pageDelay: pageDelay,
	}
}

// PageURL returns the listing URL of page.
func (l *Lister) PageURL(page int) string {
	return fmt.Sprintf("%s/epps/quickSearchAction.do?d-3680175-p=%d&searchType=cftFTS&latest=true", l.baseURL, page)
}

// Records lazily yields the rows of pages start..end in order. A page that
// cannot be fetched or parsed yields one error and the walk moves on.
// Cancelling ctx yields ctx.Err() and ends the sequence.
func (l *Lister) Records(ctx context.Context, start, end int) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		for page := start; page <= end; page++ {
			if err := ctx.Err(); err != nil {
				yield(models.RawRecord{}, err)

				return
			}

			l.logger.Info(fmt.Sprintf("Scraping page %d...", page))

			records, err := l.Page(ctx, page)
			if err != nil {
				if !yield(models.RawRecord{}, fmt.Errorf("page %d: %w", page, err)) {
					return
				}
			}

			for _, rec := range records {
				if !yield(rec, nil) {
					return
				}
			}

			if page < end {
				if err := sleep(ctx, l.pageDelay); err != nil {
					yield(models.RawRecord{}, err)

					return
				}
			}
		}
	}
}

// Page fetches and parses one listing page.
func (l *Lister) Page(ctx context.Context, page int) ([]models.RawRecord, error) {
	body, err := l.fetcher.Fetch(ctx, l.PageURL(page))
	if err != nil {
		return nil, err
	}

	return l.ParseListing(body)
}

// ParseListing extracts the rows of the listing table. Relative links are
// made absolute against the lister's base URL.
func (l *Lister) ParseListing(html []byte) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing HTML: %w", err)
	}

	table := doc.Find(listingTableSelector).First()
	if table.Length() == 0 {
		return nil, ErrListingTableMissing
	}

	var records []models.RawRecord

	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}

		cells := row.Find("td")
		if cells.Length() < minListingCells {
			return
		}

		cell := func(idx int) string {
			if idx >= cells.Length() {
				return ""
			}

			return l.text.NormalizeWhitespace(cells.Eq(idx).Text())
		}

		link := func(idx int) string {
			if idx >= cells.Length() {
				return ""
			}

			href, ok := cells.Eq(idx).Find("a").First().Attr("href")
			if !ok {
				return ""
			}

			return l.urls.ResolveURL(l.baseURL, strings.TrimSpace(href))
		}

		records = append(records, models.RawRecord{
			RowNumber:            cell(0),
			Title:                cell(1),
			DetailURL:            link(1),
			ResourceID:           cell(2),
			ContractingAuthority: cell(3),
			Info:                 cell(4),
			DatePublished:        cell(5),
			SubmissionDeadline:   cell(6),
			Procedure:            cell(7),
			Status:               cell(8),
			NoticePDFURL:         link(9),
			AwardDate:            cell(10),
			EstimatedValue:       cell(11),
			Cycle:                cell(12),
		})
	})

	return records, nil
}
