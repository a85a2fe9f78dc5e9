package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"etenders/internal/apperr"
	"etenders/internal/logger"
	"etenders/internal/models"
)

// ErrUnsupportedRecord is returned for record kinds without a table.
var ErrUnsupportedRecord = errors.New("record kind has no table")

const savepoint = "sink_record"

// Table names per record kind.
var tables = map[models.Kind]string{
	models.KindTender:     "etenders_core",
	models.KindEnrichment: "etenders_pdf",
	models.KindCodes:      "cpv_checker",
	models.KindBid:        "bid_analysis",
}

// schema is applied in order; derived tables cascade from etenders_core.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS etenders_core (
		resource_id BIGINT PRIMARY KEY,
		row_number TEXT,
		title TEXT,
		detail_url TEXT,
		contracting_authority TEXT,
		info TEXT,
		date_published TEXT,
		submission_deadline TEXT,
		procedure TEXT,
		status TEXT,
		notice_pdf_url TEXT,
		award_date TEXT,
		estimated_value TEXT,
		cycle TEXT,
		date_published_parsed TEXT,
		submission_deadline_parsed TEXT,
		award_date_parsed TEXT,
		estimated_value_numeric NUMERIC(15, 2),
		cycle_numeric BIGINT,
		has_pdf_url BOOLEAN NOT NULL DEFAULT FALSE,
		has_estimated_value BOOLEAN NOT NULL DEFAULT FALSE,
		is_open BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS etenders_pdf (
		resource_id BIGINT PRIMARY KEY REFERENCES etenders_core(resource_id) ON DELETE CASCADE,
		pdf_url TEXT,
		pdf_parsed BOOLEAN NOT NULL DEFAULT FALSE,
		pdf_content JSONB,
		metadata JSONB,
		parse_error TEXT,
		quality TEXT,
		content_digest TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS cpv_checker (
		resource_id BIGINT PRIMARY KEY REFERENCES etenders_core(resource_id) ON DELETE CASCADE,
		cpv_count INTEGER NOT NULL DEFAULT 0,
		cpv_codes TEXT[],
		cpv_details JSONB,
		has_validated_cpv BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS bid_analysis (
		resource_id BIGINT PRIMARY KEY REFERENCES etenders_core(resource_id) ON DELETE CASCADE,
		should_bid BOOLEAN NOT NULL DEFAULT FALSE,
		confidence NUMERIC(3, 2),
		reasoning TEXT,
		relevant_factors TEXT[],
		estimated_fit NUMERIC(3, 2),
		analyzed_at TIMESTAMPTZ,
		error BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

const upsertTender = `INSERT INTO etenders_core (
	resource_id, row_number, title, detail_url, contracting_authority,
	info, date_published, submission_deadline, procedure, status,
	notice_pdf_url, award_date, estimated_value, cycle,
	date_published_parsed, submission_deadline_parsed, award_date_parsed,
	estimated_value_numeric, cycle_numeric, has_pdf_url,
	has_estimated_value, is_open
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
ON CONFLICT (resource_id) DO UPDATE SET
	row_number = EXCLUDED.row_number,
	title = EXCLUDED.title,
	detail_url = EXCLUDED.detail_url,
	contracting_authority = EXCLUDED.contracting_authority,
	info = EXCLUDED.info,
	date_published = EXCLUDED.date_published,
	submission_deadline = EXCLUDED.submission_deadline,
	procedure = EXCLUDED.procedure,
	status = EXCLUDED.status,
	notice_pdf_url = EXCLUDED.notice_pdf_url,
	award_date = EXCLUDED.award_date,
	estimated_value = EXCLUDED.estimated_value,
	cycle = EXCLUDED.cycle,
	date_published_parsed = EXCLUDED.date_published_parsed,
	submission_deadline_parsed = EXCLUDED.submission_deadline_parsed,
	award_date_parsed = EXCLUDED.award_date_parsed,
	estimated_value_numeric = EXCLUDED.estimated_value_numeric,
	cycle_numeric = EXCLUDED.cycle_numeric,
	has_pdf_url = EXCLUDED.has_pdf_url,
	has_estimated_value = EXCLUDED.has_estimated_value,
	is_open = EXCLUDED.is_open,
	updated_at = CURRENT_TIMESTAMP`

const upsertEnrichment = `INSERT INTO etenders_pdf (
	resource_id, pdf_url, pdf_parsed, pdf_content, metadata, parse_error, quality, content_digest
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (resource_id) DO UPDATE SET
	pdf_url = EXCLUDED.pdf_url,
	pdf_parsed = EXCLUDED.pdf_parsed,
	pdf_content = EXCLUDED.pdf_content,
	metadata = EXCLUDED.metadata,
	parse_error = EXCLUDED.parse_error,
	quality = EXCLUDED.quality,
	content_digest = EXCLUDED.content_digest,
	updated_at = CURRENT_TIMESTAMP`

const upsertCodes = `INSERT INTO cpv_checker (
	resource_id, cpv_count, cpv_codes, cpv_details, has_validated_cpv
) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (resource_id) DO UPDATE SET
	cpv_count = EXCLUDED.cpv_count,
	cpv_codes = EXCLUDED.cpv_codes,
	cpv_details = EXCLUDED.cpv_details,
	has_validated_cpv = EXCLUDED.has_validated_cpv,
	updated_at = CURRENT_TIMESTAMP`

const upsertBid = `INSERT INTO bid_analysis (
	resource_id, should_bid, confidence, reasoning, relevant_factors, estimated_fit, analyzed_at, error
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (resource_id) DO UPDATE SET
	should_bid = EXCLUDED.should_bid,
	confidence = EXCLUDED.confidence,
	reasoning = EXCLUDED.reasoning,
	relevant_factors = EXCLUDED.relevant_factors,
	estimated_fit = EXCLUDED.estimated_fit,
	analyzed_at = EXCLUDED.analyzed_at,
	error = EXCLUDED.error,
	updated_at = CURRENT_TIMESTAMP`

// PostgresStore upserts records into the relational schema. Records share
// one transaction that is committed every batchSize records; each record
// runs under its own savepoint so a failing statement rolls back alone.
// A batch whose transaction fails is replayed once before its records are
// revoked from the writers that reported them.
type PostgresStore struct {
	db        *sql.DB
	logger    *logger.Logger
	batchSize int
	timeout   time.Duration

	mu      sync.Mutex
	tx      *sql.Tx
	pending []pendingWrite
}

// OpenPostgres connects to dsn and prepares the schema. Any failure is a
// sink connection failure and must stop the run.
func OpenPostgres(ctx context.Context, dsn string, batchSize int, timeout time.Duration, log *logger.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperr.Wrap(fmt.Errorf("failed to open database: %w", err), apperr.CategorySinkConnectionFailure, false)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, apperr.Wrap(fmt.Errorf("failed to connect to database: %w", err), apperr.CategorySinkConnectionFailure, false)
	}

	store := NewPostgresStore(db, batchSize, timeout, log)

	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()

		return nil, err
	}

	log.Info("connected to PostgreSQL", "batch_size", batchSize)

	return store, nil
}

// NewPostgresStore wraps an open database.
func NewPostgresStore(db *sql.DB, batchSize int, timeout time.Duration, log *logger.Logger) *PostgresStore {
	if batchSize < 1 {
		batchSize = 1
	}

	return &PostgresStore{
		db:        db,
		logger:    log,
		batchSize: batchSize,
		timeout:   timeout,
	}
}

// EnsureSchema creates the tables when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperr.Wrap(fmt.Errorf("failed to create schema: %w", err), apperr.CategorySinkConnectionFailure, false)
		}
	}

	return nil
}

// Revoker is told when a record it already reported as written was lost
// with its batch.
type Revoker interface {
	Revoke(rec models.Record, err error)
}

// pendingWrite is a record executed in the open transaction but not yet committed.
type pendingWrite struct {
	rec   models.Record
	query string
	args  []any
	owner Revoker
}

// Upsert writes rec inside the current batch.
func (s *PostgresStore) Upsert(rec models.Record) error {
	return s.upsert(rec, nil)
}

func (s *PostgresStore) upsert(rec models.Record, owner Revoker) error {
	query, args, err := upsertStatement(rec)
	if err != nil {
		return apperr.Wrap(err, apperr.CategorySinkWriteFailure, false)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := pendingWrite{rec: rec, query: query, args: args, owner: owner}

	if s.tx == nil {
		// The transaction outlives this call, so it must not be bound to a timeout.
		tx, err := s.db.BeginTx(context.Background(), nil)
		if err != nil {
			return writeFailure(fmt.Errorf("failed to begin transaction: %w", err), true)
		}

		s.tx = tx
	}

	stmtErr, txErr := s.exec(s.tx, w)

	switch {
	case txErr != nil && stmtErr != nil:
		// The record failed on its own; only the batch before it needs saving.
		s.recoverLocked(s.takeLocked(), -1, txErr)

		return writeFailure(fmt.Errorf("upsert into %s: %w", tables[rec.Kind()], stmtErr), false)
	case txErr != nil:
		batch := append(s.takeLocked(), w)

		return s.recoverLocked(batch, len(batch)-1, txErr)
	case stmtErr != nil:
		return writeFailure(fmt.Errorf("upsert into %s: %w", tables[rec.Kind()], stmtErr), false)
	}

	s.pending = append(s.pending, w)

	if len(s.pending) >= s.batchSize {
		return s.commitLocked(len(s.pending) - 1)
	}

	return nil
}

// exec runs one upsert behind a savepoint. stmtErr is the record's own
// failure; txErr means the transaction can no longer be used.
func (s *PostgresStore) exec(tx *sql.Tx, w pendingWrite) (stmtErr, txErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return nil, fmt.Errorf("failed to set savepoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx, w.query, w.args...); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return err, fmt.Errorf("failed to roll back to savepoint: %w", rbErr)
		}

		return err, nil
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return nil, fmt.Errorf("failed to release savepoint: %w", err)
	}

	return nil, nil
}

// Flush commits the open batch. Records lost with it are revoked from
// their writers and reported in the returned error.
func (s *PostgresStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commitLocked(-1)
}

// Close commits the open batch and closes the database.
func (s *PostgresStore) Close() error {
	err := s.Flush()

	return errors.Join(err, s.db.Close())
}

// takeLocked discards the open transaction and returns its pending records.
func (s *PostgresStore) takeLocked() []pendingWrite {
	batch := s.pending

	if s.tx != nil {
		_ = s.tx.Rollback()
	}

	s.tx = nil
	s.pending = nil

	return batch
}

// commitLocked commits the open batch. trigger is the index of the record
// whose write is in progress, or -1.
func (s *PostgresStore) commitLocked(trigger int) error {
	if s.tx == nil {
		return nil
	}

	batch := s.pending
	err := s.tx.Commit()
	s.tx = nil
	s.pending = nil

	if err == nil {
		s.logger.Debug("batch committed", "records", len(batch))

		return nil
	}

	return s.recoverLocked(batch, trigger, fmt.Errorf("failed to commit batch: %w", err))
}

// recoverLocked replays batch once in a fresh transaction. When the replay
// fails too, every record except the trigger is revoked from its writer and
// the trigger's failure is returned.
func (s *PostgresStore) recoverLocked(batch []pendingWrite, trigger int, cause error) error {
	if len(batch) == 0 {
		return nil
	}

	s.logger.Warn("replaying batch", "records", len(batch), "error", cause)

	replayErr := s.replay(batch)
	if replayErr == nil {
		s.logger.Info("batch replayed", "records", len(batch))

		return nil
	}

	lost := writeFailure(fmt.Errorf("batch of %d records lost: %w", len(batch), errors.Join(cause, replayErr)), false)

	s.logger.Error("batch lost after replay", "records", len(batch), "error", lost)

	for i, w := range batch {
		if i == trigger {
			continue
		}

		if w.owner != nil {
			w.owner.Revoke(w.rec, lost)
		} else {
			s.logger.Error("uncommitted record lost", "table", tables[w.rec.Kind()], "resource_id", recordID(w.rec))
		}
	}

	return lost
}

func (s *PostgresStore) replay(batch []pendingWrite) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin replay: %w", err)
	}

	for _, w := range batch {
		stmtErr, txErr := s.exec(tx, w)
		if err := errors.Join(stmtErr, txErr); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("replay of %s %s: %w", tables[w.rec.Kind()], recordID(w.rec), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replay: %w", err)
	}

	return nil
}

func writeFailure(err error, retryable bool) error {
	return apperr.Wrap(err, apperr.CategorySinkWriteFailure, retryable)
}

func upsertStatement(rec models.Record) (string, []any, error) {
	switch r := rec.(type) {
	case models.NormalizedRecord:
		return upsertTender, []any{
			r.ResourceID, r.RowNumber, r.Title, r.DetailURL, r.ContractingAuthority,
			r.Info, r.DatePublished, r.SubmissionDeadline, r.Procedure, r.Status,
			r.NoticePDFURL, r.AwardDate, r.EstimatedValue, r.Cycle,
			nullString(r.DatePublishedParsed), nullString(r.SubmissionDeadlineParsed), nullString(r.AwardDateParsed),
			r.EstimatedValueNumeric, r.CycleNumeric, r.HasPDFURL,
			r.HasEstimatedValue, r.IsOpen,
		}, nil
	case models.EnrichmentRecord:
		content, err := r.SectionsJSON()
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode sections: %w", err)
		}

		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode metadata: %w", err)
		}

		return upsertEnrichment, []any{
			r.ResourceID, r.PDFURL, r.Parsed, string(content), string(meta),
			nullString(r.ParseError), string(r.Quality), nullString(r.ContentDigest),
		}, nil
	case models.ClassificationCodeRecord:
		details, err := json.Marshal(r.CPVDetails)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode code details: %w", err)
		}

		return upsertCodes, []any{
			r.ResourceID, r.CPVCount, pq.Array(r.CPVCodes), string(details), r.HasValidatedCPV,
		}, nil
	case models.BidAnalysis:
		return upsertBid, []any{
			r.ResourceID, r.ShouldBid, r.Confidence, r.Reasoning, pq.Array(r.RelevantFactors),
			r.EstimatedFit, r.AnalyzedAt, r.Error,
		}, nil
	}

	return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedRecord, rec.Kind())
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PostgresEncoder routes one record kind into a shared store.
type PostgresEncoder struct {
	store *PostgresStore
	owner Revoker
}

// NewPostgresEncoder creates an encoder for store.
func NewPostgresEncoder(store *PostgresStore) *PostgresEncoder {
	return &PostgresEncoder{store: store}
}

func (e *PostgresEncoder) bindOwner(r Revoker) { e.owner = r }

// Encode implements Encoder.
func (e *PostgresEncoder) Encode(rec models.Record) error {
	return e.store.upsert(rec, e.owner)
}

// Close commits pending records. The store itself stays open for the other tables.
func (e *PostgresEncoder) Close() error {
	return e.store.Flush()
}
