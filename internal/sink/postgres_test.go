package sink

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etenders/internal/apperr"
	"etenders/internal/logger"
	"etenders/internal/models"
)

func newMockStore(t *testing.T, batchSize int) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return NewPostgresStore(db, batchSize, 5*time.Second, logger.Discard()), mock
}

func expectRecord(mock sqlmock.Sqlmock, table string) {
	mock.ExpectExec("^SAVEPOINT sink_record").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("^INSERT INTO " + table).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("^RELEASE SAVEPOINT sink_record").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	store, mock := newMockStore(t, 10)

	for _, table := range []string{"etenders_core", "etenders_pdf", "cpv_checker", "bid_analysis"} {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSchemaFailureIsFatal(t *testing.T) {
	store, mock := newMockStore(t, 10)
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	err := store.EnsureSchema(context.Background())
	assert.True(t, apperr.IsFatal(err))
}

func TestPostgresStore_SavepointIsolation(t *testing.T) {
	store, mock := newMockStore(t, 10)
	w := NewWriter("tenders", NewPostgresEncoder(store), nil, logger.Discard())

	mock.ExpectBegin()
	expectRecord(mock, "etenders_core")
	mock.ExpectExec("^SAVEPOINT sink_record").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("^INSERT INTO etenders_core").WillReturnError(errors.New("duplicate key value violates unique constraint"))
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT sink_record").WillReturnResult(sqlmock.NewResult(0, 0))
	expectRecord(mock, "etenders_core")
	mock.ExpectCommit()

	assert.True(t, w.Write(tenderRecord(1)))
	assert.False(t, w.Write(tenderRecord(2)))
	assert.True(t, w.Write(tenderRecord(3)))
	require.NoError(t, w.Close())

	assert.Equal(t, Stats{Name: "tenders", Attempted: 3, Written: 2, Failed: 1}, w.Stats())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BatchCommits(t *testing.T) {
	store, mock := newMockStore(t, 2)

	mock.ExpectBegin()
	expectRecord(mock, "etenders_core")
	expectRecord(mock, "etenders_pdf")
	mock.ExpectCommit()
	mock.ExpectBegin()
	expectRecord(mock, "cpv_checker")
	mock.ExpectCommit()

	require.NoError(t, store.Upsert(tenderRecord(1)))
	require.NoError(t, store.Upsert(models.EnrichmentRecord{ResourceID: 1, Parsed: true}))
	require.NoError(t, store.Upsert(models.NewClassificationCodeRecord(1, []models.CodeMatch{{Code: "72000000"}})))
	require.NoError(t, store.Flush())
	require.NoError(t, store.Flush())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailedRollbackStartsFreshTransaction(t *testing.T) {
	store, mock := newMockStore(t, 10)

	mock.ExpectBegin()
	mock.ExpectExec("^SAVEPOINT sink_record").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("^INSERT INTO bid_analysis").WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT sink_record").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	expectRecord(mock, "bid_analysis")
	mock.ExpectCommit()

	err := store.Upsert(models.BidAnalysis{ResourceID: 4})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CategorySinkWriteFailure))

	require.NoError(t, store.Upsert(models.BidAnalysis{ResourceID: 5, RelevantFactors: []string{"cloud"}}))
	require.NoError(t, store.Flush())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitFailureReplaysOnce(t *testing.T) {
	store, mock := newMockStore(t, 1)

	mock.ExpectBegin()
	expectRecord(mock, "etenders_core")
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))
	mock.ExpectBegin().WillReturnError(errors.New("connection reset"))

	err := store.Upsert(tenderRecord(1))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CategorySinkWriteFailure))
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitFailureReplaySucceeds(t *testing.T) {
	store, mock := newMockStore(t, 2)
	w := NewWriter("tenders", NewPostgresEncoder(store), nil, logger.Discard())

	mock.ExpectBegin()
	expectRecord(mock, "etenders_core")
	expectRecord(mock, "etenders_core")
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
	mock.ExpectBegin()
	expectRecord(mock, "etenders_core")
	expectRecord(mock, "etenders_core")
	mock.ExpectCommit()

	assert.True(t, w.Write(tenderRecord(1)))
	assert.True(t, w.Write(tenderRecord(2)))

	assert.Equal(t, Stats{Name: "tenders", Attempted: 2, Written: 2}, w.Stats())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LostBatchIsRevokedFromEveryWriter(t *testing.T) {
	store, mock := newMockStore(t, 3)
	logPath := filepath.Join(t.TempDir(), "errors.jsonl")
	errlog := NewErrorLog(logPath, "run-7")

	tenders := NewWriter("tenders", NewPostgresEncoder(store), errlog, logger.Discard())
	pdfs := NewWriter("pdfs", NewPostgresEncoder(store), errlog, logger.Discard())

	mock.ExpectBegin()
	expectRecord(mock, "etenders_core")
	expectRecord(mock, "etenders_pdf")
	expectRecord(mock, "etenders_core")
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))
	mock.ExpectBegin()
	expectRecord(mock, "etenders_core")
	expectRecord(mock, "etenders_pdf")
	expectRecord(mock, "etenders_core")
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	assert.True(t, tenders.Write(tenderRecord(1)))
	assert.True(t, pdfs.Write(models.EnrichmentRecord{ResourceID: 1, Parsed: true}))
	assert.False(t, tenders.Write(tenderRecord(2)))

	assert.Equal(t, Stats{Name: "tenders", Attempted: 2, Written: 0, Failed: 2}, tenders.Stats())
	assert.Equal(t, Stats{Name: "pdfs", Attempted: 1, Written: 0, Failed: 1}, pdfs.Stats())

	entries := readEntries(t, logPath)
	require.Len(t, entries, 3)

	ids := map[string]string{}
	for _, e := range entries {
		ids[e.Component+"/"+e.ResourceID] = e.Error
		assert.Equal(t, string(apperr.CategorySinkWriteFailure), e.Category)
	}

	assert.Contains(t, ids, "tenders/1")
	assert.Contains(t, ids, "pdfs/1")
	assert.Contains(t, ids, "tenders/2")
	assert.Contains(t, ids["pdfs/1"], "batch of 3 records lost")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavepointFailureReplaysPending(t *testing.T) {
	store, mock := newMockStore(t, 10)
	w := NewWriter("tenders", NewPostgresEncoder(store), nil, logger.Discard())

	mock.ExpectBegin()
	expectRecord(mock, "etenders_core")
	mock.ExpectExec("^SAVEPOINT sink_record").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	expectRecord(mock, "etenders_core")
	expectRecord(mock, "etenders_core")
	mock.ExpectCommit()

	assert.True(t, w.Write(tenderRecord(1)))
	assert.True(t, w.Write(tenderRecord(2)))
	require.NoError(t, w.Close())

	assert.Equal(t, Stats{Name: "tenders", Attempted: 2, Written: 2}, w.Stats())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FlushFailureAtClose(t *testing.T) {
	store, mock := newMockStore(t, 10)
	w := NewWriter("tenders", NewPostgresEncoder(store), nil, logger.Discard())

	mock.ExpectBegin()
	expectRecord(mock, "etenders_core")
	expectRecord(mock, "etenders_core")
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))
	mock.ExpectBegin().WillReturnError(errors.New("connection reset"))

	assert.True(t, w.Write(tenderRecord(1)))
	assert.True(t, w.Write(tenderRecord(2)))

	err := w.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch of 2 records lost")

	assert.Equal(t, Stats{Name: "tenders", Attempted: 2, Written: 0, Failed: 2}, w.Stats())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertStatement_Unsupported(t *testing.T) {
	_, _, err := upsertStatement(unknownRecord{})
	assert.ErrorIs(t, err, ErrUnsupportedRecord)
}

type unknownRecord struct{}

func (unknownRecord) Kind() models.Kind         { return "unknown" }
func (unknownRecord) Identifier() (int64, bool) { return 1, true }

func TestOpenPostgres_ConnectionRefused(t *testing.T) {
	dsn := "host=127.0.0.1 port=1 user=x password=y dbname=z sslmode=disable connect_timeout=1"

	_, err := OpenPostgres(context.Background(), dsn, 10, 2*time.Second, logger.Discard())
	require.Error(t, err)
	assert.True(t, apperr.IsFatal(err))
}
