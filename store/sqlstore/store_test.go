package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goToken/store"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	s := New(sqlx.NewDb(db, "sqlmock"), func() time.Time { return fixedNow })
	return s, mock, func() {
		db.Close()
	}
}

func q(query string) string { return regexp.QuoteMeta(query) }

func newRecord(family, hash string) store.RefreshTokenRecord {
	return store.RefreshTokenRecord{
		ID:        "rec-1",
		TokenHash: hash,
		FamilyID:  family,
		Subject:   "alice",
		IssuedAt:  fixedNow,
		ExpiresAt: fixedNow.Add(time.Hour),
		Client:    store.ClientContext{RemoteAddr: "10.0.0.1", UserAgent: "ua"},
	}
}

func recordColumns() []string {
	return []string{"id", "token_hash", "family_id", "subject", "issued_at", "expires_at", "status", "remote_addr", "user_agent"}
}

func TestInsertRefreshRecordCreatesFamily(t *testing.T) {
	s, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(q(insertFamilyQuery)).
		WithArgs("fam-1", "alice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(insertRecordQuery)).
		WithArgs("rec-1", "hash-1", "fam-1", "alice", sqlmock.AnyArg(), sqlmock.AnyArg(), "10.0.0.1", "ua").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := s.InsertRefreshRecord(context.Background(), newRecord("fam-1", "hash-1"))
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, rec.Status)
	assert.Equal(t, "rec-1", rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRefreshRecordDuplicateRollsBack(t *testing.T) {
	s, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(q(insertFamilyQuery)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(insertRecordQuery)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "refresh_tokens_token_hash_key"})
	mock.ExpectRollback()

	_, err := s.InsertRefreshRecord(context.Background(), newRecord("fam-1", "hash-1"))
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindRefreshRecordByHash(t *testing.T) {
	s, mock, cleanup := newMock(t)
	defer cleanup()

	rows := sqlmock.NewRows(recordColumns()).
		AddRow("rec-1", "hash-1", "fam-1", "alice", fixedNow, fixedNow.Add(time.Hour), "USED", "10.0.0.1", "ua")
	mock.ExpectQuery(q(findByHashQuery)).WithArgs("hash-1").WillReturnRows(rows)

	rec, err := s.FindRefreshRecordByHash(context.Background(), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusUsed, rec.Status)
	assert.Equal(t, "fam-1", rec.FamilyID)
	assert.Equal(t, "ua", rec.Client.UserAgent)

	mock.ExpectQuery(q(findByHashQuery)).WithArgs("missing").WillReturnRows(sqlmock.NewRows(recordColumns()))
	_, err = s.FindRefreshRecordByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveRefreshRecordsByFamily(t *testing.T) {
	s, mock, cleanup := newMock(t)
	defer cleanup()

	rows := sqlmock.NewRows(recordColumns()).
		AddRow("rec-2", "hash-2", "fam-1", "alice", fixedNow, fixedNow.Add(time.Hour), "ACTIVE", "", "")
	mock.ExpectQuery(q(findActiveByFamilyQuery)).WithArgs("fam-1").WillReturnRows(rows)

	recs, err := s.FindActiveRefreshRecordsByFamily(context.Background(), "fam-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "rec-2", recs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRefreshRecordCommits(t *testing.T) {
	s, mock, cleanup := newMock(t)
	defer cleanup()

	next := newRecord("fam-1", "hash-2")
	next.ID = "rec-2"

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockFamilyQuery)).WithArgs("fam-1").
		WillReturnRows(sqlmock.NewRows([]string{"revoked_at"}).AddRow(nil))
	mock.ExpectExec(q(markUsedQuery)).WithArgs("rec-1", "fam-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(insertRecordQuery)).
		WithArgs("rec-2", "hash-2", "fam-1", "alice", sqlmock.AnyArg(), sqlmock.AnyArg(), "10.0.0.1", "ua").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := s.RotateRefreshRecord(context.Background(), "rec-1", next)
	require.NoError(t, err)
	assert.Equal(t, "rec-2", rec.ID)
	assert.Equal(t, store.StatusActive, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRefreshRecordLosesCompareAndSwap(t *testing.T) {
	s, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockFamilyQuery)).WithArgs("fam-1").
		WillReturnRows(sqlmock.NewRows([]string{"revoked_at"}).AddRow(nil))
	mock.ExpectExec(q(markUsedQuery)).WithArgs("rec-1", "fam-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.RotateRefreshRecord(context.Background(), "rec-1", newRecord("fam-1", "hash-2"))
	assert.ErrorIs(t, err, store.ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRefreshRecordRevokedFamily(t *testing.T) {
	s, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockFamilyQuery)).WithArgs("fam-1").
		WillReturnRows(sqlmock.NewRows([]string{"revoked_at"}).AddRow(fixedNow))
	mock.ExpectRollback()

	_, err := s.RotateRefreshRecord(context.Background(), "rec-1", newRecord("fam-1", "hash-2"))
	assert.ErrorIs(t, err, store.ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeFamilyLocksFamilyRowFirst(t *testing.T) {
	s, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(q(revokeFamilyRowQuery)).WithArgs("fam-1", fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(revokeFamilyRecordsQuery)).WithArgs("fam-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := s.RevokeFamily(context.Background(), "fam-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkStatus(t *testing.T) {
	s, mock, cleanup := newMock(t)
	defer cleanup()
	ctx := context.Background()

	mock.ExpectExec(q(markStatusUsedQuery)).WithArgs("rec-1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkStatus(ctx, "rec-1", store.StatusUsed))

	mock.ExpectQuery(q(currentStatusQuery)).WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("USED"))
	assert.ErrorIs(t, s.MarkStatus(ctx, "rec-1", store.StatusActive), store.ErrInvalidTransition)

	mock.ExpectExec(q(markStatusRevokedQuery)).WithArgs("rec-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(currentStatusQuery)).WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("REVOKED"))
	assert.NoError(t, s.MarkStatus(ctx, "rec-1", store.StatusRevoked))

	mock.ExpectExec(q(markStatusUsedQuery)).WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(currentStatusQuery)).WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"status"}))
	assert.ErrorIs(t, s.MarkStatus(ctx, "missing", store.StatusUsed), store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlacklist(t *testing.T) {
	s, mock, cleanup := newMock(t)
	defer cleanup()
	ctx := context.Background()

	mock.ExpectExec(q(insertBlacklistQuery)).
		WithArgs("jti-1", fixedNow.Add(time.Minute), fixedNow, "LOGOUT").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.InsertBlacklistEntry(ctx, store.BlacklistEntry{
		JTI:       "jti-1",
		ExpiresAt: fixedNow.Add(time.Minute),
		Reason:    store.ReasonLogout,
	}))

	mock.ExpectQuery(q(isBlacklistedQuery)).WithArgs("jti-1", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	hit, err := s.IsBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, hit)

	mock.ExpectExec(q(purgeBlacklistQuery)).WithArgs(fixedNow).WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := s.PurgeExpiredBlacklist(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackendFailureIsUnavailable(t *testing.T) {
	s, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	_, err := s.RevokeFamily(context.Background(), "fam-1")
	assert.ErrorIs(t, err, store.ErrUnavailable)

	mock.ExpectQuery(q(isBlacklistedQuery)).WillReturnError(context.DeadlineExceeded)
	_, err = s.IsBlacklisted(context.Background(), "jti")
	assert.ErrorIs(t, err, store.ErrUnavailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateUsesEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(Migrations, "migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	orig := gooseRun
	t.Cleanup(func() { gooseRun = orig })

	var gotCommand, gotDir string
	gooseRun = func(ctx context.Context, command string, db *sql.DB, dir string, args ...string) error {
		gotCommand, gotDir = command, dir
		return nil
	}

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(context.Background(), db, "up"))
	assert.Equal(t, "up", gotCommand)
	assert.Equal(t, "migrations", gotDir)
}
