// Package sqlstore provides a PostgreSQL-backed store.Store built on sqlx.
//
// Every family has a row in refresh_token_families. Rotation and family
// revocation both lock that row first, so a revocation racing a rotation either
// sees the rotated record or makes the rotation fail; the family never ends with
// an ACTIVE record after being revoked. A partial unique index enforces at most
// one ACTIVE record per family.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goToken/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const (
	insertFamilyQuery = `INSERT INTO refresh_token_families (family_id, subject, created_at) VALUES ($1, $2, $3) ON CONFLICT (family_id) DO NOTHING`

	insertRecordQuery = `INSERT INTO refresh_tokens (id, token_hash, family_id, subject, issued_at, expires_at, status, remote_addr, user_agent) VALUES ($1, $2, $3, $4, $5, $6, 'ACTIVE', $7, $8)`

	selectColumns = `SELECT id, token_hash, family_id, subject, issued_at, expires_at, status, remote_addr, user_agent FROM refresh_tokens`

	findByHashQuery = selectColumns + ` WHERE token_hash = $1`

	findActiveByFamilyQuery = selectColumns + ` WHERE family_id = $1 AND status = 'ACTIVE' ORDER BY issued_at`

	lockFamilyQuery = `SELECT revoked_at FROM refresh_token_families WHERE family_id = $1 FOR UPDATE`

	markUsedQuery = `UPDATE refresh_tokens SET status = 'USED' WHERE id = $1 AND family_id = $2 AND status = 'ACTIVE'`

	revokeFamilyRowQuery = `UPDATE refresh_token_families SET revoked_at = COALESCE(revoked_at, $2) WHERE family_id = $1`

	revokeFamilyRecordsQuery = `UPDATE refresh_tokens SET status = 'REVOKED' WHERE family_id = $1 AND status <> 'REVOKED'`

	markStatusUsedQuery = `UPDATE refresh_tokens SET status = 'USED' WHERE id = $1 AND status = 'ACTIVE'`

	markStatusRevokedQuery = `UPDATE refresh_tokens SET status = 'REVOKED' WHERE id = $1 AND status <> 'REVOKED'`

	currentStatusQuery = `SELECT status FROM refresh_tokens WHERE id = $1`

	insertBlacklistQuery = `INSERT INTO token_blacklist (jti, expires_at, blacklisted_at, reason) VALUES ($1, $2, $3, $4) ON CONFLICT (jti) DO UPDATE SET expires_at = GREATEST(token_blacklist.expires_at, EXCLUDED.expires_at)`

	isBlacklistedQuery = `SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE jti = $1 AND expires_at > $2)`

	purgeBlacklistQuery = `DELETE FROM token_blacklist WHERE expires_at <= $1`
)

const uniqueViolation = "23505"

type recordRow struct {
	ID         string    `db:"id"`
	TokenHash  string    `db:"token_hash"`
	FamilyID   string    `db:"family_id"`
	Subject    string    `db:"subject"`
	IssuedAt   time.Time `db:"issued_at"`
	ExpiresAt  time.Time `db:"expires_at"`
	Status     string    `db:"status"`
	RemoteAddr string    `db:"remote_addr"`
	UserAgent  string    `db:"user_agent"`
}

func (r recordRow) toRecord() store.RefreshTokenRecord {
	return store.RefreshTokenRecord{
		ID:        r.ID,
		TokenHash: r.TokenHash,
		FamilyID:  r.FamilyID,
		Subject:   r.Subject,
		IssuedAt:  r.IssuedAt,
		ExpiresAt: r.ExpiresAt,
		Status:    store.Status(r.Status),
		Client:    store.ClientContext{RemoteAddr: r.RemoteAddr, UserAgent: r.UserAgent},
	}
}

// Store is a store.Store backed by PostgreSQL.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps db. A nil clock defaults to time.Now.
func New(db *sqlx.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}
}

// Open connects to PostgreSQL through the pgx stdlib driver. The caller must
// import github.com/jackc/pgx/v5/stdlib to register it.
func Open(ctx context.Context, dsn string, now func() time.Time) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, mapError(err)
	}
	return New(db, now), nil
}

// DB exposes the underlying handle for migrations and shutdown.
func (s *Store) DB() *sqlx.DB { return s.db }

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func insertRecord(ctx context.Context, tx *sqlx.Tx, rec store.RefreshTokenRecord) error {
	_, err := tx.ExecContext(ctx, insertRecordQuery,
		rec.ID, rec.TokenHash, rec.FamilyID, rec.Subject,
		rec.IssuedAt, rec.ExpiresAt, rec.Client.RemoteAddr, rec.Client.UserAgent)
	return mapError(err)
}

// InsertRefreshRecord implements store.Store. It creates the family row on first use.
func (s *Store) InsertRefreshRecord(ctx context.Context, rec store.RefreshTokenRecord) (store.RefreshTokenRecord, error) {
	if err := store.ValidateNewRecord(rec); err != nil {
		return store.RefreshTokenRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = store.StatusActive

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, insertFamilyQuery, rec.FamilyID, rec.Subject, rec.IssuedAt); err != nil {
			return mapError(err)
		}
		return insertRecord(ctx, tx, rec)
	})
	if err != nil {
		return store.RefreshTokenRecord{}, err
	}
	return rec, nil
}

// FindRefreshRecordByHash implements store.Store.
func (s *Store) FindRefreshRecordByHash(ctx context.Context, tokenHash string) (store.RefreshTokenRecord, error) {
	var row recordRow
	if err := s.db.GetContext(ctx, &row, findByHashQuery, tokenHash); err != nil {
		return store.RefreshTokenRecord{}, mapError(err)
	}
	return row.toRecord(), nil
}

// FindActiveRefreshRecordsByFamily implements store.Store.
func (s *Store) FindActiveRefreshRecordsByFamily(ctx context.Context, familyID string) ([]store.RefreshTokenRecord, error) {
	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, findActiveByFamilyQuery, familyID); err != nil {
		return nil, mapError(err)
	}
	out := make([]store.RefreshTokenRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

// MarkStatus implements store.Store.
func (s *Store) MarkStatus(ctx context.Context, id string, status store.Status) error {
	var query string
	switch status {
	case store.StatusUsed:
		query = markStatusUsedQuery
	case store.StatusRevoked:
		query = markStatusRevokedQuery
	case store.StatusActive:
		query = ""
	default:
		return fmt.Errorf("%w: unknown status %q", store.ErrInvalidTransition, status)
	}

	if query != "" {
		res, err := s.db.ExecContext(ctx, query, id)
		if err != nil {
			return mapError(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return nil
		}
	}

	var current string
	if err := s.db.GetContext(ctx, &current, currentStatusQuery, id); err != nil {
		return mapError(err)
	}
	if store.Status(current) == status {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, current, status)
}

// RotateRefreshRecord implements store.Store. The family row lock serializes it
// against RevokeFamily; the conditional UPDATE is the compare-and-swap.
func (s *Store) RotateRefreshRecord(ctx context.Context, usedID string, next store.RefreshTokenRecord) (store.RefreshTokenRecord, error) {
	if err := store.ValidateNewRecord(next); err != nil {
		return store.RefreshTokenRecord{}, err
	}
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	next.Status = store.StatusActive

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var revokedAt sql.NullTime
		if err := tx.GetContext(ctx, &revokedAt, lockFamilyQuery, next.FamilyID); err != nil {
			return mapError(err)
		}
		if revokedAt.Valid {
			return store.ErrStatusConflict
		}

		res, err := tx.ExecContext(ctx, markUsedQuery, usedID, next.FamilyID)
		if err != nil {
			return mapError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return mapError(err)
		}
		if n != 1 {
			return store.ErrStatusConflict
		}
		return insertRecord(ctx, tx, next)
	})
	if err != nil {
		return store.RefreshTokenRecord{}, err
	}
	return next, nil
}

// RevokeFamily implements store.Store.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	var changed int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, revokeFamilyRowQuery, familyID, s.now()); err != nil {
			return mapError(err)
		}
		res, err := tx.ExecContext(ctx, revokeFamilyRecordsQuery, familyID)
		if err != nil {
			return mapError(err)
		}
		changed, err = res.RowsAffected()
		return mapError(err)
	})
	if err != nil {
		return 0, err
	}
	return int(changed), nil
}

// InsertBlacklistEntry implements store.Store.
func (s *Store) InsertBlacklistEntry(ctx context.Context, entry store.BlacklistEntry) error {
	if err := store.ValidateBlacklistEntry(entry); err != nil {
		return err
	}
	if entry.BlacklistedAt.IsZero() {
		entry.BlacklistedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, insertBlacklistQuery, entry.JTI, entry.ExpiresAt, entry.BlacklistedAt, string(entry.Reason))
	return mapError(err)
}

// IsBlacklisted implements store.Store.
func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, isBlacklistedQuery, jti, s.now()); err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

// PurgeExpiredBlacklist deletes blacklist entries past their expiry.
func (s *Store) PurgeExpiredBlacklist(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, purgeBlacklistQuery, s.now())
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}
