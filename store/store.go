package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record matches the lookup key.
	ErrNotFound = errors.New("store: record not found")
	// ErrUnavailable wraps every transient backend failure, including context
	// deadlines. A write that fails with ErrUnavailable was applied fully or not at all.
	ErrUnavailable = errors.New("store: backend unavailable")
	// ErrStatusConflict is returned by RotateRefreshRecord when the consumed record
	// was no longer ACTIVE at the time of the compare-and-swap.
	ErrStatusConflict = errors.New("store: refresh record is not active")
	// ErrInvalidTransition is returned by MarkStatus for transitions outside
	// ACTIVE->USED and ACTIVE|USED->REVOKED.
	ErrInvalidTransition = errors.New("store: invalid status transition")
	// ErrDuplicate is returned when a record with the same id or hash exists.
	ErrDuplicate = errors.New("store: duplicate record")
	// ErrInvalidRecord is returned for records missing required fields.
	ErrInvalidRecord = errors.New("store: invalid record")
)

// Store is durable storage for refresh-token records and access-token blacklist
// entries. Implementations must be safe for concurrent use.
type Store interface {
	// InsertRefreshRecord persists rec. The store assigns rec.ID when empty and
	// returns the stored record.
	InsertRefreshRecord(ctx context.Context, rec RefreshTokenRecord) (RefreshTokenRecord, error)
	// FindRefreshRecordByHash returns ErrNotFound when no record has tokenHash.
	FindRefreshRecordByHash(ctx context.Context, tokenHash string) (RefreshTokenRecord, error)
	// FindActiveRefreshRecordsByFamily returns the ACTIVE records of a family.
	FindActiveRefreshRecordsByFamily(ctx context.Context, familyID string) ([]RefreshTokenRecord, error)
	// MarkStatus transitions a single record. Setting the current status again is a no-op.
	MarkStatus(ctx context.Context, id string, status Status) error
	// RotateRefreshRecord marks usedID USED only if it is still ACTIVE and inserts
	// next as ACTIVE, as one atomic unit. It returns ErrStatusConflict, without
	// inserting, when usedID is no longer ACTIVE.
	RotateRefreshRecord(ctx context.Context, usedID string, next RefreshTokenRecord) (RefreshTokenRecord, error)
	// RevokeFamily moves every non-revoked record of the family to REVOKED and
	// returns how many records changed. It is atomic with respect to concurrent
	// rotation within the family.
	RevokeFamily(ctx context.Context, familyID string) (int, error)
	InsertBlacklistEntry(ctx context.Context, entry BlacklistEntry) error
	// IsBlacklisted reports whether jti has an entry whose ExpiresAt is in the future.
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// ValidateNewRecord checks the fields every backend requires before insertion.
func ValidateNewRecord(rec RefreshTokenRecord) error {
	if rec.TokenHash == "" || rec.FamilyID == "" || rec.Subject == "" {
		return ErrInvalidRecord
	}
	if rec.ExpiresAt.IsZero() || rec.IssuedAt.IsZero() || !rec.ExpiresAt.After(rec.IssuedAt) {
		return ErrInvalidRecord
	}
	if rec.Status != "" && rec.Status != StatusActive {
		return ErrInvalidRecord
	}
	return nil
}

// ValidateBlacklistEntry checks an entry before insertion.
func ValidateBlacklistEntry(entry BlacklistEntry) error {
	if entry.JTI == "" || entry.ExpiresAt.IsZero() || !entry.Reason.Valid() {
		return ErrInvalidRecord
	}
	return nil
}
