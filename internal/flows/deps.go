package flows

import (
	"context"

	"github.com/MrEthical07/goToken/store"
)

// Deps groups flow dependency sets. The root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Issue     IssueDeps
	Rotate    RotateDeps
	Logout    LogoutDeps
	Authorize AuthorizeDeps
}

// RecordStore is the subset of store.Store used by issuance, rotation and logout.
type RecordStore interface {
	InsertRefreshRecord(ctx context.Context, rec store.RefreshTokenRecord) (store.RefreshTokenRecord, error)
	FindRefreshRecordByHash(ctx context.Context, tokenHash string) (store.RefreshTokenRecord, error)
	RotateRefreshRecord(ctx context.Context, usedID string, next store.RefreshTokenRecord) (store.RefreshTokenRecord, error)
	RevokeFamily(ctx context.Context, familyID string) (int, error)
	InsertBlacklistEntry(ctx context.Context, entry store.BlacklistEntry) error
}

// Throttle limits issuance per subject and rotation per family.
type Throttle interface {
	CheckIssue(ctx context.Context, subject string) error
	CheckRotate(ctx context.Context, familyID string) error
}

// Cause values attached to family revocations.
const (
	CauseReuseDetected      = "reuse_detected"
	CausePrincipalRejected  = "principal_rejected"
	CauseLogout             = "logout"
	CauseSecurityRevocation = "security_revocation"
	CauseAdminAction        = "admin_action"
)
