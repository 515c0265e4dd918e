package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/store"
)

// RotateOutcome is the terminal state of one refresh attempt.
type RotateOutcome int

const (
	RotateRotated RotateOutcome = iota
	RotateRejectedInvalid
	RotateRejectedExpired
	RotateRejectedTheft
	RotateRejectedPrincipal
	RotateRateLimited
	RotateStoreUnavailable
	RotateResolverUnavailable
	RotateIssueFailed
)

func (o RotateOutcome) String() string {
	switch o {
	case RotateRotated:
		return "ROTATED"
	case RotateRejectedInvalid:
		return "REJECTED_INVALID"
	case RotateRejectedExpired:
		return "REJECTED_EXPIRED"
	case RotateRejectedTheft:
		return "REJECTED_THEFT"
	case RotateRejectedPrincipal:
		return "REJECTED_PRINCIPAL"
	case RotateRateLimited:
		return "RATE_LIMITED"
	case RotateStoreUnavailable:
		return "STORE_UNAVAILABLE"
	case RotateResolverUnavailable:
		return "RESOLVER_UNAVAILABLE"
	case RotateIssueFailed:
		return "ISSUE_FAILED"
	default:
		return "UNKNOWN"
	}
}

// RotateRequest carries the presented refresh token.
type RotateRequest struct {
	RefreshToken string
	Client       store.ClientContext
}

// RotateResult carries the outcome and, for ROTATED, the new pair.
//
// Revoked is the number of records moved to REVOKED by this attempt and Cause
// names why, when a family revocation ran.
type RotateResult struct {
	Outcome  RotateOutcome
	Err      error
	Subject  string
	FamilyID string
	Roles    []string
	Access   jwt.Issued
	Refresh  jwt.Issued
	Record   store.RefreshTokenRecord
	Revoked  int
	Cause    string
}

// RotateDeps captures rotation dependencies.
//
// VerifyRefresh must authenticate the token and, when the only failure is
// expiry, return the decoded claims with an error wrapping jwt.ErrExpired.
type RotateDeps struct {
	Now                 func() time.Time
	VerifyRefresh       func(token string) (jwt.Claims, error)
	HashToken           func(string) string
	IssueAccess         func(subject string) (jwt.Issued, error)
	IssueRefresh        func(subject, familyID string) (jwt.Issued, error)
	CheckPrincipal      func(ctx context.Context, subject string) ([]string, error)
	IsPrincipalRejected func(error) bool
	Throttle            Throttle
	Store               RecordStore
}

// RunRotate executes the refresh state machine:
//
//	verify -> kind -> record lookup -> reuse check -> throttle -> expiry -> principal -> CAS rotate
//
// A record that is not ACTIVE, or an ACTIVE record that loses the
// compare-and-swap to a concurrent attempt, revokes the whole family.
func RunRotate(ctx context.Context, req RotateRequest, deps RotateDeps) RotateResult {
	claims, err := deps.VerifyRefresh(req.RefreshToken)
	tokenExpired := false
	if err != nil {
		if !errors.Is(err, jwt.ErrExpired) || claims.JTI == "" {
			return RotateResult{Outcome: RotateRejectedInvalid, Err: err}
		}
		tokenExpired = true
	}
	if claims.Kind != jwt.KindRefresh || claims.FamilyID == "" {
		return RotateResult{Outcome: RotateRejectedInvalid, Err: jwt.ErrWrongKind, Subject: claims.Subject}
	}

	res := RotateResult{Subject: claims.Subject, FamilyID: claims.FamilyID}

	rec, err := deps.Store.FindRefreshRecordByHash(ctx, deps.HashToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			res.Outcome, res.Err = RotateRejectedInvalid, err
			return res
		}
		res.Outcome, res.Err = RotateStoreUnavailable, err
		return res
	}
	if rec.FamilyID != claims.FamilyID || rec.Subject != claims.Subject {
		res.Outcome, res.Err = RotateRejectedInvalid, store.ErrNotFound
		return res
	}
	res.Record = rec

	if rec.Status != store.StatusActive {
		return revokeAsTheft(ctx, deps, res, store.ErrStatusConflict)
	}

	// Only rotations of ACTIVE records are throttled; reuse always revokes.
	if deps.Throttle != nil {
		if err := deps.Throttle.CheckRotate(ctx, rec.FamilyID); err != nil {
			res.Outcome, res.Err = RotateRateLimited, err
			return res
		}
	}

	now := deps.Now()
	if tokenExpired || rec.ExpiredAt(now) {
		res.Outcome, res.Err = RotateRejectedExpired, jwt.ErrExpired
		return res
	}

	roles, err := deps.CheckPrincipal(ctx, rec.Subject)
	if err != nil {
		if !deps.IsPrincipalRejected(err) {
			res.Outcome, res.Err = RotateResolverUnavailable, err
			return res
		}
		n, rerr := deps.Store.RevokeFamily(ctx, rec.FamilyID)
		if rerr != nil {
			res.Outcome, res.Err = RotateStoreUnavailable, rerr
			return res
		}
		res.Outcome, res.Err = RotateRejectedPrincipal, err
		res.Revoked, res.Cause = n, CausePrincipalRejected
		return res
	}
	res.Roles = roles

	access, err := deps.IssueAccess(rec.Subject)
	if err != nil {
		res.Outcome, res.Err = RotateIssueFailed, err
		return res
	}
	refresh, err := deps.IssueRefresh(rec.Subject, rec.FamilyID)
	if err != nil {
		res.Outcome, res.Err = RotateIssueFailed, err
		return res
	}

	next, err := deps.Store.RotateRefreshRecord(ctx, rec.ID, newRecord(rec.Subject, rec.FamilyID, refresh, req.Client, deps.HashToken))
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return revokeAsTheft(ctx, deps, res, err)
		}
		res.Outcome, res.Err = RotateStoreUnavailable, err
		return res
	}

	res.Outcome = RotateRotated
	res.Access = access
	res.Refresh = refresh
	res.Record = next
	return res
}

// revokeAsTheft revokes the record's family. A failed revocation is reported as
// store unavailability so the caller never assumes the family is dead.
func revokeAsTheft(ctx context.Context, deps RotateDeps, res RotateResult, cause error) RotateResult {
	n, err := deps.Store.RevokeFamily(ctx, res.FamilyID)
	if err != nil {
		res.Outcome, res.Err = RotateStoreUnavailable, err
		return res
	}
	res.Outcome, res.Err = RotateRejectedTheft, cause
	res.Revoked, res.Cause = n, CauseReuseDetected
	return res
}
