package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/store"
)

// LogoutFailureKind classifies logout failures.
type LogoutFailureKind int

const (
	LogoutFailureNone LogoutFailureKind = iota
	LogoutFailureInvalid
	LogoutFailureStore
)

// LogoutRequest ends a session. RefreshToken may be empty when only the access
// token is being withdrawn; AccessJTI may be empty when no access token is held.
type LogoutRequest struct {
	RefreshToken    string
	AccessJTI       string
	AccessExpiresAt time.Time
}

// LogoutResult reports what logout changed.
type LogoutResult struct {
	Failure     LogoutFailureKind
	Err         error
	Subject     string
	FamilyID    string
	Revoked     int
	Cause       string
	Blacklisted bool
}

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	Now           func() time.Time
	VerifyRefresh func(token string) (jwt.Claims, error)
	HashToken     func(string) string
	Store         RecordStore
}

// RunLogout blacklists the held access token and revokes the refresh token's
// whole family. An access token that has already expired is not blacklisted.
//
// The refresh token is validated before anything is written, so a rejected
// logout leaves the access token usable.
//
// Presenting a USED or REVOKED refresh token at logout is still a reuse signal
// and is reported with CauseReuseDetected.
func RunLogout(ctx context.Context, req LogoutRequest, deps LogoutDeps) LogoutResult {
	var res LogoutResult
	now := deps.Now()

	var rec store.RefreshTokenRecord
	if req.RefreshToken != "" {
		claims, err := deps.VerifyRefresh(req.RefreshToken)
		if err != nil && (!errors.Is(err, jwt.ErrExpired) || claims.JTI == "") {
			res.Failure, res.Err = LogoutFailureInvalid, err
			return res
		}
		if claims.Kind != jwt.KindRefresh || claims.FamilyID == "" {
			res.Failure, res.Err = LogoutFailureInvalid, jwt.ErrWrongKind
			return res
		}
		res.Subject, res.FamilyID = claims.Subject, claims.FamilyID

		rec, err = deps.Store.FindRefreshRecordByHash(ctx, deps.HashToken(req.RefreshToken))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				res.Failure = LogoutFailureInvalid
			} else {
				res.Failure = LogoutFailureStore
			}
			res.Err = err
			return res
		}
		if rec.FamilyID != claims.FamilyID {
			res.Failure, res.Err = LogoutFailureInvalid, store.ErrNotFound
			return res
		}
	}

	if req.AccessJTI != "" && now.Before(req.AccessExpiresAt) {
		err := deps.Store.InsertBlacklistEntry(ctx, store.BlacklistEntry{
			JTI:           req.AccessJTI,
			ExpiresAt:     req.AccessExpiresAt,
			BlacklistedAt: now,
			Reason:        store.ReasonLogout,
		})
		if err != nil {
			res.Failure, res.Err = LogoutFailureStore, err
			return res
		}
		res.Blacklisted = true
	}

	if req.RefreshToken == "" {
		return res
	}

	res.Cause = CauseLogout
	if rec.Status == store.StatusUsed {
		res.Cause = CauseReuseDetected
	}

	n, err := deps.Store.RevokeFamily(ctx, rec.FamilyID)
	if err != nil {
		res.Failure, res.Err = LogoutFailureStore, err
		return res
	}
	res.Revoked = n
	return res
}
