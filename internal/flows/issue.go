package flows

import (
	"context"

	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/store"
)

// IssueFailureKind classifies issuance failures for root-level mapping.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailurePrincipal
	IssueFailureResolver
	IssueFailureRateLimited
	IssueFailureSign
	IssueFailureStore
)

// IssueRequest starts a new token family for an authenticated subject.
type IssueRequest struct {
	Subject string
	Client  store.ClientContext
}

// IssueResult carries the first pair of a family or failure metadata.
type IssueResult struct {
	Failure IssueFailureKind
	Err     error
	Subject string
	Roles   []string
	Access  jwt.Issued
	Refresh jwt.Issued
	Record  store.RefreshTokenRecord
}

// IssueDeps captures issuance dependencies.
type IssueDeps struct {
	NewFamilyID         func() string
	HashToken           func(string) string
	IssueAccess         func(subject string) (jwt.Issued, error)
	IssueRefresh        func(subject, familyID string) (jwt.Issued, error)
	CheckPrincipal      func(ctx context.Context, subject string) ([]string, error)
	IsPrincipalRejected func(error) bool
	Throttle            Throttle
	Store               RecordStore
}

// RunIssue resolves the subject, opens a new family and persists its first
// refresh record as ACTIVE.
func RunIssue(ctx context.Context, req IssueRequest, deps IssueDeps) IssueResult {
	roles, err := deps.CheckPrincipal(ctx, req.Subject)
	if err != nil {
		kind := IssueFailureResolver
		if deps.IsPrincipalRejected(err) {
			kind = IssueFailurePrincipal
		}
		return IssueResult{Failure: kind, Err: err, Subject: req.Subject}
	}

	if deps.Throttle != nil {
		if err := deps.Throttle.CheckIssue(ctx, req.Subject); err != nil {
			return IssueResult{Failure: IssueFailureRateLimited, Err: err, Subject: req.Subject}
		}
	}

	familyID := deps.NewFamilyID()
	access, err := deps.IssueAccess(req.Subject)
	if err != nil {
		return IssueResult{Failure: IssueFailureSign, Err: err, Subject: req.Subject}
	}
	refresh, err := deps.IssueRefresh(req.Subject, familyID)
	if err != nil {
		return IssueResult{Failure: IssueFailureSign, Err: err, Subject: req.Subject}
	}

	rec, err := deps.Store.InsertRefreshRecord(ctx, newRecord(req.Subject, familyID, refresh, req.Client, deps.HashToken))
	if err != nil {
		return IssueResult{Failure: IssueFailureStore, Err: err, Subject: req.Subject}
	}

	return IssueResult{
		Subject: req.Subject,
		Roles:   roles,
		Access:  access,
		Refresh: refresh,
		Record:  rec,
	}
}

func newRecord(subject, familyID string, refresh jwt.Issued, client store.ClientContext, hash func(string) string) store.RefreshTokenRecord {
	return store.RefreshTokenRecord{
		TokenHash: hash(refresh.Token),
		FamilyID:  familyID,
		Subject:   subject,
		IssuedAt:  refresh.IssuedAt,
		ExpiresAt: refresh.ExpiresAt,
		Status:    store.StatusActive,
		Client:    client,
	}
}
