package store

import "time"

// Status is the lifecycle state of a refresh-token record.
type Status string

const (
	// StatusActive is the single spendable record of a family.
	StatusActive Status = "ACTIVE"
	// StatusUsed marks a record consumed by a successful rotation.
	StatusUsed Status = "USED"
	// StatusRevoked is terminal.
	StatusRevoked Status = "REVOKED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusUsed, StatusRevoked:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from one status to another.
// ACTIVE->USED and ACTIVE|USED->REVOKED are the only transitions.
func CanTransition(from, to Status) bool {
	switch {
	case from == StatusActive && to == StatusUsed:
		return true
	case (from == StatusActive || from == StatusUsed) && to == StatusRevoked:
		return true
	}
	return false
}

// Reason records why an access token was blacklisted.
type Reason string

const (
	ReasonLogout             Reason = "LOGOUT"
	ReasonSecurityRevocation Reason = "SECURITY_REVOCATION"
	ReasonAdminAction        Reason = "ADMIN_ACTION"
)

// Valid reports whether r belongs to the closed reason set.
func (r Reason) Valid() bool {
	switch r {
	case ReasonLogout, ReasonSecurityRevocation, ReasonAdminAction:
		return true
	}
	return false
}

// ClientContext is opaque metadata captured when a refresh token is issued.
type ClientContext struct {
	RemoteAddr string `json:"remote_addr,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// RefreshTokenRecord is the persisted form of an issued refresh token. Only the
// hash of the raw token is stored.
type RefreshTokenRecord struct {
	ID        string
	TokenHash string
	FamilyID  string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Status    Status
	Client    ClientContext
}

// ExpiredAt reports whether the record's lifetime has ended at now. Like token
// verification, a record is already expired at exactly ExpiresAt.
func (r RefreshTokenRecord) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// BlacklistEntry revokes one access token, identified by jti, until ExpiresAt.
type BlacklistEntry struct {
	JTI           string
	ExpiresAt     time.Time
	BlacklistedAt time.Time
	Reason        Reason
}
