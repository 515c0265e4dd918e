package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the HMAC algorithm used to sign tokens.
type SigningMethod string

const (
	// MethodHS256 signs with HMAC-SHA-256 and requires a secret of at least 32 bytes.
	MethodHS256 SigningMethod = "hs256"
	// MethodHS384 signs with HMAC-SHA-384 and requires a secret of at least 48 bytes.
	MethodHS384 SigningMethod = "hs384"
	// MethodHS512 signs with HMAC-SHA-512 and requires a secret of at least 64 bytes.
	MethodHS512 SigningMethod = "hs512"
)

// Kind is the value of the signed "type" claim.
type Kind string

const (
	// KindAccess marks short-lived tokens that authorize API calls.
	KindAccess Kind = "access"
	// KindRefresh marks long-lived tokens that may only be exchanged for a new pair.
	KindRefresh Kind = "refresh"
)

// Config defines the codec configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	Secret        []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	// KeyID is written to the "kid" header when set.
	KeyID string
	// VerifyKeys holds additional secrets accepted during verification, keyed by kid.
	// It allows a secret rollover without invalidating tokens already in flight.
	VerifyKeys map[string][]byte
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Claims is the verified, immutable view of a token's payload.
type Claims struct {
	Subject   string
	Kind      Kind
	JTI       string
	FamilyID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issued is a freshly signed token together with the identifiers callers
// need to persist or blacklist it.
type Issued struct {
	Token     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type wireClaims struct {
	Kind     Kind   `json:"type"`
	FamilyID string `json:"familyId,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies goToken JWTs. It holds no mutable state and is safe
// for concurrent use.
type Manager struct {
	config Config
	method jwt.SigningMethod
}

// NewManager validates cfg and returns a Manager.
//
// NewManager returns an error wrapping ErrConfiguration when TTLs are not positive,
// the leeway is out of range, the signing method is unknown, or any secret is shorter
// than the minimum key length for the method.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("%w: invalid TTL configuration", ErrConfiguration)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: invalid leeway configuration", ErrConfiguration)
	}
	method, minKey, err := methodFor(cfg.SigningMethod)
	if err != nil {
		return nil, err
	}
	if len(cfg.Secret) < minKey {
		return nil, fmt.Errorf("%w: %s requires a secret of at least %d bytes", ErrConfiguration, cfg.SigningMethod, minKey)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, fmt.Errorf("%w: verify key map contains empty kid", ErrConfiguration)
		}
		if len(key) < minKey {
			return nil, fmt.Errorf("%w: verify key %q shorter than %d bytes", ErrConfiguration, kid, minKey)
		}
	}
	if len(cfg.VerifyKeys) > 0 && cfg.KeyID == "" {
		return nil, fmt.Errorf("%w: KeyID is required when VerifyKeys are set", ErrConfiguration)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	cfg.Secret = secret

	return &Manager{config: cfg, method: method}, nil
}

// AccessTTL returns the configured access token lifetime.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (j *Manager) RefreshTTL() time.Duration { return j.config.RefreshTTL }

// IssueAccess signs an access token for subject with a fresh jti.
func (j *Manager) IssueAccess(subject string) (Issued, error) {
	return j.issue(subject, KindAccess, "", j.config.AccessTTL)
}

// IssueRefresh signs a refresh token for subject bound to familyID.
func (j *Manager) IssueRefresh(subject, familyID string) (Issued, error) {
	if familyID == "" {
		return Issued{}, fmt.Errorf("%w: refresh token requires a family id", ErrMalformed)
	}
	return j.issue(subject, KindRefresh, familyID, j.config.RefreshTTL)
}

func (j *Manager) issue(subject string, kind Kind, familyID string, ttl time.Duration) (Issued, error) {
	if subject == "" {
		return Issued{}, fmt.Errorf("%w: empty subject", ErrMalformed)
	}
	if len(j.config.Secret) < minKeyLength(j.method) {
		return Issued{}, ErrConfiguration
	}

	// NumericDate has second precision; truncate so the returned times match
	// what a verifier will decode.
	now := j.config.Now().Truncate(time.Second)
	exp := now.Add(ttl)
	jti := uuid.NewString()

	claims := wireClaims{
		Kind:     kind,
		FamilyID: familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	signed, err := token.SignedString(j.config.Secret)
	if err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return Issued{Token: signed, JTI: jti, IssuedAt: now, ExpiresAt: exp}, nil
}

// Verify checks the signature and expiry of token and returns its claims.
//
// Both checks always run. The returned error wraps exactly one of ErrMalformed,
// ErrInvalidSignature, ErrExpired, ErrUnsupportedFormat or ErrInvalidClaims.
//
// A token is expired from its exp instant onward: at exactly exp (plus Leeway)
// Verify already returns ErrExpired.
func (j *Manager) Verify(token string) (Claims, error) {
	claims, err := j.parse(token)
	if err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// VerifyKind is Verify followed by a check of the signed "type" claim.
func (j *Manager) VerifyKind(token string, kind Kind) (Claims, error) {
	claims, err := j.Verify(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind != kind {
		return Claims{}, fmt.Errorf("%w: want %s, got %s", ErrWrongKind, kind, claims.Kind)
	}
	return claims, nil
}

// VerifyAllowExpired authenticates token like Verify, but when the only failure is
// expiry it returns the decoded claims together with an error wrapping ErrExpired.
//
// Rotation uses it to look up the stored record of an authentic but stale refresh
// token, because reuse of such a token must still revoke its family.
func (j *Manager) VerifyAllowExpired(token string) (Claims, error) {
	return j.parse(token)
}

// IsExpired reports whether claims have expired at now. Verification remains
// authoritative; this is a cheap pre-check.
func IsExpired(claims Claims, now time.Time) bool {
	return !now.Before(claims.ExpiresAt)
}

func (j *Manager) parse(tokenStr string) (Claims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return Claims{}, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithTimeFunc(j.config.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	wire := &wireClaims{}
	_, err := parser.ParseWithClaims(tokenStr, wire, j.keyFunc)
	expired := false
	if err != nil {
		mapped := classify(err)
		if !errors.Is(mapped, ErrExpired) {
			return Claims{}, mapped
		}
		expired = true
	}

	claims, cerr := toClaims(wire)
	if cerr != nil {
		return Claims{}, cerr
	}
	if expired {
		return claims, fmt.Errorf("%w: expired at %s", ErrExpired, claims.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return claims, nil
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.method.Alg() {
		return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrUnsupportedFormat, t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(j.config.VerifyKeys) > 0 && kid != "" && kid != j.config.KeyID {
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, fmt.Errorf("%w: unknown kid", ErrUnsupportedFormat)
		}
		return key, nil
	}
	if j.config.KeyID != "" && kid != "" && kid != j.config.KeyID {
		return nil, fmt.Errorf("%w: unknown kid", ErrUnsupportedFormat)
	}
	return j.config.Secret, nil
}

// classify maps library errors onto the package sentinels. The parser verifies the
// signature before validating claims, so an expiry error implies an authentic token.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func toClaims(w *wireClaims) (Claims, error) {
	if w.Subject == "" || w.ID == "" || w.IssuedAt == nil || w.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing required claim", ErrMalformed)
	}
	switch w.Kind {
	case KindAccess:
		if w.FamilyID != "" {
			return Claims{}, fmt.Errorf("%w: access token carries a family id", ErrMalformed)
		}
	case KindRefresh:
		if w.FamilyID == "" {
			return Claims{}, fmt.Errorf("%w: refresh token without family id", ErrMalformed)
		}
	default:
		return Claims{}, fmt.Errorf("%w: unknown token type %q", ErrMalformed, w.Kind)
	}
	return Claims{
		Subject:   w.Subject,
		Kind:      w.Kind,
		JTI:       w.ID,
		FamilyID:  w.FamilyID,
		IssuedAt:  w.IssuedAt.Time,
		ExpiresAt: w.ExpiresAt.Time,
	}, nil
}

func methodFor(m SigningMethod) (jwt.SigningMethod, int, error) {
	switch m {
	case MethodHS256:
		return jwt.SigningMethodHS256, 32, nil
	case MethodHS384:
		return jwt.SigningMethodHS384, 48, nil
	case MethodHS512:
		return jwt.SigningMethodHS512, 64, nil
	default:
		return nil, 0, fmt.Errorf("%w: unsupported signing method %q", ErrConfiguration, m)
	}
}

func minKeyLength(m jwt.SigningMethod) int {
	switch m {
	case jwt.SigningMethodHS384:
		return 48
	case jwt.SigningMethodHS512:
		return 64
	default:
		return 32
	}
}
