package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 12 * time.Hour

var (
	errMissingSigningSecret = errors.New("session issuer: signing secret required")
	errNonPositiveTTL       = errors.New("session issuer: ttl must be positive")
)

// SessionIssuerConfig configures minting of session cookies for local
// development and integration environments.
type SessionIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	TTL           time.Duration
	Clock         func() time.Time
}

// SessionIssuer mints HS256 session tokens that SessionValidator accepts.
type SessionIssuer struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	ttl           time.Duration
	clock         func() time.Time
}

// SessionIdentity describes the user a session is minted for.
type SessionIdentity struct {
	UserID      string
	Email       string
	DisplayName string
}

// NewSessionIssuer constructs a SessionIssuer. A zero TTL selects the default.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultSessionTTL
	}
	if ttl < 0 {
		return nil, errNonPositiveTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        valueOrDefault(cfg.Issuer, defaultSessionIssuer),
		cookieName:    valueOrDefault(cfg.CookieName, defaultSessionCookieName),
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie the minted token belongs in.
func (i *SessionIssuer) CookieName() string {
	return i.cookieName
}

// Issue signs a session token for identity and returns it with its expiry.
func (i *SessionIssuer) Issue(identity SessionIdentity) (string, time.Time, error) {
	userID := strings.TrimSpace(identity.UserID)
	if userID == "" {
		return "", time.Time{}, ErrMissingSessionSubject
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	claims := SessionClaims{
		UserID:          userID,
		UserEmail:       strings.TrimSpace(identity.Email),
		UserDisplayName: strings.TrimSpace(identity.DisplayName),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
