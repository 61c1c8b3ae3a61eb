// Package auth issues and verifies device identity tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token defaults
const (
	DefaultIssuer   = "smart-irrigation-system"
	DefaultAudience = "esp32-device"
	DefaultTTL      = 24 * time.Hour
)

// ErrorKind classifies a failed verification
type ErrorKind string

const (
	Malformed    ErrorKind = "malformed"
	Expired      ErrorKind = "expired"
	BadSignature ErrorKind = "bad_signature"
)

// ErrMissingSecret is returned when no signing secret is configured
var ErrMissingSecret = errors.New("token signing secret is not configured")

// AuthError is returned by Verify. Callers must not expose Kind to clients.
type AuthError struct {
	Kind ErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth: %s token", e.Kind)
	}
	return fmt.Sprintf("auth: %s token: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Claims is the signed payload bound to a device
type Claims struct {
	DeviceID string `json:"deviceId"`
	jwt.RegisteredClaims
}

// Config holds the issuer settings
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Issuer signs and verifies HS256 device tokens
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer creates an Issuer. An empty secret is an error.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	return &Issuer{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      time.Now,
	}, nil
}

// WithClock returns a copy of the issuer that reads time from now
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	clone := *i
	clone.now = now
	return &clone
}

// TTL returns the token lifetime
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for deviceID
func (i *Issuer) Issue(deviceID string) (string, error) {
	token, _, err := i.IssueWithTTL(deviceID, i.ttl)
	return token, err
}

// IssueWithTTL signs a token with a custom lifetime and returns its expiry
func (i *Issuer) IssueWithTTL(deviceID string, ttl time.Duration) (string, time.Time, error) {
	if deviceID == "" {
		return "", time.Time{}, errors.New("device id is required")
	}

	issuedAt := i.now()
	expiresAt := issuedAt.Add(ttl)

	claims := Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify checks signature, expiry, issuer and audience and returns the bound device id
func (i *Issuer) Verify(tokenString string) (string, error) {
	claims, err := i.Parse(tokenString)
	if err != nil {
		return "", err
	}
	return claims.DeviceID, nil
}

// Parse verifies the token and returns all of its claims
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, &AuthError{Kind: Malformed, Err: errors.New("empty token")}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	if claims.DeviceID == "" {
		return nil, &AuthError{Kind: Malformed, Err: errors.New("missing deviceId claim")}
	}

	return claims, nil
}

func classify(err error) *AuthError {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return &AuthError{Kind: BadSignature, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &AuthError{Kind: Expired, Err: err}
	default:
		return &AuthError{Kind: Malformed, Err: err}
	}
}
