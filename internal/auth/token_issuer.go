package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 24 * time.Hour
)

var (
	ErrMissingSigningSecret = errors.New("token issuer: signing secret must be provided")
	ErrMissingSubjectClaim  = errors.New("token issuer: subject claim must be provided")
)

// TokenIssuerConfig configures the API token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs and validates HS256 bearer tokens for the read-only API.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		tokenTTL:      ttl,
		clock:         clock,
	}, nil
}

// IssueToken produces a signed JWT and its lifetime in seconds for subject.
func (i *TokenIssuer) IssueToken(_ context.Context, subject string) (string, int64, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", 0, ErrMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.tokenTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.issuer,
		Audience:  []string{i.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the JWT is well formed and returns the subject.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrMissingSubjectClaim
	}
	return claims.Subject, nil
}
