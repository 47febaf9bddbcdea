package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerIssuesAndValidatesTokens(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "campbot",
		Audience:      "campbot-api",
		TokenTTL:      30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresIn, err := issuer.IssueToken(context.Background(), "reviewer")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected token to validate: %v", err)
	}
	if subject != "reviewer" {
		t.Fatalf("unexpected subject %s", subject)
	}
}

func TestTokenIssuerRejectsMissingSecretAndSubject(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{}); !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}

	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.IssueToken(context.Background(), "  "); !errors.Is(err, ErrMissingSubjectClaim) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}

func TestTokenIssuerRejectsForeignAndExpiredTokens(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer, _ := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret-a"),
		Issuer:        "campbot",
		Audience:      "campbot-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return now },
	})
	foreign, _ := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret-b"),
		Issuer:        "campbot",
		Audience:      "campbot-api",
		Clock:         func() time.Time { return now },
	})

	foreignToken, _, err := foreign.IssueToken(context.Background(), "intruder")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if _, err := issuer.ValidateToken(foreignToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	token, _, err := issuer.IssueToken(context.Background(), "reviewer")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := issuer.ValidateToken(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestParseRemoteSession(t *testing.T) {
	expiresAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	claims := jwt.RegisteredClaims{
		Subject:   "286726",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("platform-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	session, err := ParseRemoteSession(signed)
	if err != nil {
		t.Fatalf("expected session to parse: %v", err)
	}
	if session.Subject != "286726" || !session.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("unexpected session %+v", session)
	}

	if err := session.CheckActive(expiresAt.Add(-time.Second)); err != nil {
		t.Fatalf("expected session to be active: %v", err)
	}
	if err := session.CheckActive(expiresAt); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestParseRemoteSessionRejectsGarbage(t *testing.T) {
	if _, err := ParseRemoteSession(""); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
	if _, err := ParseRemoteSession("not-a-jwt"); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
	if err := (RemoteSession{}).CheckActive(time.Now()); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error for empty session, got %v", err)
	}
}
