package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSessionToken = errors.New("remote session: token required")
	ErrInvalidSessionToken = errors.New("remote session: invalid token")
	ErrExpiredSessionToken = errors.New("remote session: token expired")
)

// RemoteSession is what the bot can learn from the platform's login token.
// The signature belongs to the platform and is not verified here.
type RemoteSession struct {
	Token     string
	Subject   string
	ExpiresAt time.Time
}

// ParseRemoteSession decodes the platform token without verifying it.
func ParseRemoteSession(tokenString string) (RemoteSession, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return RemoteSession{}, ErrMissingSessionToken
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return RemoteSession{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}

	session := RemoteSession{Token: token, Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return session, nil
}

// CheckActive reports ErrExpiredSessionToken once the session is past its expiry.
// A session without expiry never expires.
func (s RemoteSession) CheckActive(now time.Time) error {
	if s.Token == "" {
		return ErrMissingSessionToken
	}
	if s.ExpiresAt.IsZero() {
		return nil
	}
	if !now.Before(s.ExpiresAt) {
		return fmt.Errorf("%w: expired at %s", ErrExpiredSessionToken, s.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
