package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL bounds the lifetime of issued bearer tokens.
const DefaultAccessTokenTTL = 30 * time.Minute

var (
	// ErrEmptySubject indicates a token was requested without a subject email.
	ErrEmptySubject = errors.New("tokens.empty_subject")
	// ErrEmptySigningKey indicates the symmetric signing secret is missing.
	ErrEmptySigningKey = errors.New("tokens.empty_signing_key")
)

// AccessClaims are embedded in issued bearer tokens. The subject carries the
// user email; expiry is the only termination mechanism.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// MintAccessToken creates a signed HS256 bearer token for the subject email.
func MintAccessToken(clock Clock, subjectEmail string, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subjectEmail) == "" {
		return "", time.Time{}, fmt.Errorf("tokens.mint: %w", ErrEmptySubject)
	}
	if len(signingKey) == 0 {
		return "", time.Time{}, fmt.Errorf("tokens.mint: %w", ErrEmptySigningKey)
	}
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	issuedAt := clock.Now()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subjectEmail,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, signErr := token.SignedString(signingKey)
	if signErr != nil {
		return "", time.Time{}, fmt.Errorf("tokens.mint: %w", signErr)
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken checks signature, expiry, and issuer and returns the
// subject email. Verification failure is a normal outcome reported through the
// boolean, never an error the caller must branch on.
func VerifyAccessToken(clock Clock, tokenString string, issuer string, signingKey []byte) (string, bool) {
	if strings.TrimSpace(tokenString) == "" || len(signingKey) == 0 {
		return "", false
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return clock.Now()
	}))
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return "", false
	}
	claims, ok := parsedToken.Claims.(*AccessClaims)
	if !ok || claims.Subject == "" {
		return "", false
	}
	if issuer != "" && claims.Issuer != issuer {
		return "", false
	}
	return claims.Subject, true
}
