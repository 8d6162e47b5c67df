package jwttoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims are the claims carried by operator bearer tokens. Operators are
// backoffice identities allowed to drive the claim step on behalf of holders.
type OperatorClaims struct {
	jwt.RegisteredClaims
}

// JWTService validates and mints operator tokens with an HMAC signing key.
type JWTService struct {
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
}

// New creates a JWTService. An empty signing key is allowed and yields a
// service whose Validate always fails; callers should pass nil middleware
// validators instead when auth is disabled.
func New(signingKey, issuer string, tokenTTL time.Duration) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		tokenTTL:   tokenTTL,
	}
}

// Mint issues a signed operator token for the given subject.
func (s *JWTService) Mint(subject string) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

// Validate checks signature, expiry, and issuer, returning the token subject.
func (s *JWTService) Validate(tokenString string) (string, error) {
	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("parse operator token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid operator token")
	}
	return claims.Subject, nil
}
