// Package auth provides GitHub OAuth login and JWT session tokens for the
// wiki API.
//
// AUTHENTICATION FLOW OVERVIEW:
// 1. User visits /auth/github/login → redirected to GitHub
// 2. GitHub calls back /auth/github/callback with a code
// 3. Server exchanges code for GitHub user info, upserts user in DB
// 4. Server issues a JWT, stores it in an HttpOnly cookie
// 5. On subsequent API calls, middleware reads the cookie, validates the JWT,
//    and puts the caller's Identity in the request context
//
// WHY JWT?
// The token is stateless — identity and expiry live inside the signed token,
// so validating a request needs no session store and no DB lookup. The HMAC
// signature keeps it tamper-proof without the secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "wikistore"

// Identity is who a validated token says the caller is.
//
// The storage layer files content under BOTH identifiers: the stable internal
// userID goes into labels and keys, the GitHub login goes into issue titles
// and public item attribution. Carrying the login in the token saves a user
// lookup on every write.
type Identity struct {
	UserID string // internal xid, stable across login renames
	Login  string // GitHub username at token issue time
}

// TokenService signs and validates session tokens with an HMAC secret.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService. The secret should be at least 32
// bytes of random data in production (JWT_SECRET=$(openssl rand -hex 32)).
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims is the JWT payload: the registered claims plus the GitHub login.
// The internal user ID rides in the standard "sub" (Subject) claim.
type claims struct {
	jwt.RegisteredClaims
	Login string `json:"login"`
}

// Generate creates and signs a session token for the identity. Lifetime is
// 15 minutes; after expiry the client re-authenticates through OAuth.
func (s *TokenService) Generate(id Identity) (string, error) {
	return s.GenerateWithDuration(id, 15*time.Minute)
}

// GenerateWithDuration creates a token with a custom expiry. Used by tests
// and for issuing longer-lived tokens.
func (s *TokenService) GenerateWithDuration(id Identity, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
		Login: id.Login,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token string and returns the Identity it
// encodes.
//
// The jwt library checks signature, expiry and issuer; restricting the
// accepted methods to HS256 closes the algorithm-confusion hole where an
// attacker substitutes "none" or an asymmetric scheme.
func (s *TokenService) Validate(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("auth: token expired")
		}
		return Identity{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("auth: token has no subject")
	}

	return Identity{UserID: c.Subject, Login: c.Login}, nil
}
