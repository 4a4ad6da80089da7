package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer token payload
type Claims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTAuthorizer validates HS256 bearer tokens
type JWTAuthorizer struct {
	secret []byte
	policy Policy
}

// NewJWTAuthorizer creates a bearer token authorizer
func NewJWTAuthorizer(secret []byte, policy Policy) (*JWTAuthorizer, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTAuthorizer{secret: secret, policy: policy}, nil
}

// Authorize parses the Authorization header and applies the policy
func (a *JWTAuthorizer) Authorize(header HeaderFunc) (*Identity, error) {
	hdr := header("Authorization")
	if hdr == "" {
		return nil, unauthenticated(ReasonMissing, "")
	}
	if !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
		return nil, unauthenticated(ReasonInvalid, "expected a bearer token")
	}

	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(strings.TrimSpace(hdr[7:]), claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return nil, unauthenticated(ReasonInvalid, "invalid token")
	}

	id := &Identity{
		Email:    claims.Email,
		UserID:   claims.Subject,
		Roles:    claims.Roles,
		Provider: ProviderBearer,
	}
	if err := a.policy.Check(id); err != nil {
		return nil, err
	}
	return id, nil
}

// Mint signs a token for email, used by the CLI and tests
func (a *JWTAuthorizer) Mint(email string, roles []string, ttl time.Duration) (string, error) {
	return MintToken(a.secret, email, roles, ttl)
}

// MintToken signs an HS256 token carrying email and roles
func MintToken(secret []byte, email string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   email,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
