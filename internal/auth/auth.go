// Package auth decides whether a request may start a VPN session
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/celestiaorg/wgvpn/config"
)

// Authorization errors
var (
	// ErrUnauthenticated means the request carries no usable identity
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden means the identity is known but not allowed
	ErrForbidden = errors.New("access denied")
)

// Providers reported on Identity
const (
	ProviderAnonymous = "anonymous"
	ProviderBearer    = "bearer"
)

// Denial reasons, used as metric labels
const (
	ReasonMissing      = "missing_credentials"
	ReasonInvalid      = "invalid_credentials"
	ReasonNoEmail      = "missing_email"
	ReasonRole         = "missing_role"
	ReasonNotAllowed   = "not_allowed"
	ReasonUnclassified = "other"
)

// HeaderFunc looks up a request header
type HeaderFunc func(key string) string

// Identity is the authenticated caller
type Identity struct {
	Email    string
	UserID   string
	Roles    []string
	Provider string
}

// HasRole reports whether the identity carries role
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Authorizer validates the identity of an incoming request
type Authorizer interface {
	Authorize(header HeaderFunc) (*Identity, error)
}

// DeniedError carries the reason a request was rejected
type DeniedError struct {
	Reason string
	Err    error
	Detail string
}

func (e *DeniedError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Detail)
}

func (e *DeniedError) Unwrap() error {
	return e.Err
}

func unauthenticated(reason, detail string) error {
	return &DeniedError{Reason: reason, Err: ErrUnauthenticated, Detail: detail}
}

func forbidden(reason, detail string) error {
	return &DeniedError{Reason: reason, Err: ErrForbidden, Detail: detail}
}

// Reason returns the denial reason of err, or ReasonUnclassified
func Reason(err error) string {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Reason
	}
	return ReasonUnclassified
}

// Policy is the allow-list and role check applied after an identity is established
type Policy struct {
	// AllowedEmails is compared case-insensitively; an empty list allows everyone
	AllowedEmails []string
	// RequiredRole is skipped when empty
	RequiredRole string
}

// Check applies the policy to id
func (p Policy) Check(id *Identity) error {
	if id.Email == "" {
		return unauthenticated(ReasonNoEmail, "user email not found")
	}
	if p.RequiredRole != "" && !id.HasRole(p.RequiredRole) {
		return forbidden(ReasonRole, fmt.Sprintf("user %s does not have the %s role", id.Email, p.RequiredRole))
	}
	if len(p.AllowedEmails) == 0 {
		return nil
	}
	for _, allowed := range p.AllowedEmails {
		if strings.EqualFold(allowed, id.Email) {
			return nil
		}
	}
	return forbidden(ReasonNotAllowed, fmt.Sprintf("user %s is not on the allow list", id.Email))
}

// New creates the authorizer selected by the configuration
func New(cfg config.Auth) (Authorizer, error) {
	policy := Policy{AllowedEmails: cfg.AllowedEmails, RequiredRole: cfg.RequiredRole}
	switch cfg.Mode {
	case config.AuthPrincipal:
		return NewPrincipalAuthorizer(policy), nil
	case config.AuthJWT:
		return NewJWTAuthorizer([]byte(cfg.JWTSecret), policy)
	case config.AuthNone:
		return Anonymous{}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Anonymous accepts every request
type Anonymous struct{}

// Authorize returns the anonymous identity
func (Anonymous) Authorize(HeaderFunc) (*Identity, error) {
	return &Identity{Email: "anonymous", Provider: ProviderAnonymous}, nil
}
