package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/celestiaorg/wgvpn/internal/constants"
)

// ClientPrincipal is the identity payload injected by the static web app host
type ClientPrincipal struct {
	IdentityProvider string   `json:"identityProvider"`
	UserID           string   `json:"userId"`
	UserDetails      string   `json:"userDetails"`
	UserRoles        []string `json:"userRoles"`
}

// Encode returns the header value for p
func (p ClientPrincipal) Encode() string {
	data, _ := json.Marshal(p)
	return base64.StdEncoding.EncodeToString(data)
}

// PrincipalAuthorizer trusts the client principal header set by the hosting platform
type PrincipalAuthorizer struct {
	policy Policy
}

// NewPrincipalAuthorizer creates a principal header authorizer
func NewPrincipalAuthorizer(policy Policy) *PrincipalAuthorizer {
	return &PrincipalAuthorizer{policy: policy}
}

// Authorize decodes the client principal header and applies the policy
func (a *PrincipalAuthorizer) Authorize(header HeaderFunc) (*Identity, error) {
	raw := strings.TrimSpace(header(constants.ClientPrincipalHeader))
	if raw == "" {
		return nil, unauthenticated(ReasonMissing, "")
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, unauthenticated(ReasonInvalid, "malformed client principal")
	}
	var principal ClientPrincipal
	if err := json.Unmarshal(data, &principal); err != nil {
		return nil, unauthenticated(ReasonInvalid, "malformed client principal")
	}

	id := &Identity{
		Email:    principal.UserDetails,
		UserID:   principal.UserID,
		Roles:    principal.UserRoles,
		Provider: principal.IdentityProvider,
	}
	if err := a.policy.Check(id); err != nil {
		return nil, err
	}
	return id, nil
}
