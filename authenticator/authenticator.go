package authenticator

import (
	"context"

	"github.com/blogem/cmdb/userctx"
)

// Config holds OAuth provider configuration
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Token represents an authentication token
type Token struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       int64
}

// Claims represents user claims from an ID token or bearer token
type Claims map[string]interface{}

// Provider interface abstracts OAuth provider operations
type Provider interface {
	GetAuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*Token, error)
	GetClaims(ctx context.Context, token *Token) (Claims, error)
}

// Verifier validates bearer tokens presented by API callers
type Verifier interface {
	Verify(ctx context.Context, raw string) (Claims, error)
}

// nameClaims are tried in order to name the actor
var nameClaims = []string{"preferred_username", "email", "name", "sub"}

// Actor builds the identity recorded in audit records from the claims. Groups are read from
// groupsClaim, which may hold a list or a single string.
func (c Claims) Actor(groupsClaim string) userctx.Actor {
	var actor userctx.Actor
	for _, key := range nameClaims {
		if name, ok := c[key].(string); ok && name != "" {
			actor.Name = name
			break
		}
	}

	switch groups := c[groupsClaim].(type) {
	case []interface{}:
		for _, g := range groups {
			if s, ok := g.(string); ok {
				actor.Groups = append(actor.Groups, s)
			}
		}
	case []string:
		actor.Groups = append(actor.Groups, groups...)
	case string:
		actor.Groups = []string{groups}
	}

	return actor
}
