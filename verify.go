package authgate

import (
	"context"
	"strconv"
	"strings"
)

// TokenInfo is what the boundary learned when it verified the bearer token:
// identity, role/permission facts, and token metadata. Token verification
// itself is a precondition handled outside this package.
type TokenInfo struct {
	TokenID   string
	UserID    int64
	UserName  string
	UserEmail string
	Roles     []string
	Perms     []string
	Abilities []string
	IssuedAt  int64
	ExpiresAt int64
	Issuer    string
}

// VerifyResponse is the token-introspection envelope the HTTP boundary
// returns, embedding the authorization verdict under Ext.
type VerifyResponse struct {
	Active      bool        `json:"active"`
	Scope       string      `json:"scope,omitempty"`
	TokenType   string      `json:"token_type,omitempty"`
	Exp         int64       `json:"exp,omitempty"`
	Iat         int64       `json:"iat,omitempty"`
	Sub         string      `json:"sub,omitempty"`
	Aud         string      `json:"aud,omitempty"`
	Iss         string      `json:"iss,omitempty"`
	Jti         string      `json:"jti,omitempty"`
	User        *VerifyUser `json:"user,omitempty"`
	Roles       []string    `json:"roles,omitempty"`
	Permissions []string    `json:"permissions,omitempty"`
	Ext         *VerifyExt  `json:"ext,omitempty"`
}

// VerifyUser identifies the token's subject.
type VerifyUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// VerifyExt carries the verdict plus the request context it answers.
type VerifyExt struct {
	Authorized          bool          `json:"authorized"`
	RequiredPermissions []string      `json:"required_permissions"`
	GrantedBy           string        `json:"granted_by"`
	Store               StoreMeta     `json:"store"`
	Context             VerifyContext `json:"context"`
}

// VerifyContext echoes the question that was asked.
type VerifyContext struct {
	Service   string `json:"service"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	RouteName string `json:"route_name,omitempty"`
}

// Verify runs a Check for an already-verified token and wraps the verdict
// in the introspection envelope.
func (e *Engine) Verify(ctx context.Context, info TokenInfo, req CheckRequest) (*VerifyResponse, error) {
	req.Caller = CallerFacts{
		UserID:      info.UserID,
		Roles:       info.Roles,
		Permissions: info.Perms,
		Abilities:   info.Abilities,
	}
	verdict, err := e.Check(ctx, req)
	if err != nil {
		return nil, err
	}
	return &VerifyResponse{
		Active:      true,
		Scope:       strings.Join(info.Abilities, " "),
		TokenType:   "access_token",
		Exp:         info.ExpiresAt,
		Iat:         info.IssuedAt,
		Sub:         strconv.FormatInt(info.UserID, 10),
		Aud:         req.Service,
		Iss:         info.Issuer,
		Jti:         info.TokenID,
		User:        &VerifyUser{ID: info.UserID, Name: info.UserName, Email: info.UserEmail},
		Roles:       info.Roles,
		Permissions: info.Perms,
		Ext: &VerifyExt{
			Authorized:          verdict.Authorized,
			RequiredPermissions: verdict.RequiredPermissions,
			GrantedBy:           verdict.GrantedBy,
			Store:               verdict.Meta,
			Context: VerifyContext{
				Service:   req.Service,
				Method:    NormalizeMethod(req.Method),
				Path:      req.Path,
				RouteName: req.RouteName,
			},
		},
	}, nil
}
