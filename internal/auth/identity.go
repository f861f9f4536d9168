// Package auth resolves the caller of a control-plane request to a
// tenant-scoped Identity. Full user authentication (login, sessions,
// SSO) belongs to an external authentication service; this engine only
// recognizes the credentials it issues itself: API keys and, in
// development, a bare tenant-slug header.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Role levels, ordered least to most privileged.
const (
	RoleReadonly = "readonly"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var validRoles = map[string]struct{}{
	RoleReadonly: {},
	RoleOperator: {},
	RoleAdmin:    {},
}

func IsValidRole(role string) bool {
	_, ok := validRoles[role]
	return ok
}

// Authentication methods recorded on an Identity for audit logging.
const (
	MethodAPIKey = "apikey"
	MethodDev    = "dev"
)

// Identity is the resolved caller of a control-plane request.
type Identity struct {
	Subject    string
	TenantSlug string
	TenantID   uuid.UUID
	UserID     *uuid.UUID
	APIKeyID   *uuid.UUID
	Role       string
	Method     string
}

type contextKey int

const identityKey contextKey = iota

// NewContext attaches an Identity to ctx.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the Identity attached to ctx, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}
