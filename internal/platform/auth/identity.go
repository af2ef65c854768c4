// Package auth authenticates staff through Firebase ID tokens and services through Google-signed
// OIDC tokens.
package auth

import (
	"context"
	"strings"
)

// Roles granted through Firebase custom claims.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the verified staff member behind a request.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole reports whether the identity holds role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, strings.TrimSpace(role)) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity holds at least one of roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type identityKey struct{}

// WithIdentity stores identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by the Firebase middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

// ActorID names whoever is acting in ctx: the staff uid, the service subject prefixed with
// "svc:", or "" when the request is anonymous.
func ActorID(ctx context.Context) string {
	if identity, ok := IdentityFromContext(ctx); ok {
		return identity.UID
	}
	if svc, ok := ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "svc:" + svc.Subject
	}
	return ""
}
