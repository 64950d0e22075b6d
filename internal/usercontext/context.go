// Package usercontext carries the authenticated caller through request contexts.
package usercontext

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Principal is the caller resolved from a verified access token.
type Principal struct {
	UserID snowflake.ID
	Role   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type principalKey struct{}

// WithPrincipal stores the caller in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the caller, if set.
func FromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.UserID == 0 {
		return Principal{}, false
	}
	return p, true
}

// UserIDFromContext returns only the caller id.
func UserIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	p, ok := FromContext(ctx)
	return p.UserID, ok
}
