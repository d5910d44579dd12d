// Package auth models the authenticated principal making a call.
//
// Signature verification happens upstream; by the time a request reaches the
// engine the principal's identity and granted roles are already established.
// The engine compares that identity against record fields (owner, approver)
// and checks roles explicitly for each operation.
package auth

import (
	"context"
	"errors"
	"strings"
)

// Role is a capability granted to a principal.
type Role string

const (
	// RolePayer may propose rebalance decisions.
	RolePayer Role = "payer"
	// RoleApprover may approve high-risk decisions.
	RoleApprover Role = "approver"
	// RoleKeeper may credit accrued fees from trading activity.
	RoleKeeper Role = "keeper"
)

var (
	ErrUnauthenticated = errors.New("auth: no authenticated principal")
	ErrForbidden       = errors.New("auth: principal lacks required capability")
)

// Principal is an authenticated caller.
type Principal struct {
	ID    string `json:"id"`
	Roles []Role `json:"roles,omitempty"`
}

// Authenticated reports whether p carries an identity.
func (p Principal) Authenticated() bool {
	return p.ID != ""
}

// Has reports whether p was granted role r.
func (p Principal) Has(r Role) bool {
	for _, have := range p.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// Require returns nil if p is authenticated and holds every role in rs.
func (p Principal) Require(rs ...Role) error {
	if !p.Authenticated() {
		return ErrUnauthenticated
	}
	for _, r := range rs {
		if !p.Has(r) {
			return ErrForbidden
		}
	}
	return nil
}

// RequireIdentity returns nil if p is authenticated as id.
func (p Principal) RequireIdentity(id string) error {
	if !p.Authenticated() {
		return ErrUnauthenticated
	}
	if p.ID != id {
		return ErrForbidden
	}
	return nil
}

// ParseRoles splits a comma-separated role list, dropping blanks.
func ParseRoles(s string) []Role {
	var roles []Role
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		roles = append(roles, Role(part))
	}
	return roles
}

type ctxKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored in ctx, or the zero
// (unauthenticated) principal.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(ctxKey{}).(Principal)
	return p
}
