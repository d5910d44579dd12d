package auth

import (
	"context"
	"testing"
)

func TestRequire(t *testing.T) {
	tests := []struct {
		name string
		p    Principal
		need []Role
		want error
	}{
		{"anonymous", Principal{}, nil, ErrUnauthenticated},
		{"anonymous with roles", Principal{Roles: []Role{RolePayer}}, []Role{RolePayer}, ErrUnauthenticated},
		{"identity only", Principal{ID: "alice"}, nil, nil},
		{"missing role", Principal{ID: "alice", Roles: []Role{RolePayer}}, []Role{RoleApprover}, ErrForbidden},
		{"has role", Principal{ID: "alice", Roles: []Role{RolePayer, RoleApprover}}, []Role{RoleApprover}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Require(tt.need...); got != tt.want {
				t.Errorf("Require() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequireIdentity(t *testing.T) {
	alice := Principal{ID: "alice"}
	if err := alice.RequireIdentity("alice"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := alice.RequireIdentity("bob"); err != ErrForbidden {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if err := (Principal{}).RequireIdentity(""); err != ErrUnauthenticated {
		t.Errorf("empty identity must not match empty owner, got %v", err)
	}
}

func TestParseRoles(t *testing.T) {
	roles := ParseRoles(" Payer, ,approver,")
	if len(roles) != 2 || roles[0] != RolePayer || roles[1] != RoleApprover {
		t.Errorf("unexpected roles: %v", roles)
	}
	if ParseRoles("") != nil {
		t.Error("expected nil roles for empty header")
	}
}

func TestContextRoundTrip(t *testing.T) {
	if FromContext(context.Background()).Authenticated() {
		t.Error("empty context should yield anonymous principal")
	}
	ctx := WithPrincipal(context.Background(), Principal{ID: "alice", Roles: []Role{RoleKeeper}})
	p := FromContext(ctx)
	if p.ID != "alice" || !p.Has(RoleKeeper) {
		t.Errorf("unexpected principal: %+v", p)
	}
}
