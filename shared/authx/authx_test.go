package authx

import (
	"context"
	"testing"
)

func TestRolesFromClaims(t *testing.T) {
	claims := map[string]any{
		"roles": []any{"admin", "operator", "admin"},
		"scp":   "read write",
	}
	roles := rolesFromClaims(claims)
	if len(roles) != 4 {
		t.Fatalf("expected 4 distinct roles, got %v", roles)
	}
	p := Principal{Roles: roles}
	if !p.HasRole(RoleOperator) || !p.HasRole(RoleAdmin) {
		t.Fatalf("expected operator and admin roles, got %v", roles)
	}
	if p.HasRole("viewer") {
		t.Fatalf("unexpected viewer role in %v", roles)
	}
}

func TestNewVerifierValidation(t *testing.T) {
	if _, err := NewVerifier("", "aud", "", 60, 0); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
	if _, err := NewVerifier("https://issuer.example", "", "", 60, 0); err == nil {
		t.Fatalf("expected error for missing audience")
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFrom(ctx); ok {
		t.Fatal("expected no principal on bare context")
	}
	ctx = WithPrincipal(ctx, Principal{Subject: "op-1"})
	p, ok := PrincipalFrom(ctx)
	if !ok || p.Subject != "op-1" {
		t.Fatalf("expected stored principal, got %+v ok=%v", p, ok)
	}
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	v, err := NewVerifier("https://issuer.example", "monitor", "https://issuer.example/jwks", 60, 30)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if _, err := v.Verify(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty token")
	}
}
