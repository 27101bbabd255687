package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestGatekeeperAdmitsValidToken(t *testing.T) {
	v, err := NewJWTVerifier(JWTConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	g := NewGatekeeper(v)

	raw := signToken(t, jwt.MapClaims{
		"sub":   "user-1",
		"role":  "admin",
		"email": "user@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	p, err := g.Admit(context.Background(), "Bearer "+raw)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if p.ID != "user-1" || p.Role != "admin" || p.Email != "user@example.com" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestGatekeeperRefusesExpiredToken(t *testing.T) {
	v, _ := NewJWTVerifier(JWTConfig{Secret: testSecret, Leeway: time.Second})
	g := NewGatekeeper(v)

	raw := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	if _, err := g.Admit(context.Background(), raw); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Admit() error = %v, want ErrUnauthorized", err)
	}
}

func TestGatekeeperRefusesBadSignature(t *testing.T) {
	v, _ := NewJWTVerifier(JWTConfig{Secret: testSecret})
	g := NewGatekeeper(v)

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err := other.SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := g.Admit(context.Background(), raw); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Admit() error = %v, want ErrUnauthorized", err)
	}
}

func TestGatekeeperRefusesMissingSub(t *testing.T) {
	v, _ := NewJWTVerifier(JWTConfig{Secret: testSecret})
	g := NewGatekeeper(v)

	raw := signToken(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := g.Admit(context.Background(), raw); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Admit() error = %v, want ErrUnauthorized", err)
	}
}

func TestGatekeeperRefusesEmptyCredential(t *testing.T) {
	v, _ := NewJWTVerifier(JWTConfig{Secret: testSecret})
	g := NewGatekeeper(v)

	if _, err := g.Admit(context.Background(), "   "); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Admit() error = %v, want ErrUnauthorized", err)
	}
}

func TestJWTVerifierEnforcesIssuerAndAudience(t *testing.T) {
	v, _ := NewJWTVerifier(JWTConfig{Secret: testSecret, Issuer: "idp", Audience: "streamgate"})
	g := NewGatekeeper(v)

	good := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "idp",
		"aud": "streamgate",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := g.Admit(context.Background(), good); err != nil {
		t.Fatalf("Admit() with matching iss/aud error = %v", err)
	}

	bad := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "someone-else",
		"aud": "streamgate",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := g.Admit(context.Background(), bad); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Admit() with wrong issuer error = %v, want ErrUnauthorized", err)
	}
}

func TestStaticVerifier(t *testing.T) {
	v, err := NewStaticVerifier("tok-a=alice:admin, tok-b=bob")
	if err != nil {
		t.Fatalf("NewStaticVerifier() error = %v", err)
	}
	g := NewGatekeeper(v)

	p, err := g.Admit(context.Background(), "tok-a")
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if p.ID != "alice" || p.Role != "admin" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	p, err = g.Admit(context.Background(), "tok-b")
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if p.Role != "user" {
		t.Fatalf("Role = %q, want default user", p.Role)
	}

	if _, err := g.Admit(context.Background(), "nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown token error = %v, want ErrUnauthorized", err)
	}
}

func TestStaticVerifierRejectsMalformedSpec(t *testing.T) {
	if _, err := NewStaticVerifier(""); err == nil {
		t.Fatalf("empty spec should fail")
	}
	if _, err := NewStaticVerifier("just-a-token"); err == nil {
		t.Fatalf("entry without principal should fail")
	}
}
