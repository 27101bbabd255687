// Package auth validates presented credentials at connection-establishment
// time and derives the principal a connection runs as. Token issuance lives
// with the identity provider; this package only verifies.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Principal is the authenticated identity derived from a validated credential.
type Principal struct {
	ID    string
	Role  string
	Email string
}

// ErrUnauthorized indicates the credential failed validation (signature,
// issuer, audience, expiry) and admission must be refused.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Verifier validates an opaque bearer credential. Implementations MUST perform
// signature, issuer, audience and time validations where applicable.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// Gatekeeper decides connection admission. It owns no connection state;
// registration into the connection table is the broker's concern.
type Gatekeeper struct {
	verifier Verifier
}

func NewGatekeeper(v Verifier) *Gatekeeper {
	return &Gatekeeper{verifier: v}
}

// Admit validates rawCredential and returns the derived principal. On failure
// the connection upgrade must be refused before any connection state exists.
func (g *Gatekeeper) Admit(ctx context.Context, rawCredential string) (Principal, error) {
	tok := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rawCredential), "Bearer "))
	if tok == "" {
		return Principal{}, fmt.Errorf("%w: empty credential", ErrUnauthorized)
	}
	p, err := g.verifier.Verify(ctx, tok)
	if err != nil {
		return Principal{}, err
	}
	if p.ID == "" {
		return Principal{}, fmt.Errorf("%w: verifier returned empty principal", ErrUnauthorized)
	}
	if p.Role == "" {
		p.Role = "user"
	}
	return p, nil
}
