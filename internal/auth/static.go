package auth

import (
	"context"
	"fmt"
	"strings"
)

// staticVerifier maps fixed tokens to principals. Intended for local
// development and tests where no identity provider is available.
type staticVerifier struct {
	principals map[string]Principal
}

// NewStaticVerifier parses a "token=id:role,token2=id2:role2" spec.
// Role defaults to "user" when omitted.
func NewStaticVerifier(spec string) (Verifier, error) {
	principals := make(map[string]Principal)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		tok, rest, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(tok) == "" || strings.TrimSpace(rest) == "" {
			return nil, fmt.Errorf("invalid static token entry %q", entry)
		}
		id, role, _ := strings.Cut(rest, ":")
		principals[strings.TrimSpace(tok)] = Principal{
			ID:   strings.TrimSpace(id),
			Role: strings.TrimSpace(role),
		}
	}
	if len(principals) == 0 {
		return nil, fmt.Errorf("static verifier requires at least one token")
	}
	return &staticVerifier{principals: principals}, nil
}

func (v *staticVerifier) Verify(_ context.Context, token string) (Principal, error) {
	p, ok := v.principals[token]
	if !ok {
		return Principal{}, fmt.Errorf("%w: unknown token", ErrUnauthorized)
	}
	return p, nil
}
