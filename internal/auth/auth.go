package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSource = errors.New("no credential source configured")

// Token is a bearer token issued for one scope.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

func (t Token) valid(now time.Time, skew time.Duration) bool {
	if t.Value == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Add(skew).Before(t.ExpiresAt)
}

// TokenSource issues bearer tokens for a scope.
type TokenSource interface {
	Token(ctx context.Context, scope string) (Token, error)
}

// Credential authenticates one upstream connection.
type Credential struct {
	APIKey string
	Bearer Token
}

// Apply sets the authentication header for the credential.
func (c Credential) Apply(h http.Header) {
	if c.APIKey != "" {
		h.Set("api-key", c.APIKey)
		return
	}
	if c.Bearer.Value != "" {
		h.Set("Authorization", "Bearer "+c.Bearer.Value)
	}
}

// AuthenticationError reports that no scope yielded a token.
type AuthenticationError struct {
	Scopes []string
	Errs   []error
}

func (e *AuthenticationError) Error() string {
	if len(e.Scopes) == 0 {
		return "authentication failed: no token scopes configured"
	}
	parts := make([]string, 0, len(e.Errs))
	for i, err := range e.Errs {
		parts = append(parts, fmt.Sprintf("%s: %v", e.Scopes[i], err))
	}
	return "authentication failed for all token scopes: " + strings.Join(parts, "; ")
}

func (e *AuthenticationError) Unwrap() []error { return e.Errs }

// Provider hands out upstream credentials. A configured API key always wins;
// otherwise tokens are requested from Source for each scope in order and
// cached until shortly before expiry.
type Provider struct {
	APIKey string
	Source TokenSource
	Scopes []string

	// Skew renews cached tokens this long before they expire.
	Skew time.Duration
	now  func() time.Time

	mu    sync.Mutex
	cache map[string]Token
}

func NewProvider(apiKey string, scopes []string, source TokenSource) *Provider {
	return &Provider{
		APIKey: strings.TrimSpace(apiKey),
		Source: source,
		Scopes: append([]string(nil), scopes...),
		Skew:   2 * time.Minute,
		now:    time.Now,
		cache:  make(map[string]Token),
	}
}

func (p *Provider) Credential(ctx context.Context) (Credential, error) {
	if p.APIKey != "" {
		return Credential{APIKey: p.APIKey}, nil
	}
	if p.Source == nil {
		return Credential{}, &AuthenticationError{Scopes: p.Scopes, Errs: repeatErr(ErrNoSource, len(p.Scopes))}
	}

	now := p.now()
	p.mu.Lock()
	for _, scope := range p.Scopes {
		if tok, ok := p.cache[scope]; ok && tok.valid(now, p.Skew) {
			p.mu.Unlock()
			return Credential{Bearer: tok}, nil
		}
	}
	p.mu.Unlock()

	authErr := &AuthenticationError{Scopes: p.Scopes}
	for _, scope := range p.Scopes {
		tok, err := p.Source.Token(ctx, scope)
		if err == nil && tok.Value == "" {
			err = errors.New("empty token")
		}
		if err != nil {
			authErr.Errs = append(authErr.Errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if tok.ExpiresAt.IsZero() {
			tok.ExpiresAt = ExpiryFromJWT(tok.Value)
		}
		p.mu.Lock()
		p.cache[scope] = tok
		p.mu.Unlock()
		return Credential{Bearer: tok}, nil
	}
	authErr.Scopes = authErr.Scopes[:len(authErr.Errs)]
	return Credential{}, authErr
}

// ExpiryFromJWT reads the exp claim without verifying the signature; the
// token is only ever presented to its issuer's audience, never trusted here.
func ExpiryFromJWT(raw string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func repeatErr(err error, n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}

// Chain tries each source in order and returns the first token issued.
type Chain []TokenSource

func (c Chain) Token(ctx context.Context, scope string) (Token, error) {
	if len(c) == 0 {
		return Token{}, ErrNoSource
	}
	var errs []error
	for _, src := range c {
		tok, err := src.Token(ctx, scope)
		if err == nil {
			return tok, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return Token{}, errors.Join(errs...)
}
