package cognitox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Provider exposes an Issuer as oauth2 token sources, so clients written
// against golang.org/x/oauth2 can be pointed at the test double. Sources are
// cached per user and group membership and only re-issue once the access
// token expires.
type Provider struct {
	mu      sync.RWMutex
	issuer  *Issuer
	entries map[providerKey]*tokenSourceEntry
}

type providerKey struct {
	Username   string
	Attributes string
	Groups     string
}

type tokenSourceEntry struct {
	source oauth2.TokenSource
}

// NewProvider constructs a Provider backed by issuer.
func NewProvider(issuer *Issuer) *Provider {
	return &Provider{
		issuer:  issuer,
		entries: make(map[providerKey]*tokenSourceEntry),
	}
}

// Token returns a cached or freshly issued token for user.
func (p *Provider) Token(ctx context.Context, user User, groups []string) (*oauth2.Token, error) {
	if strings.TrimSpace(user.Username) == "" {
		return nil, errors.New("username is required")
	}
	tok, err := p.TokenSource(ctx, user, groups).Token()
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("empty access token returned")
	}
	return tok, nil
}

// TokenSource returns the reusable source for user. ctx is kept for later
// refreshes but its cancellation and deadline are ignored.
func (p *Provider) TokenSource(ctx context.Context, user User, groups []string) oauth2.TokenSource {
	key := newProviderKey(user, groups)

	p.mu.RLock()
	entry, ok := p.entries[key]
	p.mu.RUnlock()
	if ok {
		return entry.source
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok = p.entries[key]; ok {
		return entry.source
	}
	entry = &tokenSourceEntry{source: oauth2.ReuseTokenSource(nil, &issuerTokenSource{
		ctx:    context.WithoutCancel(ctx),
		issuer: p.issuer,
		user:   cloneUser(user),
		groups: append([]string(nil), groups...),
	})}
	p.entries[key] = entry
	return entry.source
}

type issuerTokenSource struct {
	ctx    context.Context
	issuer *Issuer
	user   User
	groups []string
}

// Token implements oauth2.TokenSource.
func (s *issuerTokenSource) Token() (*oauth2.Token, error) {
	ttl, err := ParseExpiration(FormatExpiration(s.issuer.cfg.AccessTokenValidity))
	if err != nil {
		return nil, err
	}
	issuedAt := s.issuer.cfg.Now()
	tokens, err := s.issuer.GenerateTokens(s.ctx, s.user, s.groups)
	if err != nil {
		return nil, err
	}
	return tokens.OAuth2Token(issuedAt.Add(ttl)), nil
}

// OAuth2Token converts the triple into an oauth2 token. The id token is
// available through Extra("id_token").
func (t *Tokens) OAuth2Token(expiry time.Time) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: t.RefreshToken,
		Expiry:       expiry,
	}
	return tok.WithExtra(map[string]any{
		"id_token": t.IdToken,
	})
}

func newProviderKey(user User, groups []string) providerKey {
	attrs := make([]string, 0, len(user.Attributes))
	for _, a := range user.Attributes {
		attrs = append(attrs, a.Name+"="+a.Value)
	}
	return providerKey{
		Username:   user.Username,
		Attributes: strings.Join(attrs, "\x00"),
		Groups:     strings.Join(groups, "\x00"),
	}
}

func cloneUser(in User) User {
	out := in
	if len(in.Attributes) > 0 {
		out.Attributes = append([]Attribute(nil), in.Attributes...)
	}
	return out
}
