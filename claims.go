package cognitox

import "time"

// Claims represents the normalized claims of a verified user pool token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
	JWTID     string

	TokenUse      TokenUse
	Username      string
	ClientID      string
	EventID       string
	AuthTime      time.Time
	Email         string
	EmailVerified bool
	Groups        []string
	Scopes        []string

	// CustomAttributes holds custom: claims keyed by their full name.
	CustomAttributes map[string]string
	CustomClaims     map[string]any
}
