package cognitox

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const devKeyBits = 2048

// NewDevSigningKey generates an ephemeral RS256 key for local development
// and tests. kid defaults to the key thumbprint.
func NewDevSigningKey(kid string) (*SigningKey, error) {
	raw, err := rsa.GenerateKey(rand.Reader, devKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("private key jwk: %w", err)
	}
	return NewSigningKey(key, jwa.RS256.String(), kid)
}

// DefaultDevConfig returns a baseline pool configuration resembling a
// cognito-local setup.
func DefaultDevConfig() Config {
	return Config{
		IssuerDomain:     "http://localhost:9229",
		UserPoolID:       "local_pool",
		UserPoolClientID: "local-client",
	}
}

// DefaultDevUser returns a verified user suitable for local development.
func DefaultDevUser() User {
	return User{
		Username: "dev-user",
		Attributes: []Attribute{
			{Name: ClaimSubject, Value: "00000000-0000-4000-8000-000000000000"},
			{Name: ClaimEmail, Value: "dev-user@example.com"},
			{Name: ClaimEmailVerified, Value: "true"},
		},
	}
}
