package cognitox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// SignParams are the per-token signing options.
type SignParams struct {
	Algorithm jwa.SignatureAlgorithm
	Issuer    string
	// ExpiresIn uses the FormatExpiration grammar, e.g. "24hours".
	ExpiresIn string
	// Audience and KeyID are omitted from the token when empty.
	Audience string
	KeyID    string
}

// Signer turns a claim set into a compact JWS.
type Signer interface {
	Sign(ctx context.Context, claims ClaimSet, key *SigningKey, params SignParams) (string, error)
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(ctx context.Context, claims ClaimSet, key *SigningKey, params SignParams) (string, error)

// Sign implements Signer.
func (f SignerFunc) Sign(ctx context.Context, claims ClaimSet, key *SigningKey, params SignParams) (string, error) {
	return f(ctx, claims, key, params)
}

// JWXSigner signs tokens with lestrrat-go/jwx. exp is computed from the
// iat claim when present, like jsonwebtoken does, else from the current time.
type JWXSigner struct{}

// Sign implements Signer. Failures are reported as ErrCodeSigning, or
// ErrCodeInvalidExpiration when ExpiresIn cannot be parsed.
func (JWXSigner) Sign(ctx context.Context, claims ClaimSet, key *SigningKey, params SignParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", newError(ErrCodeSigning, err)
	}
	if key == nil || key.Key == nil {
		return "", newError(ErrCodeSigning, errors.New("signing key is nil"))
	}
	ttl, err := ParseExpiration(params.ExpiresIn)
	if err != nil {
		return "", err
	}

	payload, err := buildPayload(claims, ttl, params)
	if err != nil {
		return "", newError(ErrCodeSigning, err)
	}

	headers := jws.NewHeaders()
	if err := headers.Set(jws.TypeKey, "JWT"); err != nil {
		return "", newError(ErrCodeSigning, fmt.Errorf("set typ: %w", err))
	}
	if params.KeyID != "" {
		if err := headers.Set(jws.KeyIDKey, params.KeyID); err != nil {
			return "", newError(ErrCodeSigning, fmt.Errorf("set kid: %w", err))
		}
	}
	// The raw key is used so jwx does not copy the JWK kid into tokens
	// that must not carry one.
	var raw any
	if err := key.Key.Raw(&raw); err != nil {
		return "", newError(ErrCodeSigning, fmt.Errorf("raw key: %w", err))
	}
	signed, err := jws.Sign(payload, jws.WithKey(params.Algorithm, raw, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", newError(ErrCodeSigning, err)
	}
	return string(signed), nil
}

// buildPayload serializes claims in insertion order followed by exp, aud
// and iss, the order jsonwebtoken writes them in.
func buildPayload(claims ClaimSet, ttl time.Duration, params SignParams) ([]byte, error) {
	base := time.Now().Unix()
	if iat, ok := claims.Get(jwt.IssuedAtKey); ok {
		secs, ok := iat.(int64)
		if !ok {
			return nil, fmt.Errorf("iat must be int64 unix seconds, got %T", iat)
		}
		base = secs
	}

	out := ClaimSet{claims: claims.Claims()}
	out.Set(jwt.ExpirationKey, base+int64(ttl/time.Second))
	out.SetIf(params.Audience != "", jwt.AudienceKey, params.Audience)
	out.SetIf(params.Issuer != "", jwt.IssuerKey, params.Issuer)
	return out.MarshalJSON()
}

func buildJWT(claims ClaimSet) (jwt.Token, time.Time, error) {
	tok := jwt.New()
	base := time.Now()
	for _, c := range claims.Claims() {
		value := c.Value
		if c.Name == jwt.IssuedAtKey {
			if secs, ok := value.(int64); ok {
				base = time.Unix(secs, 0)
				value = base
			}
		}
		if err := tok.Set(c.Name, value); err != nil {
			return nil, time.Time{}, fmt.Errorf("set %s: %w", c.Name, err)
		}
	}
	return tok, base, nil
}
