package cognitox

import (
	"bytes"
	"context"
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// SigningKey is the process-wide private key tokens are signed with.
// It is never mutated after loading.
type SigningKey struct {
	Key       jwk.Key
	Algorithm jwa.SignatureAlgorithm
	KeyID     string
}

// KeyProvider hands out the signing key.
type KeyProvider interface {
	SigningKey(ctx context.Context) (*SigningKey, error)
}

// StaticKeyProvider serves a key that has already been loaded.
type StaticKeyProvider struct {
	Key *SigningKey
}

// SigningKey implements KeyProvider.
func (p StaticKeyProvider) SigningKey(context.Context) (*SigningKey, error) {
	if p.Key == nil || p.Key.Key == nil {
		return nil, newError(ErrCodeKeyUnavailable, errors.New("no signing key configured"))
	}
	return p.Key, nil
}

// FileKeyProvider loads a JWK or PEM private key from disk on first use.
// Algorithm and KeyID override whatever the file carries.
type FileKeyProvider struct {
	Path      string
	Algorithm string
	KeyID     string

	once sync.Once
	key  *SigningKey
	err  error
}

// SigningKey implements KeyProvider. The file is read exactly once; a load
// failure is sticky.
func (p *FileKeyProvider) SigningKey(context.Context) (*SigningKey, error) {
	p.once.Do(func() {
		p.key, p.err = LoadSigningKey(p.Path, p.Algorithm, p.KeyID)
	})
	return p.key, p.err
}

// LoadSigningKey reads a private key from path. PEM and JWK encodings are
// accepted. Without an explicit algorithm the JWK alg is used, falling back
// to the key type default; without a key id the JWK kid is used, falling
// back to the RFC 7638 thumbprint.
func LoadSigningKey(path, alg, kid string) (*SigningKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrCodeKeyUnavailable, err)
	}
	var opts []jwk.ParseOption
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) {
		opts = append(opts, jwk.WithPEM(true))
	}
	key, err := jwk.ParseKey(data, opts...)
	if err != nil {
		return nil, newError(ErrCodeKeyUnavailable, fmt.Errorf("parse %s: %w", path, err))
	}
	return NewSigningKey(key, alg, kid)
}

// NewSigningKey resolves algorithm and key id for an already parsed key.
func NewSigningKey(key jwk.Key, alg, kid string) (*SigningKey, error) {
	if key == nil {
		return nil, newError(ErrCodeKeyUnavailable, errors.New("key is nil"))
	}
	if alg == "" && key.Algorithm() != nil {
		alg = key.Algorithm().String()
	}
	var sigAlg jwa.SignatureAlgorithm
	if alg == "" {
		def, err := defaultAlgorithm(key)
		if err != nil {
			return nil, newError(ErrCodeKeyUnavailable, err)
		}
		sigAlg = def
	} else if err := sigAlg.Accept(alg); err != nil {
		return nil, newError(ErrCodeKeyUnavailable, fmt.Errorf("algorithm %q: %w", alg, err))
	}
	if kid == "" {
		kid = key.KeyID()
	}
	if kid == "" {
		tp, err := key.Thumbprint(crypto.SHA256)
		if err != nil {
			return nil, newError(ErrCodeKeyUnavailable, fmt.Errorf("thumbprint: %w", err))
		}
		kid = base64.RawURLEncoding.EncodeToString(tp)
	}
	return &SigningKey{Key: key, Algorithm: sigAlg, KeyID: kid}, nil
}

func defaultAlgorithm(key jwk.Key) (jwa.SignatureAlgorithm, error) {
	switch k := key.(type) {
	case jwk.RSAPrivateKey:
		return jwa.RS256, nil
	case jwk.ECDSAPrivateKey:
		switch k.Crv() {
		case jwa.P384:
			return jwa.ES384, nil
		case jwa.P521:
			return jwa.ES512, nil
		default:
			return jwa.ES256, nil
		}
	case jwk.OKPPrivateKey:
		return jwa.EdDSA, nil
	case jwk.SymmetricKey:
		return jwa.HS256, nil
	}
	return "", fmt.Errorf("unsupported key type %s", key.KeyType())
}

// PublicKeySet returns the JWKS document for the key, with alg, use and kid
// set so verifiers can select it.
func PublicKeySet(key *SigningKey) (jwk.Set, error) {
	pub, err := jwk.PublicKeyOf(key.Key)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	if err := pub.Set(jwk.KeyIDKey, key.KeyID); err != nil {
		return nil, fmt.Errorf("set kid: %w", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, key.Algorithm); err != nil {
		return nil, fmt.Errorf("set alg: %w", err)
	}
	if err := pub.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, fmt.Errorf("set use: %w", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, fmt.Errorf("add key: %w", err)
	}
	return set, nil
}
