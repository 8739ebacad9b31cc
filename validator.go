package cognitox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Validator verifies tokens minted for a single user pool client, the way a
// Cognito resource server would.
type Validator struct {
	cfg   ValidatorConfig
	cache *jwk.Cache
}

// NewValidator builds a validator from the given configuration.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.normalize()

	v := &Validator{cfg: cfg}
	if cfg.JWKSURL != "" {
		cache := jwk.NewCache(context.Background())
		httpClient := &http.Client{
			Timeout: cfg.HTTPTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}
		if err := cache.Register(
			cfg.JWKSURL,
			jwk.WithMinRefreshInterval(cfg.MinRefresh),
			jwk.WithHTTPClient(httpClient),
		); err != nil {
			return nil, fmt.Errorf("register jwks %q: %w", cfg.JWKSURL, err)
		}
		v.cache = cache
	}
	return v, nil
}

// Warmup refreshes the remote JWKS. It is a no-op for a local key set.
func (v *Validator) Warmup(ctx context.Context) error {
	if v.cache == nil {
		return nil
	}
	refreshCtx, cancel := context.WithTimeout(ctx, v.cfg.HTTPTimeout)
	defer cancel()
	if _, err := v.cache.Refresh(refreshCtx, v.cfg.JWKSURL); err != nil {
		return newError(ErrCodeJWKSUnavailable, err)
	}
	return nil
}

// Validate verifies signature, issuer, lifetime and token_use of token.
// Id tokens must carry the client id as audience and access tokens as
// client_id. Refresh tokens have neither and must not carry token_use.
func (v *Validator) Validate(ctx context.Context, token string, use TokenUse) (*Claims, error) {
	if token == "" {
		return nil, newError(ErrCodeInvalidToken, errors.New("token is empty"))
	}
	keySet, err := v.keySet(ctx)
	if err != nil {
		return nil, err
	}

	// Refresh tokens are signed without a kid, so keys are tried in turn.
	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKeySet(keySet, jws.WithRequireKid(false), jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(false),
	)
	if err != nil {
		return nil, newError(ErrCodeInvalidToken, err)
	}

	validateOpts := []jwt.ValidateOption{
		jwt.WithAcceptableSkew(v.cfg.ClockSkew),
		jwt.WithIssuer(v.cfg.Issuer),
	}
	if use == TokenUseID {
		validateOpts = append(validateOpts, jwt.WithAudience(v.cfg.ClientID))
	}
	if err := jwt.Validate(parsed, validateOpts...); err != nil {
		switch {
		case errors.Is(err, jwt.ErrInvalidIssuer()):
			return nil, newError(ErrCodeInvalidIssuer, err)
		case errors.Is(err, jwt.ErrInvalidAudience()):
			return nil, newError(ErrCodeInvalidAudience, err)
		case errors.Is(err, jwt.ErrTokenExpired()):
			return nil, newError(ErrCodeExpired, err)
		case errors.Is(err, jwt.ErrTokenNotYetValid()):
			return nil, newError(ErrCodeNotYetValid, err)
		default:
			return nil, newError(ErrCodeInvalidToken, err)
		}
	}

	claims := extractClaims(parsed)
	if err := v.checkUse(claims, use); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *Validator) keySet(ctx context.Context) (jwk.Set, error) {
	if v.cache == nil {
		return v.cfg.KeySet, nil
	}
	set, err := v.cache.Get(ctx, v.cfg.JWKSURL)
	if err != nil {
		return nil, newError(ErrCodeJWKSUnavailable, err)
	}
	return set, nil
}

func (v *Validator) checkUse(claims *Claims, use TokenUse) error {
	switch use {
	case TokenUseAccess:
		if claims.TokenUse != TokenUseAccess {
			return newError(ErrCodeInvalidTokenUse, fmt.Errorf("token_use %q, want access", claims.TokenUse))
		}
		if claims.ClientID != v.cfg.ClientID {
			return newError(ErrCodeInvalidAudience, fmt.Errorf("client_id %q not accepted", claims.ClientID))
		}
	case TokenUseID:
		if claims.TokenUse != TokenUseID {
			return newError(ErrCodeInvalidTokenUse, fmt.Errorf("token_use %q, want id", claims.TokenUse))
		}
	case TokenUseRefresh:
		if claims.TokenUse != "" {
			return newError(ErrCodeInvalidTokenUse, fmt.Errorf("token_use %q on refresh token", claims.TokenUse))
		}
	default:
		return newError(ErrCodeInternal, fmt.Errorf("unknown token use %q", use))
	}
	return nil
}

func extractClaims(token jwt.Token) *Claims {
	private := token.PrivateClaims()
	var audience []string
	if audList := token.Audience(); len(audList) > 0 {
		audience = append([]string(nil), audList...)
	}
	claims := &Claims{
		Subject:   token.Subject(),
		Issuer:    token.Issuer(),
		Audience:  audience,
		ExpiresAt: token.Expiration(),
		NotBefore: token.NotBefore(),
		IssuedAt:  token.IssuedAt(),
		JWTID:     token.JwtID(),
	}

	if s, ok := private[ClaimTokenUse].(string); ok {
		claims.TokenUse = TokenUse(s)
	}
	if s, ok := private[ClaimUsername].(string); ok {
		claims.Username = s
	}
	if s, ok := private[ClaimCognitoUsername].(string); ok {
		claims.Username = s
	}
	if s, ok := private[ClaimClientID].(string); ok {
		claims.ClientID = s
	}
	if s, ok := private[ClaimEventID].(string); ok {
		claims.EventID = s
	}
	if s, ok := private[ClaimEmail].(string); ok {
		claims.Email = s
	}
	if b, ok := private[ClaimEmailVerified].(bool); ok {
		claims.EmailVerified = b
	}
	if t, ok := numericTime(private[ClaimAuthTime]); ok {
		claims.AuthTime = t
	}
	if groups, ok := private[ClaimCognitoGroups]; ok {
		claims.Groups = normalizeStrings(groups)
	}
	if scope, ok := private[ClaimScope].(string); ok && scope != "" {
		claims.Scopes = strings.Fields(scope)
	}
	if len(private) > 0 {
		claims.CustomClaims = make(map[string]any, len(private))
		for k, val := range private {
			claims.CustomClaims[k] = val
			if !strings.HasPrefix(k, customAttributePrefix) {
				continue
			}
			if s, ok := val.(string); ok {
				if claims.CustomAttributes == nil {
					claims.CustomAttributes = make(map[string]string)
				}
				claims.CustomAttributes[k] = s
			}
		}
	}
	return claims
}

func numericTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	}
	return time.Time{}, false
}

func normalizeStrings(value any) []string {
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
		return nil
	default:
		return nil
	}
}
