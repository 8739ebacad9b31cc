package cognitox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func TestValidator_JWKSRoundTrip(t *testing.T) {
	key := testKey(t)
	jwksURL := newJWKS(t, key)

	cfg := testConfig()
	tokens := generate(t, cfg, alice(), []string{"admins"})

	validator, err := NewValidator(ValidatorConfig{
		Issuer:      cfg.Issuer(),
		ClientID:    cfg.UserPoolClientID,
		JWKSURL:     jwksURL,
		ClockSkew:   10 * time.Second,
		MinRefresh:  time.Second,
		HTTPTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	ctx := context.Background()
	if err := validator.Warmup(ctx); err != nil {
		t.Fatalf("Warmup: %v", err)
	}

	access, err := validator.Validate(ctx, tokens.AccessToken, TokenUseAccess)
	if err != nil {
		t.Fatalf("Validate access: %v", err)
	}
	if access.Subject != "u-1" || access.Username != "alice" || access.ClientID != "client-1" {
		t.Fatalf("unexpected access claims: %+v", access)
	}
	if len(access.Scopes) != 1 || access.Scopes[0] != AdminScope {
		t.Fatalf("unexpected scopes: %v", access.Scopes)
	}
	if len(access.Audience) != 0 {
		t.Fatalf("access token must not carry audience: %v", access.Audience)
	}

	id, err := validator.Validate(ctx, tokens.IdToken, TokenUseID)
	if err != nil {
		t.Fatalf("Validate id: %v", err)
	}
	if id.Email != "a@x.com" || !id.EmailVerified {
		t.Fatalf("unexpected id claims: %+v", id)
	}
	if len(id.Audience) != 1 || id.Audience[0] != "client-1" {
		t.Fatalf("unexpected audience: %v", id.Audience)
	}
	if len(id.Groups) != 1 || id.Groups[0] != "admins" {
		t.Fatalf("unexpected groups: %v", id.Groups)
	}
	if id.EventID == "" || id.EventID != access.EventID {
		t.Fatalf("event ids differ: %q vs %q", id.EventID, access.EventID)
	}
	if id.AuthTime.IsZero() || !id.AuthTime.Equal(id.IssuedAt) {
		t.Fatalf("auth_time %v should equal iat %v", id.AuthTime, id.IssuedAt)
	}

	refresh, err := validator.Validate(ctx, tokens.RefreshToken, TokenUseRefresh)
	if err != nil {
		t.Fatalf("Validate refresh: %v", err)
	}
	if refresh.Username != "alice" || refresh.Subject != "" || refresh.TokenUse != "" {
		t.Fatalf("unexpected refresh claims: %+v", refresh)
	}
	if got := refresh.ExpiresAt.Sub(refresh.IssuedAt); got != 7*24*time.Hour {
		t.Fatalf("unexpected refresh lifetime: %v", got)
	}
}

func TestValidator_LocalKeySet(t *testing.T) {
	key := testKey(t)
	set, err := PublicKeySet(key)
	if err != nil {
		t.Fatalf("PublicKeySet: %v", err)
	}
	cfg := testConfig()
	user := alice()
	user.Attributes = append(user.Attributes, Attribute{Name: "custom:tier", Value: "gold"})
	tokens := generate(t, cfg, user, nil)

	validator, err := NewValidator(ValidatorConfig{Issuer: cfg.Issuer(), ClientID: cfg.UserPoolClientID, KeySet: set})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if err := validator.Warmup(context.Background()); err != nil {
		t.Fatalf("Warmup on local set: %v", err)
	}

	claims, err := validator.Validate(context.Background(), tokens.IdToken, TokenUseID)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.CustomAttributes["custom:tier"] != "gold" {
		t.Fatalf("unexpected custom attributes: %v", claims.CustomAttributes)
	}
	if claims.Groups != nil {
		t.Fatalf("expected no groups, got %v", claims.Groups)
	}
}

func TestValidator_TokenUseMismatch(t *testing.T) {
	validator, tokens := newLocalValidator(t)

	cases := []struct {
		name  string
		token string
		use   TokenUse
		code  ErrorCode
	}{
		{"access as id", tokens.AccessToken, TokenUseID, ErrCodeInvalidAudience},
		{"id as access", tokens.IdToken, TokenUseAccess, ErrCodeInvalidTokenUse},
		{"access as refresh", tokens.AccessToken, TokenUseRefresh, ErrCodeInvalidTokenUse},
		{"refresh as access", tokens.RefreshToken, TokenUseAccess, ErrCodeInvalidTokenUse},
		{"unknown use", tokens.AccessToken, TokenUse("other"), ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validator.Validate(context.Background(), tc.token, tc.use)
			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if e.Code != tc.code {
				t.Fatalf("expected %s, got %s (%v)", tc.code, e.Code, err)
			}
		})
	}
}

func TestValidator_InvalidIssuer(t *testing.T) {
	key := testKey(t)
	set, err := PublicKeySet(key)
	if err != nil {
		t.Fatalf("PublicKeySet: %v", err)
	}
	cfg := testConfig()
	cfg.UserPoolID = "other-pool"
	tokens := generate(t, cfg, alice(), nil)

	validator, err := NewValidator(ValidatorConfig{Issuer: testConfig().Issuer(), ClientID: "client-1", KeySet: set})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	_, err = validator.Validate(context.Background(), tokens.AccessToken, TokenUseAccess)
	var e *Error
	if !errors.As(err, &e) || e.Code != ErrCodeInvalidIssuer {
		t.Fatalf("expected invalid issuer, got %v", err)
	}
}

func TestValidator_WrongKey(t *testing.T) {
	other, err := NewDevSigningKey("test-kid")
	if err != nil {
		t.Fatalf("NewDevSigningKey: %v", err)
	}
	set, err := PublicKeySet(other)
	if err != nil {
		t.Fatalf("PublicKeySet: %v", err)
	}
	tokens := generate(t, testConfig(), alice(), nil)

	validator, err := NewValidator(ValidatorConfig{Issuer: testConfig().Issuer(), ClientID: "client-1", KeySet: set})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	_, err = validator.Validate(context.Background(), tokens.RefreshToken, TokenUseRefresh)
	var e *Error
	if !errors.As(err, &e) || e.Code != ErrCodeInvalidToken {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestValidator_ExpiredAndNotYetValid(t *testing.T) {
	validator, _ := newLocalValidator(t)
	key := testKey(t)

	t.Run("expired token", func(t *testing.T) {
		now := time.Now()
		token := sign(t, jwt.NewBuilder().
			Issuer("https://idp.example/pool-1").
			IssuedAt(now.Add(-2*time.Hour)).
			Expiration(now.Add(-time.Hour)).
			Claim(ClaimTokenUse, "access").
			Claim(ClaimClientID, "client-1"),
			key,
		)
		_, err := validator.Validate(context.Background(), token, TokenUseAccess)
		var e *Error
		if !errors.As(err, &e) {
			t.Fatalf("expected *Error, got %T", err)
		}
		if e.Code != ErrCodeExpired {
			t.Fatalf("expected ErrCodeExpired, got %s", e.Code)
		}
	})

	t.Run("not yet valid", func(t *testing.T) {
		now := time.Now()
		token := sign(t, jwt.NewBuilder().
			Issuer("https://idp.example/pool-1").
			IssuedAt(now).
			NotBefore(now.Add(time.Hour)).
			Expiration(now.Add(2*time.Hour)).
			Claim(ClaimTokenUse, "access").
			Claim(ClaimClientID, "client-1"),
			key,
		)
		_, err := validator.Validate(context.Background(), token, TokenUseAccess)
		var e *Error
		if !errors.As(err, &e) {
			t.Fatalf("expected *Error, got %T", err)
		}
		if e.Code != ErrCodeNotYetValid {
			t.Fatalf("expected ErrCodeNotYetValid, got %s", e.Code)
		}
	})
}

func TestValidator_EmptyToken(t *testing.T) {
	validator, _ := newLocalValidator(t)
	_, err := validator.Validate(context.Background(), "", TokenUseAccess)
	var e *Error
	if !errors.As(err, &e) || e.Code != ErrCodeInvalidToken {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidator_JWKSUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	validator, err := NewValidator(ValidatorConfig{
		Issuer:      "https://idp.example/pool-1",
		ClientID:    "client-1",
		JWKSURL:     server.URL,
		HTTPTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	err = validator.Warmup(context.Background())
	var e *Error
	if !errors.As(err, &e) || e.Code != ErrCodeJWKSUnavailable {
		t.Fatalf("expected jwks unavailable, got %v", err)
	}
}

func TestValidatorConfig_Validate(t *testing.T) {
	set := jwk.NewSet()
	cases := []ValidatorConfig{
		{ClientID: "c", KeySet: set},
		{Issuer: "i", KeySet: set},
		{Issuer: "i", ClientID: "c"},
		{Issuer: "i", ClientID: "c", KeySet: set, JWKSURL: "https://example.com/jwks"},
	}
	for i, cfg := range cases {
		if _, err := NewValidator(cfg); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func newLocalValidator(t *testing.T) (*Validator, *Tokens) {
	t.Helper()
	set, err := PublicKeySet(testKey(t))
	if err != nil {
		t.Fatalf("PublicKeySet: %v", err)
	}
	cfg := testConfig()
	validator, err := NewValidator(ValidatorConfig{Issuer: cfg.Issuer(), ClientID: cfg.UserPoolClientID, KeySet: set, ClockSkew: time.Second})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return validator, generate(t, cfg, alice(), nil)
}

func newJWKS(t *testing.T, key *SigningKey) string {
	t.Helper()
	set, err := PublicKeySet(key)
	if err != nil {
		t.Fatalf("public key set: %v", err)
	}
	payload, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	return server.URL
}

func sign(t *testing.T, builder *jwt.Builder, key *SigningKey) string {
	t.Helper()
	token, err := builder.Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	headers := jws.NewHeaders()
	if err := headers.Set(jws.KeyIDKey, key.KeyID); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key.Key, jws.WithProtectedHeaders(headers)))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}
