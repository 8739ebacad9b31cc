package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	cognitox "github.com/bionicotaku/lingo-utils-cognitox"
	"go.uber.org/zap"
)

// Globals are flags shared by every command.
type Globals struct {
	Debug   bool   `kong:"help='enable debug logging'"`
	KeyFile string `kong:"name='key-file',env='COGNITO_KEY_FILE',help='PEM or JWK private key; an ephemeral RS256 key is generated when empty'"`
	KeyAlg  string `kong:"name='key-alg',env='COGNITO_KEY_ALG',help='override the key algorithm'"`
	KeyID   string `kong:"name='key-id',env='COGNITO_KEY_ID',help='override the key id'"`
}

// app carries parsed global flags and runtime dependencies into commands.
type app struct {
	*Globals
	out    io.Writer
	logger *zap.Logger
}

// CLI is the command tree.
type CLI struct {
	Globals

	Issue  issueCmd  `kong:"cmd,help='issue an access/id/refresh token triple'"`
	JWKS   jwksCmd   `kong:"cmd,name='jwks',help='print the public JWKS for the signing key'"`
	Verify verifyCmd `kong:"cmd,help='verify a token and print its claims'"`
}

var cli CLI

// PoolFlags select the user pool tokens are issued for or checked against.
type PoolFlags struct {
	IssuerDomain string `kong:"name='issuer-domain',env='COGNITO_ISSUER_DOMAIN',default='http://localhost:9229'"`
	UserPoolID   string `kong:"name='user-pool-id',env='COGNITO_USER_POOL_ID',default='local_pool'"`
	ClientID     string `kong:"name='client-id',env='COGNITO_CLIENT_ID',default='local-client'"`
}

func (p PoolFlags) config() cognitox.Config {
	return cognitox.Config{
		IssuerDomain:     p.IssuerDomain,
		UserPoolID:       p.UserPoolID,
		UserPoolClientID: p.ClientID,
	}
}

type issueCmd struct {
	PoolFlags

	Username        string   `kong:"arg,optional,help='username; defaults to the dev user'"`
	Attr            []string `kong:"name='attr',short='a',help='user attribute as name=value, repeatable'"`
	Group           []string `kong:"name='group',short='g',help='group membership, repeatable'"`
	AccessValidity  string   `kong:"name='access-validity',default='24hours'"`
	IDValidity      string   `kong:"name='id-validity',default='24hours'"`
	RefreshValidity string   `kong:"name='refresh-validity',default='7days'"`
	StrictEmail     bool     `kong:"name='strict-email-verified',help='parse email_verified as a boolean'"`
	OAuth2          bool     `kong:"name='oauth2',help='print an oauth2 token response instead'"`
}

func (c *issueCmd) Run(g *app) error {
	cfg := c.config()
	cfg.Logger = g.logger
	cfg.StrictEmailVerified = c.StrictEmail
	var err error
	if cfg.AccessTokenValidity, err = cognitox.ParseTokenValidity(c.AccessValidity); err != nil {
		return err
	}
	if cfg.IDTokenValidity, err = cognitox.ParseTokenValidity(c.IDValidity); err != nil {
		return err
	}
	if cfg.RefreshTokenValidity, err = cognitox.ParseTokenValidity(c.RefreshValidity); err != nil {
		return err
	}

	user, err := c.user()
	if err != nil {
		return err
	}
	keys, err := g.keyProvider()
	if err != nil {
		return err
	}
	issuer, err := cognitox.NewIssuer(cfg, keys)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if c.OAuth2 {
		tok, err := cognitox.NewProvider(issuer).Token(ctx, user, c.Group)
		if err != nil {
			return err
		}
		return writeJSON(g.out, map[string]any{
			"access_token":  tok.AccessToken,
			"id_token":      tok.Extra("id_token"),
			"refresh_token": tok.RefreshToken,
			"token_type":    tok.TokenType,
			"expires_in":    int64(time.Until(tok.Expiry).Round(time.Second) / time.Second),
		})
	}
	tokens, err := issuer.GenerateTokens(ctx, user, c.Group)
	if err != nil {
		return err
	}
	return writeJSON(g.out, tokens)
}

func (c *issueCmd) user() (cognitox.User, error) {
	if c.Username == "" && len(c.Attr) == 0 {
		return cognitox.DefaultDevUser(), nil
	}
	attrs, err := parseAttributes(c.Attr)
	if err != nil {
		return cognitox.User{}, err
	}
	return cognitox.User{Username: c.Username, Attributes: attrs}, nil
}

type jwksCmd struct{}

func (c *jwksCmd) Run(g *app) error {
	if g.KeyFile == "" {
		return errors.New("--key-file is required to publish a JWKS")
	}
	keys, err := g.keyProvider()
	if err != nil {
		return err
	}
	key, err := keys.SigningKey(context.Background())
	if err != nil {
		return err
	}
	set, err := cognitox.PublicKeySet(key)
	if err != nil {
		return err
	}
	return writeJSON(g.out, set)
}

type verifyCmd struct {
	PoolFlags

	Token   string        `kong:"arg,env='COGNITO_TOKEN',help='token to verify'"`
	Use     string        `kong:"name='use',enum='access,id,refresh',default='access'"`
	JWKSURL string        `kong:"name='jwks-url',env='COGNITO_JWKS_URL',help='remote JWKS; the key file is used when empty'"`
	Timeout time.Duration `kong:"name='timeout',default='5s'"`
}

func (c *verifyCmd) Run(g *app) error {
	vcfg := cognitox.ValidatorConfig{
		Issuer:      c.config().Issuer(),
		ClientID:    c.ClientID,
		JWKSURL:     c.JWKSURL,
		HTTPTimeout: c.Timeout,
	}
	if c.JWKSURL == "" {
		if g.KeyFile == "" {
			return errors.New("either --jwks-url or --key-file is required")
		}
		keys, err := g.keyProvider()
		if err != nil {
			return err
		}
		key, err := keys.SigningKey(context.Background())
		if err != nil {
			return err
		}
		if vcfg.KeySet, err = cognitox.PublicKeySet(key); err != nil {
			return err
		}
	}

	validator, err := cognitox.NewValidator(vcfg)
	if err != nil {
		return fmt.Errorf("create validator: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	if err := validator.Warmup(ctx); err != nil {
		g.logger.Warn("jwks warmup failed", zap.Error(err))
	}

	claims, err := validator.Validate(ctx, c.Token, cognitox.TokenUse(c.Use))
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	printClaims(g.out, claims)
	return nil
}

func (g *app) keyProvider() (cognitox.KeyProvider, error) {
	if g.KeyFile != "" {
		return &cognitox.FileKeyProvider{Path: g.KeyFile, Algorithm: g.KeyAlg, KeyID: g.KeyID}, nil
	}
	key, err := cognitox.NewDevSigningKey(g.KeyID)
	if err != nil {
		return nil, err
	}
	g.logger.Info("using ephemeral signing key", zap.String("kid", key.KeyID))
	return cognitox.StaticKeyProvider{Key: key}, nil
}

func main() {
	// The env file feeds flag defaults, so it is read before parsing with a
	// stderr logger that ignores --debug.
	boot, err := newLogger(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: build logger: %v\n", err)
		os.Exit(1)
	}
	envPath := defaultEnvPath()
	if err := loadEnvFile(envPath, boot); err != nil {
		boot.Warn("load env file", zap.String("path", envPath), zap.Error(err))
	}
	_ = boot.Sync()

	kc := kong.Parse(&cli,
		kong.Name("cognito-tokens"),
		kong.Description("Issue and verify Cognito user pool shaped tokens for local testing."),
	)

	logger, err := newLogger(cli.Debug)
	kc.FatalIfErrorf(err)
	defer func() { _ = logger.Sync() }()

	kc.FatalIfErrorf(kc.Run(&app{Globals: &cli.Globals, out: os.Stdout, logger: logger}))
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func defaultEnvPath() string {
	if path := os.Getenv("COGNITOX_ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}

func parseAttributes(pairs []string) ([]cognitox.Attribute, error) {
	attrs := make([]cognitox.Attribute, 0, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("attribute %q must be name=value", pair)
		}
		attrs = append(attrs, cognitox.Attribute{Name: name, Value: value})
	}
	return attrs, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printClaims(w io.Writer, claims *cognitox.Claims) {
	fmt.Fprintln(w, "== Token Verified ==")
	fmt.Fprintf(w, "token_use    : %s\n", claims.TokenUse)
	fmt.Fprintf(w, "subject      : %s\n", claims.Subject)
	fmt.Fprintf(w, "username     : %s\n", claims.Username)
	fmt.Fprintf(w, "issuer       : %s\n", claims.Issuer)
	fmt.Fprintf(w, "audience     : %s\n", claims.Audience)
	if claims.Email != "" {
		fmt.Fprintf(w, "email        : %s (verified=%t)\n", claims.Email, claims.EmailVerified)
	}
	if len(claims.Groups) > 0 {
		fmt.Fprintf(w, "groups       : %s\n", strings.Join(claims.Groups, ", "))
	}
	if claims.EventID != "" {
		fmt.Fprintf(w, "event_id     : %s\n", claims.EventID)
	}
	if !claims.ExpiresAt.IsZero() {
		fmt.Fprintf(w, "expires_at   : %s\n", claims.ExpiresAt.Format(time.RFC3339))
	}
	if len(claims.CustomAttributes) > 0 {
		fmt.Fprintln(w, "custom_attributes:")
		for k, v := range claims.CustomAttributes {
			fmt.Fprintf(w, "  %s: %s\n", k, v)
		}
	}
}

func loadEnvFile(path string, logger *zap.Logger) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			logger.Warn("invalid env line", zap.Int("line", lineNum), zap.String("file", filepath.Base(path)))
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		if _, present := os.LookupEnv(key); present {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			logger.Warn("set env", zap.String("key", key), zap.Error(err))
		}
	}
	return scanner.Err()
}
