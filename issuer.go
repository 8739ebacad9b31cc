package cognitox

import (
	"context"
	"errors"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AdminScope is the scope Cognito puts on access tokens from USER_PASSWORD_AUTH.
const AdminScope = "aws.cognito.signin.user.admin"

// RefreshAlgorithm is used for refresh tokens regardless of the configured key.
const RefreshAlgorithm = jwa.RS256

// Claim names used by Cognito user pool tokens.
const (
	ClaimAuthTime        = "auth_time"
	ClaimClientID        = "client_id"
	ClaimEventID         = "event_id"
	ClaimIssuedAt        = "iat"
	ClaimJWTID           = "jti"
	ClaimScope           = "scope"
	ClaimSubject         = "sub"
	ClaimTokenUse        = "token_use"
	ClaimUsername        = "username"
	ClaimCognitoUsername = "cognito:username"
	ClaimCognitoGroups   = "cognito:groups"
	ClaimEmail           = "email"
	ClaimEmailVerified   = "email_verified"
)

// TokenUse is the value of the token_use claim.
type TokenUse string

const (
	TokenUseAccess TokenUse = "access"
	TokenUseID     TokenUse = "id"
	// TokenUseRefresh never appears in a claim; it selects refresh checks in Validator.
	TokenUseRefresh TokenUse = "refresh"
)

// Tokens is the triple returned by InitiateAuth.
type Tokens struct {
	AccessToken  string `json:"AccessToken"`
	IdToken      string `json:"IdToken"`
	RefreshToken string `json:"RefreshToken"`
}

// Issuer mints Cognito-shaped token triples for a single user pool client.
// It holds no mutable state and is safe for concurrent use.
type Issuer struct {
	cfg  Config
	keys KeyProvider
}

// NewIssuer builds an issuer. Issuer config values are not validated.
func NewIssuer(cfg Config, keys KeyProvider) (*Issuer, error) {
	if keys == nil {
		return nil, errors.New("key provider is required")
	}
	cfg.normalize()
	return &Issuer{cfg: cfg, keys: keys}, nil
}

// Config returns the normalized configuration.
func (i *Issuer) Config() Config {
	return i.cfg
}

// GenerateTokens is a one-shot helper around NewIssuer and Issuer.GenerateTokens.
func GenerateTokens(ctx context.Context, cfg Config, keys KeyProvider, user User, groups []string) (*Tokens, error) {
	issuer, err := NewIssuer(cfg, keys)
	if err != nil {
		return nil, err
	}
	return issuer.GenerateTokens(ctx, user, groups)
}

// event holds values shared by all three tokens of one authentication.
type event struct {
	id       string
	issuedAt int64
	subject  Optional[string]
}

// GenerateTokens issues the access, id and refresh tokens for user. Either
// all three are returned or the first signer error is, unchanged.
func (i *Issuer) GenerateTokens(ctx context.Context, user User, groups []string) (*Tokens, error) {
	key, err := i.keys.SigningKey(ctx)
	if err != nil {
		return nil, err
	}

	ev := event{
		id:       i.cfg.NewID(),
		issuedAt: i.cfg.Now().Unix(),
		subject:  user.Attribute(ClaimSubject),
	}
	groups = append([]string(nil), groups...)
	access := i.accessClaims(ev, user, groups)
	id := i.idClaims(ev, user, groups)
	refresh := i.refreshClaims(ev, user)

	issuer := i.cfg.Issuer()
	var out Tokens
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tok, err := i.cfg.Signer.Sign(gctx, access, key, SignParams{
			Algorithm: key.Algorithm,
			Issuer:    issuer,
			ExpiresIn: FormatExpiration(i.cfg.AccessTokenValidity),
			KeyID:     key.KeyID,
		})
		out.AccessToken = tok
		return err
	})
	g.Go(func() error {
		tok, err := i.cfg.Signer.Sign(gctx, id, key, SignParams{
			Algorithm: key.Algorithm,
			Issuer:    issuer,
			ExpiresIn: FormatExpiration(i.cfg.IDTokenValidity),
			Audience:  i.cfg.UserPoolClientID,
			KeyID:     key.KeyID,
		})
		out.IdToken = tok
		return err
	})
	// Cognito refresh tokens are opaque encrypted blobs; this one is a
	// readable JWT for debugging only.
	g.Go(func() error {
		tok, err := i.cfg.Signer.Sign(gctx, refresh, key, SignParams{
			Algorithm: RefreshAlgorithm,
			Issuer:    issuer,
			ExpiresIn: FormatExpiration(i.cfg.RefreshTokenValidity),
		})
		out.RefreshToken = tok
		return err
	})
	if err := g.Wait(); err != nil {
		i.cfg.Logger.Warn("token signing failed",
			zap.String("event_id", ev.id),
			zap.String("username", user.Username),
			zap.Error(err),
		)
		return nil, err
	}

	i.cfg.Logger.Debug("issued token triple",
		zap.String("event_id", ev.id),
		zap.String("username", user.Username),
		zap.String("issuer", issuer),
		zap.Int("groups", len(groups)),
	)
	return &out, nil
}

func (i *Issuer) accessClaims(ev event, user User, groups []string) ClaimSet {
	var c ClaimSet
	c.Set(ClaimAuthTime, ev.issuedAt)
	c.Set(ClaimClientID, i.cfg.UserPoolClientID)
	c.Set(ClaimEventID, ev.id)
	c.Set(ClaimIssuedAt, ev.issuedAt)
	c.Set(ClaimJWTID, i.cfg.NewID())
	c.Set(ClaimScope, AdminScope)
	SetOptional(&c, ClaimSubject, ev.subject)
	c.Set(ClaimTokenUse, string(TokenUseAccess))
	c.Set(ClaimUsername, user.Username)
	c.SetIf(len(groups) > 0, ClaimCognitoGroups, groups)
	return c
}

func (i *Issuer) idClaims(ev event, user User, groups []string) ClaimSet {
	var c ClaimSet
	c.Set(ClaimCognitoUsername, user.Username)
	c.Set(ClaimAuthTime, ev.issuedAt)
	SetOptional(&c, ClaimEmail, user.Attribute(ClaimEmail))
	c.Set(ClaimEmailVerified, emailVerified(user.Attribute(ClaimEmailVerified), i.cfg.StrictEmailVerified))
	c.Set(ClaimEventID, ev.id)
	c.Set(ClaimIssuedAt, ev.issuedAt)
	c.Set(ClaimJWTID, i.cfg.NewID())
	SetOptional(&c, ClaimSubject, ev.subject)
	c.Set(ClaimTokenUse, string(TokenUseID))
	for _, a := range user.customAttributes() {
		c.Set(a.Name, a.Value)
	}
	c.SetIf(len(groups) > 0, ClaimCognitoGroups, groups)
	return c
}

func (i *Issuer) refreshClaims(ev event, user User) ClaimSet {
	var c ClaimSet
	c.Set(ClaimCognitoUsername, user.Username)
	SetOptional(&c, ClaimEmail, user.Attribute(ClaimEmail))
	c.Set(ClaimIssuedAt, ev.issuedAt)
	c.Set(ClaimJWTID, i.cfg.NewID())
	return c
}
