package cognitox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"
)

const (
	defaultClockSkew   = 30 * time.Second
	defaultMinRefresh  = 5 * time.Minute
	defaultHTTPTimeout = 5 * time.Second
)

var (
	defaultIDValidity      = TokenValidity{Duration: 24, Unit: Hours}
	defaultAccessValidity  = TokenValidity{Duration: 24, Unit: Hours}
	defaultRefreshValidity = TokenValidity{Duration: 7, Unit: Days}
)

// Config describes the user pool the issued tokens claim to come from.
type Config struct {
	IssuerDomain     string
	UserPoolID       string
	UserPoolClientID string

	IDTokenValidity      TokenValidity
	AccessTokenValidity  TokenValidity
	RefreshTokenValidity TokenValidity

	// StrictEmailVerified parses the email_verified attribute with
	// strconv.ParseBool instead of treating any non-empty value as true.
	StrictEmailVerified bool

	Signer Signer
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string
}

// Issuer returns the iss claim shared by all three tokens.
// Empty parts are not rejected: an empty domain yields "/<pool>".
func (c Config) Issuer() string {
	return c.IssuerDomain + "/" + c.UserPoolID
}

// normalize sets default values for optional fields.
func (c *Config) normalize() {
	if c.IDTokenValidity.Duration <= 0 {
		c.IDTokenValidity = defaultIDValidity
	}
	if c.AccessTokenValidity.Duration <= 0 {
		c.AccessTokenValidity = defaultAccessValidity
	}
	if c.RefreshTokenValidity.Duration <= 0 {
		c.RefreshTokenValidity = defaultRefreshValidity
	}
	if c.Signer == nil {
		c.Signer = JWXSigner{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
}

// ValidatorConfig contains verification parameters for a single user pool.
type ValidatorConfig struct {
	// Issuer is the expected iss claim, usually Config.Issuer().
	Issuer   string
	ClientID string

	// Exactly one of JWKSURL and KeySet must be provided.
	JWKSURL string
	KeySet  jwk.Set

	ClockSkew   time.Duration
	MinRefresh  time.Duration
	HTTPTimeout time.Duration
}

// normalize sets default values for optional fields.
func (c *ValidatorConfig) normalize() {
	if c.ClockSkew <= 0 {
		c.ClockSkew = defaultClockSkew
	}
	if c.MinRefresh <= 0 {
		c.MinRefresh = defaultMinRefresh
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
}

// validate ensures the validator configuration is usable.
func (c ValidatorConfig) validate() error {
	switch {
	case c.Issuer == "":
		return errors.New("issuer claim expected value is required")
	case c.ClientID == "":
		return errors.New("client id is required")
	case c.JWKSURL == "" && c.KeySet == nil:
		return errors.New("either jwks url or key set is required")
	case c.JWKSURL != "" && c.KeySet != nil:
		return errors.New("jwks url and key set are mutually exclusive")
	}
	return nil
}
