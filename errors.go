package cognitox

import "fmt"

// ErrorCode represents issuer and validator error categories.
type ErrorCode string

const (
	ErrCodeSigning           ErrorCode = "signing_failed"
	ErrCodeKeyUnavailable    ErrorCode = "key_unavailable"
	ErrCodeInvalidExpiration ErrorCode = "invalid_expiration"
	ErrCodeInvalidToken      ErrorCode = "invalid_token"
	ErrCodeExpired           ErrorCode = "token_expired"
	ErrCodeNotYetValid       ErrorCode = "token_not_yet_valid"
	ErrCodeInvalidIssuer     ErrorCode = "invalid_issuer"
	ErrCodeInvalidAudience   ErrorCode = "invalid_audience"
	ErrCodeInvalidTokenUse   ErrorCode = "invalid_token_use"
	ErrCodeJWKSUnavailable   ErrorCode = "jwks_unavailable"
	ErrCodeInternal          ErrorCode = "internal_error"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeSigning:           "Signing failed",
	ErrCodeKeyUnavailable:    "Signing key unavailable",
	ErrCodeInvalidExpiration: "Invalid expiration",
	ErrCodeInvalidToken:      "Invalid token",
	ErrCodeExpired:           "Token expired",
	ErrCodeNotYetValid:       "Token not yet valid",
	ErrCodeInvalidIssuer:     "Invalid issuer",
	ErrCodeInvalidAudience:   "Invalid audience",
	ErrCodeInvalidTokenUse:   "Invalid token use",
	ErrCodeJWKSUnavailable:   "JWKS unavailable",
	ErrCodeInternal:          "Internal error",
}

// Error wraps issuer and validator errors with a stable code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}
