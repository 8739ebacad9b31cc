package cognitox

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ValidityUnit is the unit of a TokenValidity.
type ValidityUnit string

const (
	Seconds ValidityUnit = "seconds"
	Minutes ValidityUnit = "minutes"
	Hours   ValidityUnit = "hours"
	Days    ValidityUnit = "days"
)

// TokenValidity is a token lifetime as configured on a user pool client.
type TokenValidity struct {
	Duration int          `json:"duration"`
	Unit     ValidityUnit `json:"unit"`
}

// String renders the validity, see FormatExpiration.
func (v TokenValidity) String() string {
	return FormatExpiration(v)
}

// FormatExpiration renders a validity as "<magnitude><unit>", e.g. "24hours".
// This is the expiresIn encoding handed to the signer.
func FormatExpiration(v TokenValidity) string {
	return strconv.Itoa(v.Duration) + string(v.Unit)
}

var (
	expirationPattern = regexp.MustCompile(`(?i)^(-?\d*\.?\d+) *([a-z]+)?$`)
	validityPattern   = regexp.MustCompile(`^(\d+) *(seconds|minutes|hours|days)$`)
)

var expirationUnits = map[string]float64{
	"years": 365.25 * 24 * 3600 * 1000, "year": 365.25 * 24 * 3600 * 1000, "yrs": 365.25 * 24 * 3600 * 1000, "yr": 365.25 * 24 * 3600 * 1000, "y": 365.25 * 24 * 3600 * 1000,
	"weeks": 7 * 24 * 3600 * 1000, "week": 7 * 24 * 3600 * 1000, "w": 7 * 24 * 3600 * 1000,
	"days": 24 * 3600 * 1000, "day": 24 * 3600 * 1000, "d": 24 * 3600 * 1000,
	"hours": 3600 * 1000, "hour": 3600 * 1000, "hrs": 3600 * 1000, "hr": 3600 * 1000, "h": 3600 * 1000,
	"minutes": 60 * 1000, "minute": 60 * 1000, "mins": 60 * 1000, "min": 60 * 1000, "m": 60 * 1000,
	"seconds": 1000, "second": 1000, "secs": 1000, "sec": 1000, "s": 1000,
	"milliseconds": 1, "millisecond": 1, "msecs": 1, "msec": 1, "ms": 1,
}

// ParseExpiration converts an expiresIn string into a duration. It accepts
// the "<number><unit>" grammar produced by FormatExpiration along with the
// short unit forms (ms, s, m, h, d, w, y). A number without a unit is read
// as milliseconds.
func ParseExpiration(s string) (time.Duration, error) {
	if s == "" || len(s) > 100 {
		return 0, newError(ErrCodeInvalidExpiration, fmt.Errorf("expiresIn %q has invalid length", s))
	}
	m := expirationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, newError(ErrCodeInvalidExpiration, fmt.Errorf("expiresIn %q is not a timespan", s))
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, newError(ErrCodeInvalidExpiration, err)
	}
	factor := 1.0
	if m[2] != "" {
		f, ok := expirationUnits[strings.ToLower(m[2])]
		if !ok {
			return 0, newError(ErrCodeInvalidExpiration, fmt.Errorf("expiresIn %q has unknown unit %q", s, m[2]))
		}
		factor = f
	}
	ms := n * factor
	if math.Abs(ms) > float64(math.MaxInt64/int64(time.Millisecond)) {
		return 0, newError(ErrCodeInvalidExpiration, fmt.Errorf("expiresIn %q overflows", s))
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

// ParseTokenValidity parses the FormatExpiration form back into a validity.
func ParseTokenValidity(s string) (TokenValidity, error) {
	m := validityPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return TokenValidity{}, fmt.Errorf("validity %q must look like 24hours or 7days", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return TokenValidity{}, fmt.Errorf("validity %q: %w", s, err)
	}
	return TokenValidity{Duration: n, Unit: ValidityUnit(m[2])}, nil
}
