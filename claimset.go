package cognitox

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Optional is a value that may be absent from a claim set.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// Claim is a single named entry of a token payload.
type Claim struct {
	Name  string
	Value any
}

// ClaimSet is an insertion-ordered token payload. Entries are only ever
// appended or overwritten in place, so serialization order is stable.
type ClaimSet struct {
	claims []Claim
}

// Set adds the claim, overwriting an earlier value of the same name while
// keeping its original position.
func (c *ClaimSet) Set(name string, value any) {
	for i := range c.claims {
		if c.claims[i].Name == name {
			c.claims[i].Value = value
			return
		}
	}
	c.claims = append(c.claims, Claim{Name: name, Value: value})
}

// SetIf adds the claim only when cond holds.
func (c *ClaimSet) SetIf(cond bool, name string, value any) {
	if cond {
		c.Set(name, value)
	}
}

// SetOptional adds the claim only when the value is present.
func SetOptional[T any](c *ClaimSet, name string, value Optional[T]) {
	if v, ok := value.Get(); ok {
		c.Set(name, v)
	}
}

// Get returns the value of the named claim.
func (c ClaimSet) Get(name string) (any, bool) {
	for _, claim := range c.claims {
		if claim.Name == name {
			return claim.Value, true
		}
	}
	return nil, false
}

// Has reports whether the named claim is present.
func (c ClaimSet) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Len returns the number of claims.
func (c ClaimSet) Len() int {
	return len(c.claims)
}

// Names returns claim names in insertion order.
func (c ClaimSet) Names() []string {
	names := make([]string, 0, len(c.claims))
	for _, claim := range c.claims {
		names = append(names, claim.Name)
	}
	return names
}

// Claims returns a copy of the entries in insertion order.
func (c ClaimSet) Claims() []Claim {
	return append([]Claim(nil), c.claims...)
}

// MarshalJSON encodes the claims as an object in insertion order.
func (c ClaimSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, claim := range c.claims {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(claim.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(claim.Value)
		if err != nil {
			return nil, fmt.Errorf("claim %q: %w", claim.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
