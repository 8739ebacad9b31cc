package cognitox

import (
	"strconv"
	"strings"
)

const customAttributePrefix = "custom:"

// Attribute is a single user pool attribute such as sub, email or custom:tier.
type Attribute struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// User is the user record tokens are issued for. Attribute order is kept
// as supplied.
type User struct {
	Username   string      `json:"Username"`
	Attributes []Attribute `json:"Attributes,omitempty"`
}

// Attribute returns the value of the first attribute with the given name.
func (u User) Attribute(name string) Optional[string] {
	for _, a := range u.Attributes {
		if a.Name == name {
			return Some(a.Value)
		}
	}
	return None[string]()
}

// customAttributes returns custom: attributes in order; duplicates are left
// for ClaimSet.Set to resolve, so the last one wins.
func (u User) customAttributes() []Attribute {
	var out []Attribute
	for _, a := range u.Attributes {
		if strings.HasPrefix(a.Name, customAttributePrefix) {
			out = append(out, a)
		}
	}
	return out
}

// emailVerified coerces the stored attribute the way Cognito test doubles
// historically did: missing or empty is false, any other string is true,
// including "false". strict switches to strconv.ParseBool.
func emailVerified(value Optional[string], strict bool) bool {
	v, ok := value.Get()
	if !ok {
		return false
	}
	if strict {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	}
	return v != ""
}
