package auth

import (
	"encoding/json"
	"fmt"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// Identity is the ephemeral remote identity derived from the IdP response:
// the flat union of the userinfo payload and the decoded id_token claims.
// The claim set has a canonical JSON serialization so it can round-trip
// through the session store unambiguously.
type Identity struct {
	Claims map[string]any

	names ClaimNames
}

// NewIdentity wraps a merged claim set with the configured claim names.
func NewIdentity(claims map[string]any, names ClaimNames) Identity {
	return Identity{Claims: claims, names: names}
}

// DecodeIdentity restores an identity from its canonical JSON form.
func DecodeIdentity(data []byte, names ClaimNames) (Identity, error) {
	var claims map[string]any
	if err := json.Unmarshal(data, &claims); err != nil {
		return Identity{}, fmt.Errorf("decode cached identity: %w", err)
	}
	return NewIdentity(claims, names), nil
}

// Encode returns the canonical JSON form of the claim set.
func (i Identity) Encode() ([]byte, error) {
	data, err := json.Marshal(i.Claims)
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	return data, nil
}

// Claim evaluates a JMESPath expression over the claim set and returns the
// result, or nil when the expression does not match.
func (i Identity) Claim(expr string) any {
	if expr == "" || len(i.Claims) == 0 {
		return nil
	}
	v, err := jmespath.Search(expr, i.Claims)
	if err != nil {
		return nil
	}
	return v
}

// StringClaim returns the claim value as a string, or "" when absent or not
// a string.
func (i Identity) StringClaim(expr string) string {
	if s, ok := i.Claim(expr).(string); ok {
		return s
	}
	return ""
}

// Identifier returns the durable external identity key, or "" when the
// configured identifier claim is absent.
func (i Identity) Identifier() string {
	return i.StringClaim(i.names.Identifier)
}

// PrincipalName returns the configured principal-name claim, falling back
// to the identifier claim when the principal name is absent.
func (i Identity) PrincipalName() string {
	if s := i.StringClaim(i.names.PrincipalName); s != "" {
		return s
	}
	return i.Identifier()
}

// Roles returns the IdP role list. The configured roles claim is tried
// first, then its case-swapped variant ("roles" vs "Roles"), as providers
// disagree on the casing.
func (i Identity) Roles() []string {
	if roles := toStringSlice(i.Claim(i.names.Roles)); roles != nil {
		return roles
	}
	return toStringSlice(i.Claim(swapFirstCase(i.names.Roles)))
}

// HasRole reports whether the role list contains the given value.
func (i Identity) HasRole(role string) bool {
	if role == "" {
		return false
	}
	for _, r := range i.Roles() {
		if r == role {
			return true
		}
	}
	return false
}

// Email returns the standard email claim.
func (i Identity) Email() string { return i.StringClaim("email") }

// DisplayName returns the standard name claim.
func (i Identity) DisplayName() string { return i.StringClaim("name") }

// MergeClaims layers overlay on top of base; overlay values win on key
// collision. Either map may be nil.
func MergeClaims(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, e := range vals {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case string:
		if vals == "" {
			return nil
		}
		return []string{vals}
	default:
		return nil
	}
}

func swapFirstCase(name string) string {
	if name == "" {
		return name
	}
	head := name[:1]
	switch {
	case head >= "a" && head <= "z":
		return string(head[0]-'a'+'A') + name[1:]
	case head >= "A" && head <= "Z":
		return string(head[0]-'A'+'a') + name[1:]
	default:
		return name
	}
}
