package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNames() ClaimNames {
	return ClaimNames{
		Identifier:    "sub",
		PrincipalName: "preferred_username",
		Roles:         "roles",
	}
}

func TestIdentity_BasicClaims(t *testing.T) {
	identity := NewIdentity(map[string]any{
		"sub":                "user-1",
		"preferred_username": "Jane.Editor",
		"email":              "jane@example.com",
		"name":               "Jane Editor",
	}, testNames())

	assert.Equal(t, "user-1", identity.Identifier())
	assert.Equal(t, "Jane.Editor", identity.PrincipalName())
	assert.Equal(t, "jane@example.com", identity.Email())
	assert.Equal(t, "Jane Editor", identity.DisplayName())
}

func TestIdentity_PrincipalNameFallsBackToIdentifier(t *testing.T) {
	identity := NewIdentity(map[string]any{"sub": "user-1"}, testNames())

	assert.Equal(t, "user-1", identity.PrincipalName())
}

func TestIdentity_RolesCaseSwapFallback(t *testing.T) {
	identity := NewIdentity(map[string]any{
		"Roles": []any{"editors", "staff"},
	}, testNames())

	assert.Equal(t, []string{"editors", "staff"}, identity.Roles())
	assert.True(t, identity.HasRole("staff"))
	assert.False(t, identity.HasRole("admins"))
}

func TestIdentity_ScalarRoleClaim(t *testing.T) {
	identity := NewIdentity(map[string]any{"roles": "editors"}, testNames())

	assert.Equal(t, []string{"editors"}, identity.Roles())
}

func TestIdentity_JMESPathClaimExpression(t *testing.T) {
	names := testNames()
	names.Roles = "realm_access.roles"
	identity := NewIdentity(map[string]any{
		"realm_access": map[string]any{"roles": []any{"cms-admin"}},
	}, names)

	assert.Equal(t, []string{"cms-admin"}, identity.Roles())
}

func TestIdentity_EncodeDecodeRoundTrip(t *testing.T) {
	original := NewIdentity(map[string]any{
		"sub":   "user-1",
		"roles": []any{"editors"},
	}, testNames())

	encoded, err := original.Encode()
	require.NoError(t, err)

	restored, err := DecodeIdentity(encoded, testNames())
	require.NoError(t, err)
	assert.Equal(t, "user-1", restored.Identifier())
	assert.Equal(t, []string{"editors"}, restored.Roles())
}

func TestDecodeIdentity_RejectsMalformedPayload(t *testing.T) {
	_, err := DecodeIdentity([]byte("{not json"), testNames())

	assert.Error(t, err)
}

func TestMergeClaims_OverlayWins(t *testing.T) {
	merged := MergeClaims(
		map[string]any{"email": "userinfo@example.com", "name": "From Userinfo"},
		map[string]any{"email": "token@example.com"},
	)

	assert.Equal(t, "token@example.com", merged["email"])
	assert.Equal(t, "From Userinfo", merged["name"])
}

func TestMergeClaims_NilMaps(t *testing.T) {
	assert.Empty(t, MergeClaims(nil, nil))
	assert.Equal(t, "a", MergeClaims(map[string]any{"k": "a"}, nil)["k"])
	assert.Equal(t, "b", MergeClaims(nil, map[string]any{"k": "b"})["k"])
}
